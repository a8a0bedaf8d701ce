// Package agent talks to a remote Traefik log agent over its HTTP API.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

// Position values understood by the agent.
const (
	// PositionTail asks for the last lines of the file.
	PositionTail int64 = -1
	// PositionTracked lets the agent resume from the position it tracks.
	PositionTracked int64 = -2
)

const (
	DefaultStatusTimeout = 5 * time.Second
	defaultFetchTimeout  = 30 * time.Second
	maxResponseBytes     = 64 << 20
)

var (
	ErrUnauthorized = errors.New("agent rejected the token")
	ErrNoURL        = errors.New("agent url is not configured")
)

// Position is a read offset within one log file on the agent.
type Position struct {
	Position int64  `json:"position"`
	Filename string `json:"filename,omitempty"`
}

// LogResult is the agent's answer to a log fetch.
type LogResult struct {
	Logs      []string   `json:"logs"`
	Positions []Position `json:"positions,omitempty"`
}

// NextPosition returns the offset to resume from, or fallback when the
// agent sent none.
func (r *LogResult) NextPosition(fallback int64) int64 {
	if len(r.Positions) == 0 {
		return fallback
	}
	return r.Positions[0].Position
}

// Status is the outcome of a status check. Offline agents carry the reason
// in Error.
type Status struct {
	Online    bool           `json:"online"`
	Version   string         `json:"version,omitempty"`
	Uptime    float64        `json:"uptime,omitempty"`
	Error     string         `json:"error,omitempty"`
	AgentInfo map[string]any `json:"agentInfo,omitempty"`
}

// Client calls one agent.
type Client struct {
	baseURL       string
	token         string
	http          *http.Client
	statusTimeout time.Duration
	logger        *pterm.Logger
}

// NewClient creates a client for the agent at baseURL. statusTimeout bounds
// CheckStatus; zero means DefaultStatusTimeout.
func NewClient(baseURL, token string, statusTimeout time.Duration, logger *pterm.Logger) *Client {
	if statusTimeout <= 0 {
		statusTimeout = DefaultStatusTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		http:          &http.Client{Timeout: defaultFetchTimeout},
		statusTimeout: statusTimeout,
		logger:        logger,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// FetchAccessLogs reads up to lines access log lines starting at position.
func (c *Client) FetchAccessLogs(ctx context.Context, position int64, lines int) (*LogResult, error) {
	query := url.Values{}
	query.Set("position", strconv.FormatInt(position, 10))
	query.Set("lines", strconv.Itoa(lines))

	resp, err := c.get(ctx, "/api/logs/access?"+query.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var result LogResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode access logs: %w", err)
	}

	c.logger.Trace("Fetched access logs",
		c.logger.Args("agent", c.baseURL, "position", position, "lines", len(result.Logs)))

	return &result, nil
}

// CheckStatus asks the agent for its status. It never returns an error:
// failures, including the hard timeout, are reported as an offline Status.
func (c *Client) CheckStatus(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	resp, err := c.get(ctx, "/api/logs/status")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Status{Online: false, Error: "Connection timeout"}
		}
		return Status{Online: false, Error: "Connection failed: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Status{Online: false, Error: fmt.Sprintf("Agent returned %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))}
	}

	var info map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&info); err != nil {
		return Status{Online: false, Error: "Invalid status response: " + err.Error()}
	}

	status := Status{Online: true, Version: "unknown", AgentInfo: info}
	if v, ok := info["version"].(string); ok && v != "" {
		status.Version = v
	}
	if u, ok := info["uptime"].(float64); ok {
		status.Uptime = u
	}
	return status
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, ErrNoURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	return resp, nil
}

func checkResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
