package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

// DefaultIPAPIURL is the free ip-api.com endpoint. The batch endpoint takes
// at most 100 addresses per request.
const DefaultIPAPIURL = "http://ip-api.com"

const (
	ipAPIMaxBatch  = 100
	ipAPIFields    = "status,message,country,city,lat,lon,query"
	ipAPIBodyLimit = 1 << 20
)

// IPAPIProvider resolves addresses through the ip-api.com batch endpoint.
type IPAPIProvider struct {
	baseURL string
	client  *http.Client
	logger  *pterm.Logger
}

type ipAPIResult struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Query   string  `json:"query"`
}

// NewIPAPIProvider creates a provider for baseURL (DefaultIPAPIURL when
// empty). timeout bounds each batch request.
func NewIPAPIProvider(baseURL string, timeout time.Duration, logger *pterm.Logger) *IPAPIProvider {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IPAPIProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// LookupBatch posts ips to /batch. Addresses ip-api reports as private or
// reserved map to the private sentinel, other per-address failures to unknown.
func (p *IPAPIProvider) LookupBatch(ctx context.Context, ips []string) (map[string]Location, error) {
	if len(ips) == 0 {
		return map[string]Location{}, nil
	}
	if len(ips) > ipAPIMaxBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", ErrLookupFailed, len(ips), ipAPIMaxBatch)
	}

	body, err := json.Marshal(ips)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	url := p.baseURL + "/batch?fields=" + ipAPIFields
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var results []ipAPIResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, ipAPIBodyLimit)).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrLookupFailed, err)
	}

	locations := make(map[string]Location, len(results))
	for _, r := range results {
		if r.Query == "" {
			continue
		}
		locations[r.Query] = r.location()
	}

	p.logger.Trace("ip-api batch resolved",
		p.logger.Args("requested", len(ips), "resolved", len(locations)))

	return locations, nil
}

func (r ipAPIResult) location() Location {
	if r.Status != "success" {
		msg := strings.ToLower(r.Message)
		if strings.Contains(msg, "private range") || strings.Contains(msg, "reserved range") {
			return private()
		}
		return unknown()
	}
	if r.Country == "" {
		return unknown()
	}
	return Location{Country: r.Country, City: r.City, Latitude: r.Lat, Longitude: r.Lon}
}
