package traefik

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"traefiklens/internal/logrecord"

	"github.com/pterm/pterm"
)

// LogFormat represents the format of Traefik logs
type LogFormat int

const (
	// FormatUnknown represents an unknown log format
	FormatUnknown LogFormat = iota
	// FormatJSON represents JSON formatted logs
	FormatJSON
	// FormatCLF represents Common Log Format (text) logs
	FormatCLF
)

func (f LogFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCLF:
		return "clf"
	default:
		return "unknown"
	}
}

// ErrUnrecognizedLine is returned for lines that are neither Traefik JSON nor CLF.
// Callers drop such lines.
var ErrUnrecognizedLine = errors.New("unrecognized log line")

// Traefik CLF:
// <client> - <userid> [<datetime>] "<method> <path> <protocol>" <status> <size> "<referer>" "<user_agent>" <requestCount> "<router>" "<serviceURL>" <duration>ms
const traefikCLFPattern = `^(\S+) - (\S+) \[([^\]]+)\] "(\S+) (\S+) (\S+)" (\d+) (\d+) "([^"]*)" "([^"]*)" (\d+) "([^"]*)" "([^"]*)" (\d+)ms`

const clfTimeLayout = "02/Jan/2006:15:04:05 -0700"

// Header-carrying JSON keys that map onto fixed record fields instead of the
// header side map.
var headerBackedFields = map[string]bool{
	"User-Agent": true,
	"Referer":    true,
}

// Parser turns Traefik access-log lines into records
type Parser struct {
	logger   *pterm.Logger
	clfRegex *regexp.Regexp
}

// NewParser creates a new Traefik parser instance
func NewParser(logger *pterm.Logger) *Parser {
	return &Parser{
		logger:   logger,
		clfRegex: regexp.MustCompile(traefikCLFPattern),
	}
}

// Name returns the parser identifier
func (p *Parser) Name() string {
	return "traefik"
}

// CanParse checks if the log line is in Traefik JSON or CLF format
func (p *Parser) CanParse(line string) bool {
	return p.detectFormat(line) != FormatUnknown
}

// detectFormat tries JSON first for lines starting with '{' and falls back to CLF
func (p *Parser) detectFormat(line string) LogFormat {
	line = strings.TrimSpace(line)
	if line == "" {
		return FormatUnknown
	}

	if line[0] == '{' && json.Valid([]byte(line)) {
		return FormatJSON
	}

	if p.clfRegex.MatchString(line) {
		return FormatCLF
	}

	return FormatUnknown
}

// Parse parses a Traefik log line (JSON or CLF format) into a record
func (p *Parser) Parse(line string) (*logrecord.Record, error) {
	line = strings.TrimSpace(line)

	switch p.detectFormat(line) {
	case FormatJSON:
		rec, err := p.parseJSON(line)
		if err == nil {
			return rec, nil
		}
		// A JSON-looking line that is not an object can still be CLF.
		if p.clfRegex.MatchString(line) {
			return p.parseCLF(line)
		}
		return nil, err
	case FormatCLF:
		return p.parseCLF(line)
	default:
		p.logger.Trace("Dropping unrecognized log line", p.logger.Args("line_preview", preview(line)))
		return nil, ErrUnrecognizedLine
	}
}

// ParseLines parses a batch of lines, dropping the ones that do not parse.
// Records are returned in input order.
func (p *Parser) ParseLines(lines []string) (records []logrecord.Record, dropped int) {
	records = make([]logrecord.Record, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := p.Parse(line)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, *rec)
	}

	if dropped > 0 {
		p.logger.Debug("Dropped unparseable log lines",
			p.logger.Args("dropped", dropped, "parsed", len(records)))
	}
	return records, dropped
}

// parseJSON parses a Traefik JSON log line
func (p *Parser) parseJSON(line string) (*logrecord.Record, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		p.logger.Trace("Failed to parse JSON log line", p.logger.Args("error", err))
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	rec := &logrecord.Record{
		ClientAddr:            getString(raw, "ClientAddr"),
		ClientHost:            getString(raw, "ClientHost"),
		ClientPort:            getString(raw, "ClientPort"),
		ClientUsername:        getString(raw, "ClientUsername"),
		DownstreamContentSize: getInt64(raw, "DownstreamContentSize"),
		DownstreamStatus:      getInt(raw, "DownstreamStatus"),
		Duration:              getInt64(raw, "Duration"),
		OriginContentSize:     getInt64(raw, "OriginContentSize"),
		OriginDuration:        getInt64(raw, "OriginDuration"),
		OriginStatus:          getInt(raw, "OriginStatus"),
		Overhead:              getInt64(raw, "Overhead"),
		RequestAddr:           getString(raw, "RequestAddr"),
		RequestContentSize:    getInt64(raw, "RequestContentSize"),
		RequestCount:          getInt(raw, "RequestCount"),
		RequestHost:           getString(raw, "RequestHost"),
		RequestMethod:         strings.ToUpper(getString(raw, "RequestMethod")),
		RequestPath:           getString(raw, "RequestPath"),
		RequestPort:           getString(raw, "RequestPort"),
		RequestProtocol:       getString(raw, "RequestProtocol"),
		RequestScheme:         getString(raw, "RequestScheme"),
		RetryAttempts:         getInt(raw, "RetryAttempts"),
		RouterName:            getString(raw, "RouterName"),
		ServiceAddr:           getString(raw, "ServiceAddr"),
		ServiceName:           getString(raw, "ServiceName"),
		ServiceURL:            getString(raw, "ServiceURL"),
		StartLocal:            getString(raw, "StartLocal"),
		StartUTC:              getString(raw, "StartUTC"),
		EntryPointName:        getString(raw, "entryPointName"),
		Headers:               logrecord.Headers{},
	}

	// Some Traefik setups only emit the custom "time" field
	if rec.StartUTC == "" {
		if t := parseTime(raw["time"]); !t.IsZero() {
			rec.StartUTC = t.UTC().Format(time.RFC3339Nano)
		}
	}

	if rec.ClientHost == "" && rec.ClientAddr != "" {
		host, port := parseClientHost(rec.ClientAddr)
		rec.ClientHost = host
		if rec.ClientPort == "" && port != 0 {
			rec.ClientPort = strconv.Itoa(port)
		}
	}

	for key := range raw {
		name, ok := strings.CutPrefix(key, "request_")
		if !ok || name == "" {
			continue
		}
		value := getString(raw, key)
		canonical := logrecord.CanonicalHeader(name)
		switch {
		case !headerBackedFields[canonical]:
			rec.Headers.Set(canonical, value)
		case canonical == "User-Agent":
			rec.RequestUserAgent = value
		case canonical == "Referer":
			rec.RequestReferer = value
		}
	}

	if rec.ClientHost == "" {
		p.logger.Trace("JSON log line has no client address",
			p.logger.Args("hint", "Traefik JSON logs carry ClientHost or ClientAddr"))
	}

	p.logger.Trace("Successfully parsed Traefik JSON log",
		p.logger.Args(
			"start_utc", rec.StartUTC,
			"client_host", rec.ClientHost,
			"method", rec.RequestMethod,
			"path", rec.RequestPath,
			"status", rec.DownstreamStatus,
		))

	return rec, nil
}

// parseCLF parses a Traefik Common Log Format line
func (p *Parser) parseCLF(line string) (*logrecord.Record, error) {
	matches := p.clfRegex.FindStringSubmatch(line)
	if len(matches) < 15 {
		return nil, ErrUnrecognizedLine
	}

	clientAddr := matches[1]
	username := matches[2]
	timestampStr := matches[3]
	method := matches[4]
	requestPath := matches[5]
	protocol := matches[6]
	statusStr := matches[7]
	sizeStr := matches[8]
	referer := matches[9]
	userAgent := matches[10]
	countStr := matches[11]
	routerName := matches[12]
	serviceURL := matches[13]
	durationStr := matches[14]

	var startUTC, startLocal string
	if ts, err := time.Parse(clfTimeLayout, timestampStr); err == nil {
		startUTC = ts.UTC().Format(time.RFC3339Nano)
		startLocal = ts.Format(time.RFC3339Nano)
	} else {
		// Record is still counted, it just has no timestamp
		p.logger.Trace("Failed to parse CLF timestamp",
			p.logger.Args("timestamp", timestampStr, "error", err))
	}

	host, port := parseClientHost(clientAddr)
	status, _ := strconv.Atoi(statusStr)
	size, _ := strconv.ParseInt(sizeStr, 10, 64)
	count, _ := strconv.Atoi(countStr)
	durationMs, _ := strconv.ParseInt(durationStr, 10, 64)

	rec := &logrecord.Record{
		ClientAddr:            clientAddr,
		ClientHost:            host,
		ClientUsername:        dashToEmpty(username),
		DownstreamContentSize: size,
		DownstreamStatus:      status,
		Duration:              durationMs * int64(time.Millisecond),
		RequestCount:          count,
		RequestMethod:         strings.ToUpper(method),
		RequestPath:           requestPath,
		RequestProtocol:       protocol,
		RouterName:            dashToEmpty(routerName),
		ServiceURL:            dashToEmpty(serviceURL),
		StartLocal:            startLocal,
		StartUTC:              startUTC,
		RequestReferer:        dashToEmpty(referer),
		RequestUserAgent:      dashToEmpty(userAgent),
		Headers:               logrecord.Headers{},
	}
	if port != 0 {
		rec.ClientPort = strconv.Itoa(port)
	}

	p.logger.Trace("Successfully parsed Traefik CLF log",
		p.logger.Args(
			"start_utc", rec.StartUTC,
			"client_host", rec.ClientHost,
			"method", rec.RequestMethod,
			"path", rec.RequestPath,
			"status", rec.DownstreamStatus,
		))

	return rec, nil
}

// Helper functions

func dashToEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

func preview(line string) string {
	if len(line) > 150 {
		return line[:150] + "..."
	}
	return line
}

// getString safely extracts a string value from the map
func getString(m map[string]any, key string) string {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// getInt safely extracts an integer value from the map
func getInt(m map[string]any, key string) int {
	return int(getInt64(m, key))
}

// getInt64 safely extracts an int64 value from the map
func getInt64(m map[string]any, key string) int64 {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case float64:
			return int64(v)
		case string:
			n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			return n
		}
	}
	return 0
}

// parseTime parses the time formats found in Traefik logs
func parseTime(val any) time.Time {
	str, ok := val.(string)
	if !ok || str == "" {
		return time.Time{}
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, clfTimeLayout} {
		if t, err := time.Parse(layout, str); err == nil {
			return t
		}
	}

	return time.Time{}
}

// parseClientHost extracts IP and port from an address
// Format can be: "192.168.1.1:12345" or "[2001:db8::1]:12345" or "192.168.1.1"
func parseClientHost(clientHost string) (ip string, port int) {
	if clientHost == "" {
		return "", 0
	}

	host, portStr, err := net.SplitHostPort(clientHost)
	if err != nil {
		return strings.Trim(clientHost, "[]"), 0
	}

	port, _ = strconv.Atoi(portStr)
	return host, port
}
