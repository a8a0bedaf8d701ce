package traefik

import (
	"testing"
	"time"

	"github.com/pterm/pterm"
)

func TestParser_CanParse_JSON(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	jsonLog := `{"ClientHost":"103.4.250.66","DownstreamStatus":200,"Duration":299425702,"RequestMethod":"GET","RequestPath":"/","ServiceName":"next-service@file","StartUTC":"2025-10-25T21:11:49Z"}`

	if !parser.CanParse(jsonLog) {
		t.Error("Expected parser to accept JSON log format")
	}
}

func TestParser_CanParse_TraefikCLF(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	clfLog := `192.168.1.100 - - [15/May/2025:12:06:30 +0000] "GET /api/endpoint HTTP/1.1" 200 1024 "https://example.com" "Mozilla/5.0" 42 "my-router" "http://backend:8080" 150ms`

	if !parser.CanParse(clfLog) {
		t.Error("Expected parser to accept Traefik CLF format")
	}
}

func TestParser_CanParse_Invalid(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	tests := []string{
		"",
		"invalid log line",
		"192.168.1.1 - just some random text",
		`{"ClientHost": "1.2.3.4"`,
		// CLF without the Traefik trailer is not accepted
		`192.168.1.100 - - [15/May/2025:12:06:30 +0000] "GET /api HTTP/1.1" 200 1024 "-" "Mozilla"`,
	}

	for _, tc := range tests {
		if parser.CanParse(tc) {
			t.Errorf("Expected parser to reject invalid log: %q", tc)
		}
	}
}

func TestParser_ParseJSON(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	jsonLog := `{"ClientAddr":"103.4.250.66:52311","ClientHost":"103.4.250.66","ClientPort":"52311","DownstreamContentSize":31869,"DownstreamStatus":200,"Duration":299425702,"OriginDuration":299000000,"OriginStatus":200,"RequestAddr":"example.com","RequestHost":"example.com","RequestMethod":"get","RequestPath":"/test?redirect=https://example.com","RequestProtocol":"HTTP/1.1","RequestScheme":"https","RetryAttempts":1,"RouterName":"web@docker","ServiceName":"next-service@file","ServiceURL":"http://10.0.0.5:3000","StartUTC":"2025-10-25T21:11:49.123Z","entryPointName":"websecure","request_User-Agent":"Mozilla/5.0 (Test)","request_Referer":"https://referrer.com","request_X-Real-Ip":"103.4.250.66","request_Cf-Connecting-Ip":"198.51.100.4"}`

	rec, err := parser.Parse(jsonLog)
	if err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if rec.ClientHost != "103.4.250.66" {
		t.Errorf("Expected ClientHost '103.4.250.66', got '%s'", rec.ClientHost)
	}
	if rec.ClientPort != "52311" {
		t.Errorf("Expected ClientPort '52311', got '%s'", rec.ClientPort)
	}
	if rec.RequestMethod != "GET" {
		t.Errorf("Expected RequestMethod 'GET', got '%s'", rec.RequestMethod)
	}
	if rec.RequestPath != "/test?redirect=https://example.com" {
		t.Errorf("Expected RequestPath with query, got '%s'", rec.RequestPath)
	}
	if rec.DownstreamStatus != 200 {
		t.Errorf("Expected DownstreamStatus 200, got %d", rec.DownstreamStatus)
	}
	if rec.DownstreamContentSize != 31869 {
		t.Errorf("Expected DownstreamContentSize 31869, got %d", rec.DownstreamContentSize)
	}
	if rec.Duration != 299425702 {
		t.Errorf("Expected Duration 299425702, got %d", rec.Duration)
	}
	if rec.RetryAttempts != 1 {
		t.Errorf("Expected RetryAttempts 1, got %d", rec.RetryAttempts)
	}
	if rec.RouterName != "web@docker" {
		t.Errorf("Expected RouterName 'web@docker', got '%s'", rec.RouterName)
	}
	if rec.ServiceURL != "http://10.0.0.5:3000" {
		t.Errorf("Expected ServiceURL 'http://10.0.0.5:3000', got '%s'", rec.ServiceURL)
	}
	if rec.EntryPointName != "websecure" {
		t.Errorf("Expected EntryPointName 'websecure', got '%s'", rec.EntryPointName)
	}
	if rec.RequestUserAgent != "Mozilla/5.0 (Test)" {
		t.Errorf("Expected RequestUserAgent 'Mozilla/5.0 (Test)', got '%s'", rec.RequestUserAgent)
	}
	if rec.RequestReferer != "https://referrer.com" {
		t.Errorf("Expected RequestReferer 'https://referrer.com', got '%s'", rec.RequestReferer)
	}
	if v, ok := rec.Headers.Get("X-Real-IP"); !ok || v != "103.4.250.66" {
		t.Errorf("Expected X-Real-IP header '103.4.250.66', got '%s'", v)
	}
	if v, ok := rec.Headers.Get("CF-Connecting-IP"); !ok || v != "198.51.100.4" {
		t.Errorf("Expected CF-Connecting-IP header '198.51.100.4', got '%s'", v)
	}
	if _, ok := rec.Headers.Get("User-Agent"); ok {
		t.Error("Expected User-Agent to be stored on the record, not in headers")
	}

	ts, ok := rec.Timestamp()
	if !ok {
		t.Fatal("Expected parseable timestamp")
	}
	expected := time.Date(2025, 10, 25, 21, 11, 49, 123000000, time.UTC)
	if !ts.Equal(expected) {
		t.Errorf("Expected timestamp %v, got %v", expected, ts)
	}
}

func TestParser_ParseJSON_Fallbacks(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	jsonLog := `{"ClientAddr":"[2001:db8::1]:443","DownstreamStatus":502,"time":"2025-10-25T21:11:49Z","request_X_Forwarded_For":"1.2.3.4, 10.0.0.1","request_User_Agent":"curl/8.0"}`

	rec, err := parser.Parse(jsonLog)
	if err != nil {
		t.Fatalf("Failed to parse JSON log: %v", err)
	}

	if rec.ClientHost != "2001:db8::1" {
		t.Errorf("Expected ClientHost derived from ClientAddr, got '%s'", rec.ClientHost)
	}
	if rec.ClientPort != "443" {
		t.Errorf("Expected ClientPort '443', got '%s'", rec.ClientPort)
	}
	if rec.StartUTC != "2025-10-25T21:11:49Z" {
		t.Errorf("Expected StartUTC from time field, got '%s'", rec.StartUTC)
	}
	if v, _ := rec.Headers.Get("X-Forwarded-For"); v != "1.2.3.4, 10.0.0.1" {
		t.Errorf("Expected X-Forwarded-For header, got '%s'", v)
	}
	if rec.RequestUserAgent != "curl/8.0" {
		t.Errorf("Expected RequestUserAgent 'curl/8.0', got '%s'", rec.RequestUserAgent)
	}
}

func TestParser_ParseTraefikCLF(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	clfLog := `192.168.1.100:51234 - alice [15/May/2025:12:06:30 +0200] "GET /api/endpoint HTTP/1.1" 200 1024 "https://example.com" "Mozilla/5.0" 42 "my-router" "http://backend:8080" 150ms`

	rec, err := parser.Parse(clfLog)
	if err != nil {
		t.Fatalf("Failed to parse Traefik CLF log: %v", err)
	}

	if rec.ClientAddr != "192.168.1.100:51234" {
		t.Errorf("Expected ClientAddr '192.168.1.100:51234', got '%s'", rec.ClientAddr)
	}
	if rec.ClientHost != "192.168.1.100" {
		t.Errorf("Expected ClientHost '192.168.1.100', got '%s'", rec.ClientHost)
	}
	if rec.ClientPort != "51234" {
		t.Errorf("Expected ClientPort '51234', got '%s'", rec.ClientPort)
	}
	if rec.ClientUsername != "alice" {
		t.Errorf("Expected ClientUsername 'alice', got '%s'", rec.ClientUsername)
	}
	if rec.RequestMethod != "GET" {
		t.Errorf("Expected RequestMethod 'GET', got '%s'", rec.RequestMethod)
	}
	if rec.RequestPath != "/api/endpoint" {
		t.Errorf("Expected RequestPath '/api/endpoint', got '%s'", rec.RequestPath)
	}
	if rec.RequestProtocol != "HTTP/1.1" {
		t.Errorf("Expected RequestProtocol 'HTTP/1.1', got '%s'", rec.RequestProtocol)
	}
	if rec.DownstreamStatus != 200 {
		t.Errorf("Expected DownstreamStatus 200, got %d", rec.DownstreamStatus)
	}
	if rec.DownstreamContentSize != 1024 {
		t.Errorf("Expected DownstreamContentSize 1024, got %d", rec.DownstreamContentSize)
	}
	if rec.RequestCount != 42 {
		t.Errorf("Expected RequestCount 42, got %d", rec.RequestCount)
	}
	if rec.Duration != int64(150*time.Millisecond) {
		t.Errorf("Expected Duration 150ms in ns, got %d", rec.Duration)
	}
	if rec.RouterName != "my-router" {
		t.Errorf("Expected RouterName 'my-router', got '%s'", rec.RouterName)
	}
	if rec.ServiceURL != "http://backend:8080" {
		t.Errorf("Expected ServiceURL 'http://backend:8080', got '%s'", rec.ServiceURL)
	}
	if rec.RequestUserAgent != "Mozilla/5.0" {
		t.Errorf("Expected RequestUserAgent 'Mozilla/5.0', got '%s'", rec.RequestUserAgent)
	}

	expectedTime, _ := time.Parse(clfTimeLayout, "15/May/2025:12:06:30 +0200")
	ts, ok := rec.Timestamp()
	if !ok || !ts.Equal(expectedTime) {
		t.Errorf("Expected Timestamp %v, got %v", expectedTime, ts)
	}
	if rec.StartUTC != "2025-05-15T10:06:30Z" {
		t.Errorf("Expected StartUTC '2025-05-15T10:06:30Z', got '%s'", rec.StartUTC)
	}
}

func TestParser_DetectFormat(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	tests := []struct {
		name     string
		line     string
		expected LogFormat
	}{
		{
			name:     "JSON format",
			line:     `{"StartUTC":"2025-10-25T21:11:49Z","ClientHost":"103.4.250.66"}`,
			expected: FormatJSON,
		},
		{
			name:     "Traefik CLF format",
			line:     `192.168.1.100 - - [15/May/2025:12:06:30 +0000] "GET /api HTTP/1.1" 200 1024 "-" "Mozilla" 42 "router" "http://backend" 150ms`,
			expected: FormatCLF,
		},
		{
			name:     "Broken JSON",
			line:     `{"StartUTC":`,
			expected: FormatUnknown,
		},
		{
			name:     "Unknown format",
			line:     `invalid log line`,
			expected: FormatUnknown,
		},
		{
			name:     "Empty line",
			line:     "",
			expected: FormatUnknown,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			format := parser.detectFormat(tc.line)
			if format != tc.expected {
				t.Errorf("Expected format %s, got %s", tc.expected, format)
			}
		})
	}
}

func TestParser_ParseCLFWithDashValues(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	clfLog := `192.168.1.100 - - [15/May/2025:12:06:30 +0000] "GET /api HTTP/1.1" 200 0 "-" "-" 42 "-" "-" 150ms`

	rec, err := parser.Parse(clfLog)
	if err != nil {
		t.Fatalf("Failed to parse CLF log with dash values: %v", err)
	}

	if rec.RequestReferer != "" {
		t.Errorf("Expected empty RequestReferer, got '%s'", rec.RequestReferer)
	}
	if rec.RequestUserAgent != "" {
		t.Errorf("Expected empty RequestUserAgent, got '%s'", rec.RequestUserAgent)
	}
	if rec.RouterName != "" {
		t.Errorf("Expected empty RouterName, got '%s'", rec.RouterName)
	}
	if rec.ServiceURL != "" {
		t.Errorf("Expected empty ServiceURL, got '%s'", rec.ServiceURL)
	}
	if rec.ClientUsername != "" {
		t.Errorf("Expected empty ClientUsername, got '%s'", rec.ClientUsername)
	}
}

func TestParser_ParseCLFBadTimestamp(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	clfLog := `10.0.0.1 - - [not a time] "GET / HTTP/1.1" 500 10 "-" "-" 1 "r" "s" 3ms`

	rec, err := parser.Parse(clfLog)
	if err != nil {
		t.Fatalf("Expected record to be kept, got error: %v", err)
	}
	if _, ok := rec.Timestamp(); ok {
		t.Error("Expected record without a timestamp")
	}
	if rec.DownstreamStatus != 500 {
		t.Errorf("Expected DownstreamStatus 500, got %d", rec.DownstreamStatus)
	}
}

func TestParser_ParseLines(t *testing.T) {
	logger := pterm.DefaultLogger.WithLevel(pterm.LogLevelTrace)
	parser := NewParser(logger)

	lines := []string{
		`{"ClientHost":"1.1.1.1","DownstreamStatus":200,"StartUTC":"2025-10-25T21:11:49Z"}`,
		"",
		"garbage",
		`10.0.0.1 - - [15/May/2025:12:06:30 +0000] "GET / HTTP/1.1" 404 10 "-" "-" 1 "r" "s" 3ms`,
		`{"broken"`,
	}

	records, dropped := parser.ParseLines(lines)
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if dropped != 2 {
		t.Errorf("Expected 2 dropped lines, got %d", dropped)
	}
	if records[0].ClientHost != "1.1.1.1" || records[1].DownstreamStatus != 404 {
		t.Errorf("Expected input order to be preserved, got %+v", records)
	}
}
