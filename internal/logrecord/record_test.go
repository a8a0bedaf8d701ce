package logrecord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_Timestamp(t *testing.T) {
	tests := []struct {
		name   string
		rec    Record
		want   time.Time
		wantOK bool
	}{
		{
			name:   "utc",
			rec:    Record{StartUTC: "2025-05-15T12:06:30.123456789Z"},
			want:   time.Date(2025, 5, 15, 12, 6, 30, 123456789, time.UTC),
			wantOK: true,
		},
		{
			name:   "local fallback",
			rec:    Record{StartLocal: "2025-05-15T14:06:30+02:00"},
			want:   time.Date(2025, 5, 15, 12, 6, 30, 0, time.UTC),
			wantOK: true,
		},
		{
			name: "unparseable",
			rec:  Record{StartUTC: "yesterday"},
		},
		{
			name: "missing",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.rec.Timestamp()
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.True(t, tc.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestRecord_ClientIP(t *testing.T) {
	assert.Equal(t, "10.0.0.1", (&Record{ClientHost: "10.0.0.1", ClientAddr: "1.1.1.1:80"}).ClientIP())
	assert.Equal(t, "1.1.1.1", (&Record{ClientAddr: "1.1.1.1:80"}).ClientIP())
	assert.Equal(t, "2001:db8::1", (&Record{ClientAddr: "[2001:db8::1]:443"}).ClientIP())
	assert.Equal(t, "1.1.1.1", (&Record{ClientAddr: "1.1.1.1"}).ClientIP())
	assert.Equal(t, "", (&Record{}).ClientIP())
}

func TestRecord_DurationMillis(t *testing.T) {
	rec := Record{Duration: 1_500_000}
	assert.InDelta(t, 1.5, rec.DurationMillis(), 1e-9)
}

func TestHeaders_CanonicalLookup(t *testing.T) {
	h := Headers{}
	h.Set("X_Real_IP", "203.0.113.7")
	h.Set("cf-connecting-ip", "198.51.100.2")
	h.Set("X-Empty", "  ")

	v, ok := h.Get("X-Real-IP")
	assert.True(t, ok)
	assert.Equal(t, "203.0.113.7", v)

	v, ok = h.Get("CF-Connecting-IP")
	assert.True(t, ok)
	assert.Equal(t, "198.51.100.2", v)

	_, ok = h.Get("X-Empty")
	assert.False(t, ok, "blank header counts as absent")

	_, ok = h.Get("bad header name")
	assert.False(t, ok)

	var nilHeaders Headers
	_, ok = nilHeaders.Get("X-Real-IP")
	assert.False(t, ok)
}

func TestRecord_Value(t *testing.T) {
	rec := Record{
		RequestPath:      "/api/users",
		DownstreamStatus: 404,
		RequestUserAgent: "curl/8.0",
		EntryPointName:   "websecure",
		Headers:          Headers{},
	}
	rec.Headers.Set("X-Forwarded-For", "1.2.3.4")

	assert.Equal(t, "/api/users", rec.Value(FieldRequestPath))
	assert.Equal(t, "404", rec.Value(FieldDownstreamStatus))
	assert.Equal(t, "curl/8.0", rec.Value(FieldRequestUserAgent))
	assert.Equal(t, "websecure", rec.Value(FieldEntryPointName))
	assert.Equal(t, "", rec.Value(FieldRetryAttempts), "zero reads as empty")
	assert.Equal(t, "1.2.3.4", rec.Value(Field("request_X-Forwarded-For")))
	assert.Equal(t, "1.2.3.4", rec.Value(Field("request_X_Forwarded_For")))
	assert.Equal(t, "", rec.Value(Field("NoSuchField")))
	assert.Equal(t, "", rec.Value(Field("requestpath")), "field names are case-sensitive")
}

func TestFields(t *testing.T) {
	fields := Fields()
	assert.Len(t, fields, 30)
	assert.True(t, FieldServiceURL.Known())
	assert.False(t, Field("request_X-Real-Ip").Known())
	for i := 1; i < len(fields); i++ {
		assert.Less(t, string(fields[i-1]), string(fields[i]))
	}
}
