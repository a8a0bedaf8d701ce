// Package geo resolves client IPs to countries through a batched,
// rate-limited lookup provider and groups admitted records by location.
package geo

import (
	"context"
	"errors"
)

// Sentinel countries for addresses that have no geographic meaning.
const (
	CountryUnknown = "Unknown"
	CountryPrivate = "Private Network"
)

// ErrLookupFailed is returned by providers when a batch could not be resolved.
var ErrLookupFailed = errors.New("geo lookup failed")

// Location is a country bucket. City and coordinates are best effort.
type Location struct {
	Country   string  `json:"country"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Count     int     `json:"count"`
}

// Provider resolves a batch of IPs. IPs missing from the result map are
// treated as unknown.
type Provider interface {
	LookupBatch(ctx context.Context, ips []string) (map[string]Location, error)
}

func unknown() Location { return Location{Country: CountryUnknown} }

func private() Location { return Location{Country: CountryPrivate} }
