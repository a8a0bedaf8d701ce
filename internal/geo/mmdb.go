package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MMDBProvider resolves addresses offline from a MaxMind City database
// (GeoLite2-City or compatible).
type MMDBProvider struct {
	reader *geoip2.Reader
}

// OpenMMDB opens the database at path.
func OpenMMDB(path string) (*MMDBProvider, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &MMDBProvider{reader: reader}, nil
}

func (p *MMDBProvider) LookupBatch(ctx context.Context, ips []string) (map[string]Location, error) {
	locations := make(map[string]Location, len(ips))
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parsed := net.ParseIP(ip)
		if parsed == nil {
			locations[ip] = unknown()
			continue
		}
		record, err := p.reader.City(parsed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
		}
		country := record.Country.Names["en"]
		if country == "" {
			locations[ip] = unknown()
			continue
		}
		locations[ip] = Location{
			Country:   country,
			City:      record.City.Names["en"],
			Latitude:  record.Location.Latitude,
			Longitude: record.Location.Longitude,
		}
	}
	return locations, nil
}

func (p *MMDBProvider) Close() error {
	return p.reader.Close()
}
