package geo

import (
	"context"
	"net/netip"
	"sort"
	"strings"

	"traefiklens/internal/filter"
	"traefiklens/internal/logrecord"

	"github.com/pterm/pterm"
)

const defaultBatchSize = 100

// ProgressFunc is called after each batch with the number of batches done
// and the total for the run.
type ProgressFunc func(current, total int)

// Options configure an Aggregator. Zero values fall back to defaults:
// batches of 100, no rate limit, no cache.
type Options struct {
	BatchSize int
	Limiter   *Limiter
	Cache     *Cache

	// OnBatch is notified of each batch outcome, err is nil on success.
	OnBatch func(err error)
}

// Aggregator groups records by the country of their client IP.
type Aggregator struct {
	provider  Provider
	limiter   *Limiter
	cache     *Cache
	batchSize int
	onBatch   func(error)
	logger    *pterm.Logger
}

func NewAggregator(provider Provider, opts Options, logger *pterm.Logger) *Aggregator {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Aggregator{
		provider:  provider,
		limiter:   opts.Limiter,
		cache:     opts.Cache,
		batchSize: batchSize,
		onBatch:   opts.OnBatch,
		logger:    logger,
	}
}

// Aggregate resolves the distinct client IPs of records and returns one
// Location per country, ordered by count descending. clientIP picks the
// address of a record (nil uses the record's client host).
//
// A failed batch degrades its addresses to unknown and the run continues.
// Only context cancellation or the limiter abort the run.
func (a *Aggregator) Aggregate(ctx context.Context, records []logrecord.Record, clientIP func(*logrecord.Record) string, onProgress ProgressFunc) ([]Location, error) {
	if clientIP == nil {
		clientIP = (*logrecord.Record).ClientIP
	}

	counts := make(map[string]int)
	var order []string
	for i := range records {
		ip := strings.TrimSpace(clientIP(&records[i]))
		if _, seen := counts[ip]; !seen {
			order = append(order, ip)
		}
		counts[ip]++
	}

	resolved := make(map[string]Location, len(order))
	var pending []string
	for _, ip := range order {
		switch {
		case !validIP(ip):
			resolved[ip] = unknown()
		case filter.IsPrivateIPv4(ip):
			resolved[ip] = private()
		default:
			if loc, ok := a.cache.Get(ip); ok {
				resolved[ip] = loc
			} else {
				pending = append(pending, ip)
			}
		}
	}

	total := (len(pending) + a.batchSize - 1) / a.batchSize
	for n := 0; n < total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := pending[n*a.batchSize : min((n+1)*a.batchSize, len(pending))]
		if err := a.lookup(ctx, batch, resolved); err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(n+1, total)
		}
	}

	a.logger.Debug("Geo aggregation finished",
		a.logger.Args("records", len(records), "unique_ips", len(order), "looked_up", len(pending), "batches", total))

	return group(order, counts, resolved), nil
}

// lookup resolves one batch into resolved. Provider failures degrade the
// batch to unknown; only ctx or limiter errors are returned.
func (a *Aggregator) lookup(ctx context.Context, batch []string, resolved map[string]Location) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}

	results, err := a.provider.LookupBatch(ctx, batch)
	if a.onBatch != nil {
		a.onBatch(err)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		a.logger.WithCaller().Warn("Geo batch lookup failed, marking batch unknown",
			a.logger.Args("size", len(batch), "error", err))
		for _, ip := range batch {
			resolved[ip] = unknown()
		}
		return nil
	}

	for _, ip := range batch {
		loc, ok := results[ip]
		if !ok || loc.Country == "" {
			resolved[ip] = unknown()
			continue
		}
		resolved[ip] = loc
		if loc.Country != CountryUnknown {
			a.cache.Put(ip, loc)
		}
	}
	return nil
}

func validIP(ip string) bool {
	_, err := netip.ParseAddr(ip)
	return err == nil
}

// group folds per-IP results into per-country locations. The first city and
// coordinates seen for a country are kept.
func group(order []string, counts map[string]int, resolved map[string]Location) []Location {
	index := make(map[string]int)
	locations := []Location{}
	for _, ip := range order {
		loc := resolved[ip]
		i, ok := index[loc.Country]
		if !ok {
			i = len(locations)
			index[loc.Country] = i
			locations = append(locations, Location{Country: loc.Country})
		}
		out := &locations[i]
		out.Count += counts[ip]
		if out.City == "" && loc.City != "" {
			out.City = loc.City
		}
		if out.Latitude == 0 && out.Longitude == 0 {
			out.Latitude, out.Longitude = loc.Latitude, loc.Longitude
		}
	}

	sort.SliceStable(locations, func(i, j int) bool { return locations[i].Count > locations[j].Count })
	return locations
}
