package metrics

import (
	"math"
	"slices"
	"strings"
)

// Average returns the arithmetic mean, 0 for no values.
func Average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Percentile returns the nearest-rank percentile p (0-100) of values.
// values does not need to be sorted and is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Browser derives a coarse browser name from a user agent. Checks run in a
// fixed order because most user agents mention several engines.
func Browser(userAgent string) string {
	has := func(s string) bool { return strings.Contains(userAgent, s) }

	switch {
	case has("Chrome") && !has("Edg"):
		return "Chrome"
	case has("Safari") && !has("Chrome"):
		return "Safari"
	case has("Firefox"):
		return "Firefox"
	case has("Edg"):
		return "Edge"
	case has("Opera") || has("OPR"):
		return "Opera"
	case has("MSIE") || has("Trident"):
		return "IE"
	default:
		return "Unknown"
	}
}
