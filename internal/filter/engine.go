package filter

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"traefiklens/internal/logrecord"
)

var botSignatures = []string{
	"bot", "crawler", "spider", "scraper", "curl", "wget",
	"python-requests", "go-http-client", "java", "apache-httpclient",
	"googlebot", "bingbot", "yandexbot", "baiduspider", "slackbot",
	"twitterbot", "facebookexternalhit", "linkedinbot", "whatsapp",
}

// IsBot reports whether a user agent matches a known bot or scripting client.
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, sig := range botSignatures {
		if strings.Contains(ua, sig) {
			return true
		}
	}
	return false
}

// compiledCondition is a Condition with its comparison value prepared once
// per filter pass.
type compiledCondition struct {
	field    logrecord.Field
	operator Operator
	value    string
	number   float64
	numberOK bool
	re       *regexp.Regexp
}

type compiled struct {
	settings    Settings
	excludedIPs map[string]struct{}
	statuses    map[int]struct{}
	paths       []string
	conditions  []compiledCondition
}

func compile(settings Settings) *compiled {
	c := &compiled{
		settings:    settings,
		excludedIPs: make(map[string]struct{}, len(settings.ExcludedIPs)),
		statuses:    make(map[int]struct{}, len(settings.ExcludeStatusCodes)),
	}
	for _, ip := range settings.ExcludedIPs {
		c.excludedIPs[ip] = struct{}{}
	}
	for _, code := range settings.ExcludeStatusCodes {
		c.statuses[code] = struct{}{}
	}
	for _, p := range settings.ExcludePaths {
		// An empty substring would match every path
		if p != "" {
			c.paths = append(c.paths, p)
		}
	}

	for _, cond := range settings.CustomConditions {
		if !cond.Enabled {
			continue
		}
		cc := compiledCondition{
			field:    cond.Field,
			operator: cond.Operator,
			value:    strings.ToLower(cond.Value),
		}
		switch cond.Operator {
		case OpRegex:
			// Compiled from the raw pattern so escapes like \D keep their
			// meaning. nil regex means the condition never matches.
			cc.re, _ = regexp.Compile("(?i)" + cond.Value)
		case OpGreaterThan, OpLessThan:
			cc.number, cc.numberOK = parseNumber(cc.value)
		}
		c.conditions = append(c.conditions, cc)
	}
	return c
}

// Apply returns the records that pass every filter, in input order. Inputs
// are not modified.
func Apply(records []logrecord.Record, settings Settings) []logrecord.Record {
	c := compile(settings)
	admitted := make([]logrecord.Record, 0, len(records))
	for i := range records {
		if !c.excludes(&records[i]) {
			admitted = append(admitted, records[i])
		}
	}
	return admitted
}

// Excludes reports whether a single record would be filtered out.
func Excludes(rec *logrecord.Record, settings Settings) bool {
	return compile(settings).excludes(rec)
}

func (c *compiled) excludes(rec *logrecord.Record) bool {
	ip := ResolveClientIP(rec, c.settings.ProxySettings)

	if _, ok := c.excludedIPs[ip]; ok {
		return true
	}
	if c.settings.ExcludeUnknownIPs && (ip == "" || ip == "unknown") {
		return true
	}
	if c.settings.ExcludePrivateIPs && IsPrivateIPv4(ip) {
		return true
	}
	if _, ok := c.statuses[rec.DownstreamStatus]; ok {
		return true
	}
	if c.settings.ExcludeBots && IsBot(rec.RequestUserAgent) {
		return true
	}
	if rec.RequestPath != "" && slices.ContainsFunc(c.paths, func(p string) bool {
		return strings.Contains(rec.RequestPath, p)
	}) {
		return true
	}
	for i := range c.conditions {
		if c.conditions[i].matches(rec) {
			return true
		}
	}
	return false
}

// matches compares case-insensitively: both sides are lowercased, regexes
// carry the (?i) flag instead.
func (cc *compiledCondition) matches(rec *logrecord.Record) bool {
	field := strings.ToLower(rec.Value(cc.field))

	switch cc.operator {
	case OpEquals:
		return field == cc.value
	case OpNotEquals:
		return field != cc.value
	case OpContains:
		return strings.Contains(field, cc.value)
	case OpStartsWith:
		return strings.HasPrefix(field, cc.value)
	case OpEndsWith:
		return strings.HasSuffix(field, cc.value)
	case OpRegex:
		return cc.re != nil && cc.re.MatchString(field)
	case OpGreaterThan:
		n, ok := parseNumber(field)
		return ok && cc.numberOK && n > cc.number
	case OpLessThan:
		n, ok := parseNumber(field)
		return ok && cc.numberOK && n < cc.number
	default:
		return false
	}
}

func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return n, err == nil
}
