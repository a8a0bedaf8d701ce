package filter

import (
	"fmt"
	"os"
	"strings"

	"traefiklens/internal/logrecord"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ConditionType groups custom conditions for display; it does not change
// how a condition is evaluated.
type ConditionType string

const (
	ConditionIP        ConditionType = "ip"
	ConditionStatus    ConditionType = "status"
	ConditionUserAgent ConditionType = "user-agent"
	ConditionCustom    ConditionType = "custom"
)

// Operator is a comparison applied by a custom condition.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpRegex       Operator = "regex"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

var operators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true, OpContains: true, OpStartsWith: true,
	OpEndsWith: true, OpRegex: true, OpGreaterThan: true, OpLessThan: true,
}

// Condition is a user-defined exclusion rule. A record is excluded when any
// enabled condition matches it.
type Condition struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Enabled     bool            `json:"enabled" yaml:"enabled"`
	Type        ConditionType   `json:"type" yaml:"type"`
	Field       logrecord.Field `json:"field" yaml:"field"`
	Operator    Operator        `json:"operator" yaml:"operator"`
	Value       string          `json:"value" yaml:"value"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// ProxySettings selects which forwarded headers carry the real client IP.
type ProxySettings struct {
	EnableCFHeaders     bool     `json:"enableCFHeaders" yaml:"enableCFHeaders"`
	EnableXForwardedFor bool     `json:"enableXForwardedFor" yaml:"enableXForwardedFor"`
	EnableXRealIP       bool     `json:"enableXRealIP" yaml:"enableXRealIP"`
	CustomHeaders       []string `json:"customHeaders" yaml:"customHeaders"`
}

// Settings is the full filter configuration applied before aggregation.
type Settings struct {
	ExcludedIPs        []string      `json:"excludedIPs" yaml:"excludedIPs"`
	ExcludeUnknownIPs  bool          `json:"excludeUnknownIPs" yaml:"excludeUnknownIPs"`
	ExcludePrivateIPs  bool          `json:"excludePrivateIPs" yaml:"excludePrivateIPs"`
	ProxySettings      ProxySettings `json:"proxySettings" yaml:"proxySettings"`
	CustomConditions   []Condition   `json:"customConditions" yaml:"customConditions"`
	ExcludeStatusCodes []int         `json:"excludeStatusCodes" yaml:"excludeStatusCodes"`
	ExcludeBots        bool          `json:"excludeBots" yaml:"excludeBots"`
	ExcludePaths       []string      `json:"excludePaths" yaml:"excludePaths"`
}

// DefaultSettings excludes nothing and trusts all standard proxy headers.
func DefaultSettings() Settings {
	return Settings{
		ExcludedIPs: []string{},
		ProxySettings: ProxySettings{
			EnableCFHeaders:     true,
			EnableXForwardedFor: true,
			EnableXRealIP:       true,
			CustomHeaders:       []string{},
		},
		CustomConditions:   []Condition{},
		ExcludeStatusCodes: []int{},
		ExcludePaths:       []string{},
	}
}

// Clone returns a deep copy so callers can hand settings across goroutines.
func (s Settings) Clone() Settings {
	out := s
	out.ExcludedIPs = append([]string{}, s.ExcludedIPs...)
	out.ProxySettings.CustomHeaders = append([]string{}, s.ProxySettings.CustomHeaders...)
	out.CustomConditions = append([]Condition{}, s.CustomConditions...)
	out.ExcludeStatusCodes = append([]int{}, s.ExcludeStatusCodes...)
	out.ExcludePaths = append([]string{}, s.ExcludePaths...)
	return out
}

// Normalize trims list entries, drops empty ones and assigns IDs to
// conditions that have none.
func (s *Settings) Normalize() {
	s.ExcludedIPs = trimList(s.ExcludedIPs)
	s.ExcludePaths = trimList(s.ExcludePaths)
	s.ProxySettings.CustomHeaders = trimList(s.ProxySettings.CustomHeaders)
	if s.ExcludeStatusCodes == nil {
		s.ExcludeStatusCodes = []int{}
	}
	if s.CustomConditions == nil {
		s.CustomConditions = []Condition{}
	}
	for i := range s.CustomConditions {
		if s.CustomConditions[i].ID == "" {
			s.CustomConditions[i].ID = uuid.NewString()
		}
		if s.CustomConditions[i].Type == "" {
			s.CustomConditions[i].Type = ConditionCustom
		}
	}
}

// Validate rejects settings a user could not have meant. Evaluation itself
// never fails: an invalid regex simply never matches.
func (s Settings) Validate() error {
	for _, code := range s.ExcludeStatusCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("invalid status code %d", code)
		}
	}
	for _, c := range s.CustomConditions {
		if !operators[c.Operator] {
			return fmt.Errorf("condition %q: unknown operator %q", c.Name, c.Operator)
		}
		if c.Field == "" {
			return fmt.Errorf("condition %q: field is required", c.Name)
		}
	}
	return nil
}

// Summary describes the active filters in short phrases.
func (s Settings) Summary() []string {
	summary := []string{}

	if n := len(s.ExcludedIPs); n > 0 {
		summary = append(summary, fmt.Sprintf("%d IPs excluded", n))
	}
	if s.ExcludeUnknownIPs {
		summary = append(summary, "Unknown IPs excluded")
	}
	if s.ExcludePrivateIPs {
		summary = append(summary, "Private IPs excluded")
	}
	if n := len(s.ExcludeStatusCodes); n > 0 {
		summary = append(summary, fmt.Sprintf("%d status codes excluded", n))
	}
	if s.ExcludeBots {
		summary = append(summary, "Bots excluded")
	}
	if n := len(s.ExcludePaths); n > 0 {
		summary = append(summary, fmt.Sprintf("%d paths excluded", n))
	}

	active := 0
	for _, c := range s.CustomConditions {
		if c.Enabled {
			active++
		}
	}
	if active > 0 {
		summary = append(summary, fmt.Sprintf("%d custom conditions active", active))
	}

	return summary
}

// LoadSettingsFile reads settings from a YAML file. Keys missing from the
// file keep their default values.
func LoadSettingsFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read filter settings: %w", err)
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse filter settings %s: %w", path, err)
	}
	settings.Normalize()

	if err := settings.Validate(); err != nil {
		return Settings{}, fmt.Errorf("filter settings %s: %w", path, err)
	}
	return settings, nil
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
