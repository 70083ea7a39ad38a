package indicators

import (
	"fmt"
	"sort"
	"strings"
)

// Params is a flat mapping of scalar parameter names to values.
type Params map[string]float64

// Get returns the parameter value or the fallback when absent.
func (p Params) Get(name string, fallback float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return fallback
}

// GetInt returns the parameter as an int or the fallback when absent.
func (p Params) GetInt(name string, fallback int) int {
	if v, ok := p[name]; ok {
		return int(v)
	}
	return fallback
}

// GetBool treats any non-zero value as true.
func (p Params) GetBool(name string, fallback bool) bool {
	if v, ok := p[name]; ok {
		return v != 0
	}
	return fallback
}

// Merged overlays p on top of defaults without mutating either.
func (p Params) Merged(defaults Params) Params {
	out := make(Params, len(defaults)+len(p))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Frozen renders the params as a canonical string usable as a cache key.
func (p Params) Frozen() string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=%g", k, p[k])
	}
	return sb.String()
}

// MaxPeriod returns the largest period-like parameter value, used for the
// engine warmup window. Period-like means the name contains "period" or
// "length", or is one of the well-known slow/signal keys.
func (p Params) MaxPeriod() float64 {
	max := 0.0
	for name, v := range p {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "period") || strings.Contains(lower, "length") ||
			lower == "slow" || lower == "fast" || lower == "signal" || lower == "lookback" {
			if v > max {
				max = v
			}
		}
	}
	return max
}
