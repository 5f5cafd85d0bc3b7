package instrument

import (
	"strings"
)

// Class groups symbols that share a plausible daily move.
type Class int

const (
	Other Class = iota
	Forex
	Oil
)

func (c Class) String() string {
	switch c {
	case Forex:
		return "forex"
	case Oil:
		return "oil"
	default:
		return "other"
	}
}

// MaxChangePct is the largest daily percent change accepted for the class.
func (c Class) MaxChangePct() float64 {
	switch c {
	case Oil:
		return 15
	case Forex:
		return 5
	default:
		return 10
	}
}

// Substring markers, matched case-sensitively against the full symbol.
// Oil is checked first: OANDA:WTICO_USD quotes in USD but moves like a commodity.
var (
	oilMarkers   = []string{"WTICO", "BCO"}
	forexMarkers = []string{"EUR", "USD", "JPY", "GBP"}
)

// ClassOf classifies a symbol such as "OANDA:EUR_USD".
func ClassOf(symbol string) Class {
	if containsAny(symbol, oilMarkers) {
		return Oil
	}
	if containsAny(symbol, forexMarkers) {
		return Forex
	}
	return Other
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ParseList splits a comma-separated symbol list, trims blanks, drops
// duplicates (first occurrence wins) and keeps at most limit symbols.
// limit <= 0 means no cap.
func ParseList(csv string, limit int) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
