// Package validate sanity-checks the daily percent change reported for a quote.
package validate

import (
	"math"

	"github.com/shopspring/decimal"

	"quoteproxy/internal/instrument"
)

// Result is the change percent to publish. Value is nil when neither a
// computed change nor a provider change is available. Corrected is set when
// the computed change was out of range and replaced or clamped.
type Result struct {
	Value     *float64
	Corrected bool
}

// Computed returns (price - prevClose) / prevClose * 100, rounded to four
// decimal places, or nil when either input is missing or prevClose is zero.
func Computed(price, prevClose *float64) *float64 {
	if price == nil || prevClose == nil || *prevClose == 0 {
		return nil
	}
	p := decimal.NewFromFloat(*price)
	pc := decimal.NewFromFloat(*prevClose)
	v, _ := p.Sub(pc).Div(pc).Mul(decimal.NewFromInt(100)).Round(4).Float64()
	return &v
}

// ChangePct picks the change percent for symbol from the locally computed
// value and the provider's own dp, bounded by the symbol's instrument class.
//
//  1. computed missing, dp present: dp as is
//  2. |computed| <= bound: computed
//  3. |computed| > bound: dp if within bound, else dp clamped, else computed clamped
//  4. both missing: nil
func ChangePct(symbol string, computed, dp *float64) Result {
	bound := instrument.ClassOf(symbol).MaxChangePct()

	switch {
	case computed == nil && dp == nil:
		return Result{}
	case computed == nil:
		return Result{Value: ptr(*dp)}
	case math.Abs(*computed) <= bound:
		return Result{Value: ptr(*computed)}
	case dp != nil && math.Abs(*dp) <= bound:
		return Result{Value: ptr(*dp), Corrected: true}
	case dp != nil:
		return Result{Value: ptr(clamp(*dp, bound)), Corrected: true}
	default:
		return Result{Value: ptr(clamp(*computed, bound)), Corrected: true}
	}
}

func clamp(v, bound float64) float64 {
	if math.Abs(v) > bound {
		return math.Copysign(bound, v)
	}
	return v
}

func ptr(v float64) *float64 { return &v }
