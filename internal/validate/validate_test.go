package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestChangePct(t *testing.T) {
	tests := []struct {
		name      string
		symbol    string
		computed  *float64
		dp        *float64
		want      *float64
		corrected bool
	}{
		{name: "forex clamps positive", symbol: "OANDA:EUR_USD", computed: f(42), want: f(5), corrected: true},
		{name: "forex clamps negative", symbol: "OANDA:EUR_USD", computed: f(-42), want: f(-5), corrected: true},
		{name: "forex substitutes sane dp", symbol: "OANDA:EUR_USD", computed: f(42), dp: f(1.2), want: f(1.2), corrected: true},
		{name: "forex clamps out of range dp", symbol: "OANDA:GBP_USD", computed: f(42), dp: f(-30), want: f(-5), corrected: true},
		{name: "oil within bound unchanged", symbol: "OANDA:WTICO_USD", computed: f(14.3), want: f(14.3)},
		{name: "oil within bound ignores dp", symbol: "OANDA:BCO_USD", computed: f(14.3), dp: f(2), want: f(14.3)},
		{name: "other bound is ten", symbol: "NASDAQ:AAPL", computed: f(12), want: f(10), corrected: true},
		{name: "bound is inclusive", symbol: "NASDAQ:AAPL", computed: f(-10), want: f(-10)},
		{name: "dp used verbatim without computed", symbol: "OANDA:EUR_USD", dp: f(42), want: f(42)},
		{name: "nothing available", symbol: "OANDA:EUR_USD", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChangePct(tt.symbol, tt.computed, tt.dp)
			assert.Equal(t, tt.corrected, got.Corrected)
			if tt.want == nil {
				require.Nil(t, got.Value)
				return
			}
			require.NotNil(t, got.Value)
			assert.InDelta(t, *tt.want, *got.Value, 1e-9)
		})
	}
}

func TestChangePct_DoesNotAliasInputs(t *testing.T) {
	dp := f(1.5)
	got := ChangePct("OANDA:EUR_USD", nil, dp)
	require.NotNil(t, got.Value)
	*dp = 99
	assert.InDelta(t, 1.5, *got.Value, 1e-9)
}

func TestComputed(t *testing.T) {
	eur := Computed(f(1.0850), f(1.0800))
	require.NotNil(t, eur)
	assert.InDelta(t, 0.46, *eur, 0.01)

	wti := Computed(f(80), f(70))
	require.NotNil(t, wti)
	assert.InDelta(t, 14.29, *wti, 0.01)

	assert.Nil(t, Computed(nil, f(1)))
	assert.Nil(t, Computed(f(1), nil))
	assert.Nil(t, Computed(f(1), f(0)))
}
