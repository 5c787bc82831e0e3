package signal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-signal-bot-go/internal/analysis"
	"stock-signal-bot-go/internal/indicators"
	"stock-signal-bot-go/internal/market"
)

func trendingBars(n int, start, step, volume float64) market.Series {
	t0 := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make(market.Series, n)
	for i := range bars {
		c := start + step*float64(i)
		bars[i] = market.Bar{
			Timestamp: t0.Add(time.Duration(i) * 24 * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    volume,
		}
	}
	return bars
}

func TestDecideAllCriteriaStrongBuy(t *testing.T) {
	bars := trendingBars(201, 50, 0.5, 1000)
	// last bar trades twice the 50-bar average of the bars before it
	bars[len(bars)-1].Volume = 2000
	bench := trendingBars(201, 300, 1, 5000)

	trailing, forward := 2.0, 2.6
	fund := analysis.Fundamentals{TrailingEPS: &trailing, ForwardEPS: &forward}

	w := indicators.DefaultWindows()
	res := analysis.Evaluate(
		indicators.Compute(bars, bench, w, -1),
		indicators.Compute(bench, nil, w, -1),
		fund,
	)
	require.Equal(t, 4, res.Score())

	sig := Decide(res)
	assert.Equal(t, StrongBuy, sig.Type)
	assert.Equal(t, 95, sig.Confidence)
}

func TestDecideBelowBothAveragesSells(t *testing.T) {
	res := analysis.Evaluate(
		indicators.Snapshot{Price: 90, MA50: 95, MA200: 110, Volume: 1000, VolumeAvg: 1000},
		indicators.Snapshot{Price: math.NaN(), MA50: math.NaN(), MA200: math.NaN()},
		analysis.Fundamentals{},
	)
	sig := Decide(res)
	assert.Equal(t, Sell, sig.Type)
	assert.Equal(t, 60, sig.Confidence)
	assert.Equal(t, "Price below 50-day MA; Price below 200-day MA", sig.Reason)
}

func TestDecide(t *testing.T) {
	testCases := []struct {
		name       string
		result     analysis.CriteriaResult
		expected   Type
		confidence int
		reason     string
	}{
		{
			name:       "sell pre-empts a perfect score",
			result:     analysis.CriteriaResult{Fundamental: true, Technical: true, Volume: true, Market: true, SellReasons: []string{analysis.ReasonBelowMA50}},
			expected:   Sell,
			confidence: 30,
			reason:     analysis.ReasonBelowMA50,
		},
		{
			name:       "confidence caps at 100",
			result:     analysis.CriteriaResult{SellReasons: []string{"a", "b", "c", "d"}},
			expected:   Sell,
			confidence: 100,
			reason:     "a; b; c; d",
		},
		{
			name:       "three criteria",
			result:     analysis.CriteriaResult{Fundamental: true, Volume: true, Market: true},
			expected:   Buy,
			confidence: 75,
		},
		{
			name:       "hold facts",
			result:     analysis.CriteriaResult{Technical: true, HoldFacts: []string{analysis.FactAboveMA50}},
			expected:   Hold,
			confidence: 50,
			reason:     analysis.FactAboveMA50,
		},
		{
			name:       "nothing to go on",
			result:     analysis.CriteriaResult{Market: true},
			expected:   Hold,
			confidence: 30,
			reason:     "Insufficient buy/sell signals",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sig := Decide(tc.result)
			assert.Equal(t, tc.expected, sig.Type)
			assert.Equal(t, tc.confidence, sig.Confidence)
			if tc.reason != "" {
				assert.Equal(t, tc.reason, sig.Reason)
			}
		})
	}
}

func TestFuse(t *testing.T) {
	testCases := []struct {
		name       string
		technical  Signal
		sentiment  Type
		expected   Type
		confidence int
	}{
		{"buy confirmed", Signal{Type: Buy, Confidence: 75}, Buy, StrongBuy, 90},
		{"strong buy keeps higher confidence", Signal{Type: StrongBuy, Confidence: 95}, Buy, StrongBuy, 95},
		{"sell confirmed", Signal{Type: Sell, Confidence: 60}, Sell, StrongSell, 90},
		{"buy against sell sentiment", Signal{Type: Buy, Confidence: 75}, Sell, Hold, 20},
		{"sell against buy sentiment", Signal{Type: Sell, Confidence: 90}, Buy, Hold, 20},
		{"neutral sentiment passes through", Signal{Type: Buy, Confidence: 75}, Hold, Buy, 75},
		{"hold is never escalated", Signal{Type: Hold, Confidence: 50}, Buy, Hold, 50},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := Fuse(tc.technical, tc.sentiment)
			assert.Equal(t, tc.expected, out.Type)
			assert.Equal(t, tc.confidence, out.Confidence)

			// fusion never flips direction
			if tc.technical.Type.IsBuy() {
				assert.False(t, out.Type.IsSell())
			}
			if tc.technical.Type.IsSell() {
				assert.False(t, out.Type.IsBuy())
			}
		})
	}

	mixed := Fuse(Signal{Type: Buy, Confidence: 75, Reason: "3 of 4 criteria met"}, Sell)
	assert.Contains(t, mixed.Reason, "Mixed signals: Tech=BUY, News=SELL")
}

func TestDecideCrossover(t *testing.T) {
	base := indicators.Snapshot{MAShort: 105, MALong: 100, RSI: 55, Volume: 1500, VolumeAvg: 1000}

	assert.Equal(t, Buy, DecideCrossover(base).Type)

	overbought := base
	overbought.RSI = 75
	assert.Equal(t, Hold, DecideCrossover(overbought).Type)

	down := base
	down.MAShort, down.MALong = 95, 100
	assert.Equal(t, Sell, DecideCrossover(down).Type)

	quiet := base
	quiet.Volume = 900
	assert.Equal(t, Hold, DecideCrossover(quiet).Type)

	undefined := base
	undefined.RSI = math.NaN()
	sig := DecideCrossover(undefined)
	assert.Equal(t, Hold, sig.Type)
	assert.Equal(t, 30, sig.Confidence)
}
