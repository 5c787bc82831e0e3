package fundamentals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-signal-bot-go/internal/config"
)

func ptr(v float64) *float64 { return &v }

func TestStaticProvider(t *testing.T) {
	p := NewStatic(map[string]config.Fundamentals{
		"nvda": {TrailingEPS: ptr(2), ForwardEPS: ptr(3), NetIncome: []float64{30, 20}, Sector: "Technology"},
	})

	f, err := p.GetFundamentals(context.Background(), "NVDA")
	require.NoError(t, err)
	g, ok := f.EPSGrowth()
	require.True(t, ok)
	assert.InDelta(t, 0.5, g, 1e-12)
	assert.Equal(t, "Technology", f.Sector)

	f, err = p.GetFundamentals(context.Background(), "XYZ")
	require.NoError(t, err)
	_, ok = f.Growth()
	assert.False(t, ok, "unknown symbols have no figures")
}
