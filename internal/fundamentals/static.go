package fundamentals

import (
	"context"
	"strings"

	"stock-signal-bot-go/internal/analysis"
	"stock-signal-bot-go/internal/config"
)

// Static serves fundamentals from the configuration file.
type Static struct {
	figures map[string]analysis.Fundamentals
}

// NewStatic builds a provider from the configured per-symbol figures.
func NewStatic(cfg map[string]config.Fundamentals) *Static {
	figures := make(map[string]analysis.Fundamentals, len(cfg))
	for symbol, f := range cfg {
		figures[strings.ToUpper(symbol)] = analysis.Fundamentals{
			TrailingEPS: f.TrailingEPS,
			ForwardEPS:  f.ForwardEPS,
			NetIncome:   append([]float64(nil), f.NetIncome...),
			Sector:      f.Sector,
			PERatio:     f.PERatio,
			PEGRatio:    f.PEGRatio,
		}
	}
	return &Static{figures: figures}
}

// GetFundamentals returns the figures for symbol. Unknown symbols get empty fundamentals.
func (s *Static) GetFundamentals(_ context.Context, symbol string) (analysis.Fundamentals, error) {
	return s.figures[strings.ToUpper(symbol)], nil
}
