package analysis

import (
	"math"
	"strings"
)

// GrowthThreshold is the minimum growth rate for the fundamental criterion.
const GrowthThreshold = 0.25

// Fundamentals are company figures from the fundamentals port. Every field is optional.
// NetIncome is ordered most recent year first.
type Fundamentals struct {
	TrailingEPS *float64  `json:"trailing_eps,omitempty"`
	ForwardEPS  *float64  `json:"forward_eps,omitempty"`
	NetIncome   []float64 `json:"net_income,omitempty"`
	Sector      string    `json:"sector,omitempty"`
	PERatio     *float64  `json:"pe_ratio,omitempty"`
	PEGRatio    *float64  `json:"peg_ratio,omitempty"`
}

// EPSGrowth returns (forward - trailing) / trailing. It is unavailable unless
// both figures exist and trailing EPS is positive.
func (f Fundamentals) EPSGrowth() (float64, bool) {
	if f.TrailingEPS == nil || f.ForwardEPS == nil || *f.TrailingEPS <= 0 {
		return 0, false
	}
	return (*f.ForwardEPS - *f.TrailingEPS) / *f.TrailingEPS, true
}

// incomeGrowthRates returns up to n year-over-year net income growth rates, most recent first.
// Years with zero prior income are skipped.
func (f Fundamentals) incomeGrowthRates(n int) []float64 {
	var rates []float64
	for i := 0; i+1 < len(f.NetIncome) && len(rates) < n; i++ {
		prev := f.NetIncome[i+1]
		if prev == 0 {
			continue
		}
		rates = append(rates, (f.NetIncome[i]-prev)/math.Abs(prev))
	}
	return rates
}

// LatestIncomeGrowth returns the most recent year-over-year net income growth.
func (f Fundamentals) LatestIncomeGrowth() (float64, bool) {
	rates := f.incomeGrowthRates(1)
	if len(rates) == 0 {
		return 0, false
	}
	return rates[0], true
}

// ThreeYearGrowth returns the mean of up to three year-over-year net income growth rates.
func (f Fundamentals) ThreeYearGrowth() (float64, bool) {
	rates := f.incomeGrowthRates(3)
	if len(rates) == 0 {
		return 0, false
	}
	var sum float64
	for _, r := range rates {
		sum += r
	}
	return sum / float64(len(rates)), true
}

// Growth returns the short-horizon growth estimate: EPS growth, falling back to
// the latest net income growth.
func (f Fundamentals) Growth() (float64, bool) {
	if g, ok := f.EPSGrowth(); ok {
		return g, true
	}
	return f.LatestIncomeGrowth()
}

var sectorPE = map[string]float64{
	"technology":             35,
	"healthcare":             25,
	"financial services":     15,
	"consumer cyclical":      20,
	"communication services": 25,
	"industrials":            20,
	"consumer defensive":     22,
	"energy":                 15,
	"utilities":              18,
	"real estate":            30,
	"basic materials":        18,
}

const defaultSectorPE = 20

// SectorPE returns the reference P/E for a sector, 20 when the sector is unknown.
func SectorPE(sector string) float64 {
	if pe, ok := sectorPE[strings.ToLower(strings.TrimSpace(sector))]; ok {
		return pe
	}
	return defaultSectorPE
}

// Valuation is supporting evidence only and never contributes to the score.
type Valuation struct {
	PERatio       *float64 `json:"pe_ratio,omitempty"`
	SectorPE      float64  `json:"sector_pe"`
	BelowSectorPE bool     `json:"below_sector_pe"`
	PEGRatio      *float64 `json:"peg_ratio,omitempty"`
	PEGBelowOne   bool     `json:"peg_below_one"`
}

// Valuation compares the P/E against the sector reference and checks PEG < 1.
func (f Fundamentals) Valuation() Valuation {
	v := Valuation{PERatio: f.PERatio, PEGRatio: f.PEGRatio, SectorPE: SectorPE(f.Sector)}
	if f.PERatio != nil && *f.PERatio > 0 {
		v.BelowSectorPE = *f.PERatio < v.SectorPE
	}
	if f.PEGRatio != nil && *f.PEGRatio > 0 {
		v.PEGBelowOne = *f.PEGRatio < 1
	}
	return v
}
