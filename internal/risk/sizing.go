package risk

import (
	"errors"
	"math"
)

// ErrInvalidSizing is returned when a plan resolves to a non-positive quantity.
// It is a rejection, not a failure.
var ErrInvalidSizing = errors.New("invalid sizing")

// floorEpsilon absorbs representation error so that 149.99999999999997 sizes as 150.
const floorEpsilon = 1e-9

// SizingInput carries the account and market figures a Sizer may use.
type SizingInput struct {
	Equity      float64
	BuyingPower float64
	Entry       float64
	ATR         float64
	Confidence  int
}

// Sizer turns account and market figures into a whole-share quantity.
// Zero means no trade.
type Sizer interface {
	Size(in SizingInput) int
}

// ATRSizer risks RiskPct of equity against a stop placed StopMultiplier ATRs away.
type ATRSizer struct {
	RiskPct        float64
	StopMultiplier float64
}

var _ Sizer = ATRSizer{}

func (s ATRSizer) Size(in SizingInput) int {
	if math.IsNaN(in.ATR) || in.ATR <= 0 || in.Equity <= 0 || in.Entry <= 0 ||
		s.RiskPct <= 0 || s.StopMultiplier <= 0 {
		return 0
	}
	qty := math.Floor(in.Equity*s.RiskPct/(in.ATR*s.StopMultiplier) + floorEpsilon)
	if qty <= 0 || math.IsInf(qty, 0) {
		return 0
	}
	return int(qty)
}

// BuyingPowerSizer spends a share of buying power, optionally scaled by the signal strength.
type BuyingPowerSizer struct {
	MaxPositionPct  float64
	ScaleWithSignal bool
}

var _ Sizer = BuyingPowerSizer{}

// PositionPct returns the share of buying power allocated to a signal of the given confidence.
func (s BuyingPowerSizer) PositionPct(confidence int) float64 {
	if !s.ScaleWithSignal {
		return s.MaxPositionPct
	}
	strength := math.Max(0, math.Min(10, float64(confidence)/10))
	return s.MaxPositionPct * strength / 10
}

func (s BuyingPowerSizer) Size(in SizingInput) int {
	if in.BuyingPower <= 0 || in.Entry <= 0 {
		return 0
	}
	qty := math.Floor(in.BuyingPower*s.PositionPct(in.Confidence)/in.Entry + floorEpsilon)
	if qty <= 0 {
		return 0
	}
	return int(qty)
}
