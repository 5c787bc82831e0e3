package risk

import (
	"fmt"
	"math"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ExitReason explains why an open position was closed.
type ExitReason string

const (
	StopLossHit   ExitReason = "stop-loss hit"
	TakeProfitHit ExitReason = "take-profit hit"
)

// Plan is a fully resolved order plan. Quantity, Stop and Take are always set.
type Plan struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity int     `json:"quantity"`
	Entry    float64 `json:"entry"`
	Stop     float64 `json:"stop"`
	Take     float64 `json:"take"`
}

// Position is an open position held by the book.
type Position struct {
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Quantity int       `json:"quantity"`
	Entry    float64   `json:"entry"`
	Stop     float64   `json:"stop"`
	Take     float64   `json:"take"`
	OrderID  string    `json:"order_id"`
	OpenedAt time.Time `json:"opened_at"`
}

// PnL is the unrealized profit at price.
func (p Position) PnL(price float64) float64 {
	if p.Side == Short {
		return (p.Entry - price) * float64(p.Quantity)
	}
	return (price - p.Entry) * float64(p.Quantity)
}

// Planner sizes and brackets entries.
type Planner struct {
	Sizer         Sizer
	StopLossPct   float64
	TakeProfitPct float64
}

// Bracket returns the stop-loss and take-profit prices for an entry.
func Bracket(side Side, entry, stopPct, takePct float64) (stop, take float64) {
	if side == Short {
		return entry * (1 + stopPct), entry * (1 - takePct)
	}
	return entry * (1 - stopPct), entry * (1 + takePct)
}

// Plan builds an order plan. A non-positive quantity or an unresolved bracket
// returns ErrInvalidSizing.
func (p Planner) Plan(symbol string, side Side, in SizingInput) (Plan, error) {
	if in.Entry <= 0 || math.IsNaN(in.Entry) {
		return Plan{}, fmt.Errorf("%w: entry price %.4f for %s", ErrInvalidSizing, in.Entry, symbol)
	}
	qty := p.Sizer.Size(in)
	if qty <= 0 {
		return Plan{}, fmt.Errorf("%w: quantity %d for %s", ErrInvalidSizing, qty, symbol)
	}
	stop, take := Bracket(side, in.Entry, p.StopLossPct, p.TakeProfitPct)
	if stop <= 0 || take <= 0 {
		return Plan{}, fmt.Errorf("%w: bracket %.4f/%.4f for %s", ErrInvalidSizing, stop, take, symbol)
	}
	return Plan{Symbol: symbol, Side: side, Quantity: qty, Entry: in.Entry, Stop: stop, Take: take}, nil
}

// CheckExit reports whether price crosses the position's stop or take. Stop is checked first.
func CheckExit(pos Position, price float64) (ExitReason, bool) {
	if pos.Side == Short {
		if price >= pos.Stop {
			return StopLossHit, true
		}
		if price <= pos.Take {
			return TakeProfitHit, true
		}
		return "", false
	}
	if price <= pos.Stop {
		return StopLossHit, true
	}
	if price >= pos.Take {
		return TakeProfitHit, true
	}
	return "", false
}
