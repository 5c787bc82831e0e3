package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stock-signal-bot-go/internal/ledger"
	"stock-signal-bot-go/internal/models"
)

// ErrLimitExceeded marks a plan blocked by a daily cap. Callers log it and skip the plan.
var ErrLimitExceeded = errors.New("daily limit exceeded")

// Caps are the daily activity limits. A cap of zero or less is disabled.
type Caps struct {
	MaxTrades int `json:"max_daily_trades"`
	MaxBuys   int `json:"max_daily_buys"`
	MaxSells  int `json:"max_daily_sells"`
}

// Counts are the trades recorded on one calendar day.
type Counts struct {
	Total int `json:"total"`
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// Decision is the guard's verdict on one plan.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Counts  Counts `json:"counts"`
}

// Err returns nil for an allowed decision and an ErrLimitExceeded wrap otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrLimitExceeded, d.Reason)
}

// DayBounds returns the start of the calendar day containing now in loc and the start of the next day.
func DayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// CountDay counts the records that fall on the calendar day containing now.
func CountDay(records []models.TradeRecord, now time.Time, loc *time.Location) Counts {
	start, end := DayBounds(now, loc)
	f := ledger.Filter{From: start, To: end}
	var c Counts
	for _, r := range records {
		if !f.Matches(r) {
			continue
		}
		c.Total++
		switch r.Side {
		case models.SideBuy:
			c.Buys++
		case models.SideSell:
			c.Sells++
		}
	}
	return c
}

func reached(count, limit int) bool {
	return limit > 0 && count >= limit
}

// Evaluate decides whether one more trade on side fits under the caps.
func Evaluate(caps Caps, counts Counts, side string) Decision {
	d := Decision{Allowed: true, Counts: counts}
	switch {
	case reached(counts.Total, caps.MaxTrades):
		d.Allowed = false
		d.Reason = fmt.Sprintf("daily trade limit reached (%d/%d)", counts.Total, caps.MaxTrades)
	case side == models.SideBuy && reached(counts.Buys, caps.MaxBuys):
		d.Allowed = false
		d.Reason = fmt.Sprintf("daily buy limit reached (%d/%d)", counts.Buys, caps.MaxBuys)
	case side == models.SideSell && reached(counts.Sells, caps.MaxSells):
		d.Allowed = false
		d.Reason = fmt.Sprintf("daily sell limit reached (%d/%d)", counts.Sells, caps.MaxSells)
	}
	return d
}

// Guard checks plans against today's trades in the ledger. It keeps no counters of its own.
type Guard struct {
	store  ledger.Store
	caps   Caps
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewGuard creates a guard that buckets days in loc.
func NewGuard(store ledger.Store, caps Caps, loc *time.Location, logger *zap.Logger) *Guard {
	if loc == nil {
		loc = time.UTC
	}
	return &Guard{store: store, caps: caps, loc: loc, now: time.Now, logger: logger}
}

// Counts reads today's counts from the ledger.
func (g *Guard) Counts(ctx context.Context) (Counts, error) {
	start, end := DayBounds(g.now(), g.loc)
	records, err := g.store.ReadTrades(ctx, ledger.Filter{From: start, To: end})
	if err != nil {
		return Counts{}, fmt.Errorf("failed to read today's trades: %w", err)
	}
	return CountDay(records, g.now(), g.loc), nil
}

// Check decides a plan on side. It never returns an error: an unreadable ledger blocks the plan.
func (g *Guard) Check(ctx context.Context, side string) Decision {
	counts, err := g.Counts(ctx)
	if err != nil {
		g.logger.Error("Daily limit check could not read the ledger, blocking", zap.String("side", side), zap.Error(err))
		return Decision{Allowed: false, Reason: "ledger unavailable"}
	}
	return Evaluate(g.caps, counts, side)
}
