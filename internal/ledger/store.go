package ledger

import (
	"context"
	"time"

	"stock-signal-bot-go/internal/models"
)

// Filter narrows ReadTrades. Zero fields do not filter.
// From is inclusive and To is exclusive.
type Filter struct {
	Symbol string
	From   time.Time
	To     time.Time
}

// Matches reports whether the record passes the filter.
func (f Filter) Matches(r models.TradeRecord) bool {
	if f.Symbol != "" && r.Symbol != f.Symbol {
		return false
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.Timestamp.Before(f.To) {
		return false
	}
	return true
}

// Store is the persistence port for the trade log and equity history.
// Trade records are append-only and returned in timestamp order.
type Store interface {
	AppendTrade(ctx context.Context, record *models.TradeRecord) error
	ReadTrades(ctx context.Context, filter Filter) ([]models.TradeRecord, error)
	AppendEquity(ctx context.Context, snapshots []models.EquitySnapshot) error
	ReadEquity(ctx context.Context, since time.Time) ([]models.EquitySnapshot, error)
}

// BySimulation keeps the records whose simulation flag equals simulated.
// Paper and live fills are never reconciled against each other.
func BySimulation(records []models.TradeRecord, simulated bool) []models.TradeRecord {
	var out []models.TradeRecord
	for _, r := range records {
		if r.IsSimulation == simulated {
			out = append(out, r)
		}
	}
	return out
}
