package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stock-signal-bot-go/internal/models"
)

const (
	LotLong  = "LONG"
	LotShort = "SHORT"
)

// PnLPair is one matched slice of an entry lot and its exit.
// For shorts SellPrice is the entry and BuyPrice the cover.
type PnLPair struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	BuyPrice  float64         `json:"buy_price"`
	SellPrice float64         `json:"sell_price"`
	Quantity  float64         `json:"matched_qty"`
	PnL       decimal.Decimal `json:"pnl"`
	OpenedAt  time.Time       `json:"opened_at"`
	ClosedAt  time.Time       `json:"closed_at"`
}

// Lot is the unmatched remainder of an entry.
type Lot struct {
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"qty"`
	OpenedAt time.Time `json:"opened_at"`
}

// Report is the result of reconciling a trade log.
type Report struct {
	Pairs       []PnLPair          `json:"pairs"`
	OpenLots    []Lot              `json:"open_lots"`
	Dropped     map[string]float64 `json:"dropped_qty"`
	RealizedPnL decimal.Decimal    `json:"realized_pnl"`
	Wins        int                `json:"wins"`
	WinRate     float64            `json:"win_rate"`
}

// Summary aggregates the pairs closed in a period.
type Summary struct {
	TotalPairs  int             `json:"total_pairs"`
	Wins        int             `json:"profitable_pairs"`
	WinRate     float64         `json:"win_rate"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

type openLot struct {
	price     decimal.Decimal
	remaining decimal.Decimal
	openedAt  time.Time
}

type book struct {
	long  []*openLot
	short []*openLot
}

// Reconcile matches exits against entries FIFO per symbol.
//
// BUY records open long lots and SELL records close them. A SELL with action OPEN
// opens a short lot instead, and a BUY with action CLOSE covers short lots.
// Exit quantity with nothing left to match is dropped and counted in Report.Dropped.
func Reconcile(records []models.TradeRecord) Report {
	sorted := make([]models.TradeRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	report := Report{Dropped: make(map[string]float64)}
	books := make(map[string]*book)
	var symbols []string
	total := decimal.Zero

	for _, r := range sorted {
		qty := decimal.NewFromFloat(r.Quantity)
		if !qty.IsPositive() {
			continue
		}
		b, ok := books[r.Symbol]
		if !ok {
			b = &book{}
			books[r.Symbol] = b
			symbols = append(symbols, r.Symbol)
		}
		price := decimal.NewFromFloat(r.Price)

		switch {
		case r.IsShortEntry():
			b.short = append(b.short, &openLot{price: price, remaining: qty, openedAt: r.Timestamp})
		case r.IsShortCover():
			var pairs []PnLPair
			b.short, qty, pairs = match(b.short, r, qty, price, LotShort)
			report.Pairs = append(report.Pairs, pairs...)
			if qty.IsPositive() {
				report.Dropped[r.Symbol] += qty.InexactFloat64()
			}
		case r.Side == models.SideBuy:
			b.long = append(b.long, &openLot{price: price, remaining: qty, openedAt: r.Timestamp})
		case r.Side == models.SideSell:
			var pairs []PnLPair
			b.long, qty, pairs = match(b.long, r, qty, price, LotLong)
			report.Pairs = append(report.Pairs, pairs...)
			if qty.IsPositive() {
				report.Dropped[r.Symbol] += qty.InexactFloat64()
			}
		}
	}

	for _, p := range report.Pairs {
		total = total.Add(p.PnL)
		if p.PnL.IsPositive() {
			report.Wins++
		}
	}
	report.RealizedPnL = total
	if len(report.Pairs) > 0 {
		report.WinRate = float64(report.Wins) / float64(len(report.Pairs))
	}

	sort.Strings(symbols)
	for _, sym := range symbols {
		b := books[sym]
		for _, l := range b.long {
			report.OpenLots = append(report.OpenLots, l.export(sym, LotLong))
		}
		for _, l := range b.short {
			report.OpenLots = append(report.OpenLots, l.export(sym, LotShort))
		}
	}
	return report
}

// match consumes lots oldest first and returns the remaining lots and unmatched quantity.
func match(lots []*openLot, exit models.TradeRecord, qty, price decimal.Decimal, side string) ([]*openLot, decimal.Decimal, []PnLPair) {
	var pairs []PnLPair
	for qty.IsPositive() && len(lots) > 0 {
		lot := lots[0]
		matched := decimal.Min(lot.remaining, qty)

		pair := PnLPair{
			Symbol:   exit.Symbol,
			Side:     side,
			Quantity: matched.InexactFloat64(),
			OpenedAt: lot.openedAt,
			ClosedAt: exit.Timestamp,
		}
		if side == LotShort {
			pair.SellPrice, pair.BuyPrice = lot.price.InexactFloat64(), price.InexactFloat64()
			pair.PnL = lot.price.Sub(price).Mul(matched)
		} else {
			pair.BuyPrice, pair.SellPrice = lot.price.InexactFloat64(), price.InexactFloat64()
			pair.PnL = price.Sub(lot.price).Mul(matched)
		}
		pairs = append(pairs, pair)

		lot.remaining = lot.remaining.Sub(matched)
		qty = qty.Sub(matched)
		if !lot.remaining.IsPositive() {
			lots = lots[1:]
		}
	}
	return lots, qty, pairs
}

func (l *openLot) export(symbol, side string) Lot {
	return Lot{
		Symbol:   symbol,
		Side:     side,
		Price:    l.price.InexactFloat64(),
		Quantity: l.remaining.InexactFloat64(),
		OpenedAt: l.openedAt,
	}
}

// Summarize aggregates pairs closed at or after since. A zero since covers everything.
func (r Report) Summarize(since time.Time) Summary {
	s := Summary{RealizedPnL: decimal.Zero}
	for _, p := range r.Pairs {
		if !since.IsZero() && p.ClosedAt.Before(since) {
			continue
		}
		s.TotalPairs++
		s.RealizedPnL = s.RealizedPnL.Add(p.PnL)
		if p.PnL.IsPositive() {
			s.Wins++
		}
	}
	if s.TotalPairs > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalPairs)
	}
	return s
}
