package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stock-signal-bot-go/internal/models"
)

type paperPosition struct {
	qty   int64 // negative for shorts
	entry decimal.Decimal
}

// Paper is a dry-run order executor. Orders fill immediately at the last marked price.
// Shorts debit nothing at entry and settle (entry - exit) x qty into cash at cover.
type Paper struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]*paperPosition
	marks     map[string]decimal.Decimal
	logger    *zap.Logger
}

// NewPaper creates a paper account funded with startingCash.
func NewPaper(startingCash float64, logger *zap.Logger) *Paper {
	return &Paper{
		cash:      decimal.NewFromFloat(startingCash),
		positions: make(map[string]*paperPosition),
		marks:     make(map[string]decimal.Decimal),
		logger:    logger.Named("paper"),
	}
}

// MarkPrice records the latest price for symbol. Fills and equity use it.
func (p *Paper) MarkPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[symbol] = decimal.NewFromFloat(price)
}

// GetAccount values open positions at their marks.
func (p *Paper) GetAccount(_ context.Context) (Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	equity := p.cash
	for sym, pos := range p.positions {
		mark, ok := p.marks[sym]
		if !ok {
			mark = pos.entry
		}
		if pos.qty > 0 {
			equity = equity.Add(mark.Mul(decimal.NewFromInt(pos.qty)))
		} else {
			equity = equity.Add(pos.entry.Sub(mark).Mul(decimal.NewFromInt(-pos.qty)))
		}
	}
	cash := p.cash.InexactFloat64()
	return Account{Equity: equity.InexactFloat64(), Cash: cash, BuyingPower: cash}, nil
}

// GetPosition returns the signed share count held for symbol.
func (p *Paper) GetPosition(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		return float64(pos.qty), nil
	}
	return 0, nil
}

// SubmitOrder fills the order in full at the marked price.
func (p *Paper) SubmitOrder(_ context.Context, order OrderRequest) (string, error) {
	if err := order.Validate(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.marks[order.Symbol]
	if !ok || !price.IsPositive() {
		return "", fmt.Errorf("%w: no price for %s", ErrOrderRejected, order.Symbol)
	}
	if err := p.fill(order.Symbol, order.Side, int64(order.Quantity), price); err != nil {
		return "", err
	}

	id := order.ClientOrderID
	if id == "" {
		id = uuid.NewString()
	}
	p.logger.Info("Paper order filled",
		zap.String("order_id", id),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Int("qty", order.Quantity),
		zap.String("price", price.StringFixed(2)),
	)
	return id, nil
}

// ClosePosition flattens the position in symbol at the marked price.
func (p *Paper) ClosePosition(ctx context.Context, symbol string) (string, error) {
	qty, _ := p.GetPosition(ctx, symbol)
	switch {
	case qty > 0:
		return p.SubmitOrder(ctx, OrderRequest{Symbol: symbol, Quantity: int(qty), Side: models.SideSell, Type: OrderTypeMarket})
	case qty < 0:
		return p.SubmitOrder(ctx, OrderRequest{Symbol: symbol, Quantity: int(-qty), Side: models.SideBuy, Type: OrderTypeMarket})
	}
	return "", fmt.Errorf("%w: no open position in %s", ErrOrderRejected, symbol)
}

func (p *Paper) fill(symbol, side string, qty int64, price decimal.Decimal) error {
	pos := p.positions[symbol]
	n := decimal.NewFromInt(qty)

	switch side {
	case models.SideBuy:
		if pos != nil && pos.qty < 0 {
			if qty > -pos.qty {
				return fmt.Errorf("%w: cover of %d exceeds short of %d in %s", ErrOrderRejected, qty, -pos.qty, symbol)
			}
			p.cash = p.cash.Add(pos.entry.Sub(price).Mul(n))
			pos.qty += qty
			break
		}
		cost := price.Mul(n)
		if cost.GreaterThan(p.cash) {
			return fmt.Errorf("%w: insufficient cash for %d %s", ErrOrderRejected, qty, symbol)
		}
		p.cash = p.cash.Sub(cost)
		if pos == nil {
			p.positions[symbol] = &paperPosition{qty: qty, entry: price}
			return nil
		}
		// average the entry of a long that is added to
		total := pos.entry.Mul(decimal.NewFromInt(pos.qty)).Add(cost)
		pos.qty += qty
		pos.entry = total.Div(decimal.NewFromInt(pos.qty))
	case models.SideSell:
		if pos == nil {
			p.positions[symbol] = &paperPosition{qty: -qty, entry: price}
			return nil
		}
		if pos.qty < 0 {
			return fmt.Errorf("%w: already short %s", ErrOrderRejected, symbol)
		}
		if qty > pos.qty {
			return fmt.Errorf("%w: sell of %d exceeds long of %d in %s", ErrOrderRejected, qty, pos.qty, symbol)
		}
		p.cash = p.cash.Add(price.Mul(n))
		pos.qty -= qty
	}

	if pos != nil && pos.qty == 0 {
		delete(p.positions, symbol)
	}
	return nil
}
