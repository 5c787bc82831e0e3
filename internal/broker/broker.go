package broker

import (
	"errors"
	"fmt"

	"stock-signal-bot-go/internal/models"
)

// ErrOrderRejected is returned when an order cannot be accepted as specified.
var ErrOrderRejected = errors.New("order rejected")

const (
	OrderTypeMarket = "market"

	TimeInForceDay = "day"
	TimeInForceGTC = "gtc"
)

// Account is the account summary from the order-execution port.
type Account struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

// OrderRequest is one order for the order-execution port.
// Side uses the ledger's BUY/SELL values. StopPrice and TakePrice make it a bracket order.
type OrderRequest struct {
	Symbol        string   `json:"symbol"`
	Quantity      int      `json:"qty"`
	Side          string   `json:"side"`
	Type          string   `json:"type"`
	TimeInForce   string   `json:"time_in_force"`
	StopPrice     *float64 `json:"stop_price,omitempty"`
	TakePrice     *float64 `json:"take_price,omitempty"`
	ClientOrderID string   `json:"client_order_id"`
}

// Bracket reports whether both bracket legs are set.
func (o OrderRequest) Bracket() bool {
	return o.StopPrice != nil && o.TakePrice != nil
}

// Validate checks the fields every order needs.
func (o OrderRequest) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrOrderRejected)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d for %s", ErrOrderRejected, o.Quantity, o.Symbol)
	}
	if o.Side != models.SideBuy && o.Side != models.SideSell {
		return fmt.Errorf("%w: unknown side %q for %s", ErrOrderRejected, o.Side, o.Symbol)
	}
	if (o.StopPrice == nil) != (o.TakePrice == nil) {
		return fmt.Errorf("%w: bracket for %s needs both stop and take", ErrOrderRejected, o.Symbol)
	}
	return nil
}
