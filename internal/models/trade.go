package models

import "time"

const (
	ActionOpen  = "OPEN"
	ActionClose = "CLOSE"

	SideBuy  = "BUY"
	SideSell = "SELL"

	StatusSubmitted = "submitted"
	StatusFilled    = "filled"
	StatusSimulated = "simulated"
)

// TradeRecord is an append-only log entry for one executed order.
// Its columns follow timestamp,symbol,action,side,qty,price,order_id,status,notes.
type TradeRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id" bson:"-"`
	Timestamp    time.Time `gorm:"index;not null" json:"timestamp" bson:"timestamp"`
	Symbol       string    `gorm:"index;size:16;not null" json:"symbol" bson:"symbol"`
	Action       string    `gorm:"size:8;not null" json:"action" bson:"action"` // OPEN or CLOSE
	Side         string    `gorm:"size:8;not null" json:"side" bson:"side"`     // BUY or SELL
	Quantity     float64   `json:"qty" bson:"qty"`
	Price        float64   `json:"price" bson:"price"`
	OrderID      string    `gorm:"size:64" json:"order_id" bson:"order_id"`
	Status       string    `gorm:"size:16" json:"status" bson:"status"`
	Notes        string    `json:"notes" bson:"notes"`
	IsSimulation bool      `json:"is_simulation" bson:"is_simulation"`
}

func (TradeRecord) TableName() string {
	return "trade_records"
}

// IsShortEntry reports whether the record opens a short position.
func (t TradeRecord) IsShortEntry() bool {
	return t.Action == ActionOpen && t.Side == SideSell
}

// IsShortCover reports whether the record closes a short position.
func (t TradeRecord) IsShortCover() bool {
	return t.Action == ActionClose && t.Side == SideBuy
}
