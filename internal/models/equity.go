package models

import "time"

// EquitySnapshot is the account value recorded after a polling cycle.
type EquitySnapshot struct {
	ID            uint      `gorm:"primaryKey" json:"id" bson:"-"`
	Timestamp     time.Time `gorm:"index;not null" json:"timestamp" bson:"timestamp"`
	Equity        float64   `json:"equity" bson:"equity"`
	Cash          float64   `json:"cash" bson:"cash"`
	BuyingPower   float64   `json:"buying_power" bson:"buying_power"`
	OpenPositions int       `json:"open_positions" bson:"open_positions"`
}

func (EquitySnapshot) TableName() string {
	return "equity_snapshots"
}
