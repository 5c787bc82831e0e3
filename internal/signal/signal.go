package signal

import (
	"fmt"
	"strings"

	"stock-signal-bot-go/internal/analysis"
)

// Type is the ranked trading outcome.
type Type string

const (
	StrongBuy  Type = "STRONG_BUY"
	Buy        Type = "BUY"
	Hold       Type = "HOLD"
	Sell       Type = "SELL"
	StrongSell Type = "STRONG_SELL"
)

const (
	ConfidenceHigh = 90
	ConfidenceLow  = 20

	reasonInsufficient = "Insufficient buy/sell signals"
)

// IsBuy reports whether t is on the buy side.
func (t Type) IsBuy() bool { return t == Buy || t == StrongBuy }

// IsSell reports whether t is on the sell side.
func (t Type) IsSell() bool { return t == Sell || t == StrongSell }

// Signal is a decision with a 0-100 confidence and a human readable reason.
type Signal struct {
	Type       Type   `json:"signal"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

func (s Signal) String() string {
	return fmt.Sprintf("%s (%d%%): %s", s.Type, s.Confidence, s.Reason)
}

// Decide derives the technical decision from one analysis cycle.
// Sell reasons pre-empt the buy score.
func Decide(c analysis.CriteriaResult) Signal {
	if n := len(c.SellReasons); n > 0 {
		return Signal{Type: Sell, Confidence: min(100, 30*n), Reason: strings.Join(c.SellReasons, "; ")}
	}
	switch c.Score() {
	case 4:
		return Signal{Type: StrongBuy, Confidence: 95, Reason: "All 4 criteria met"}
	case 3:
		return Signal{Type: Buy, Confidence: 75, Reason: "3 of 4 criteria met"}
	}
	if len(c.HoldFacts) > 0 {
		return Signal{Type: Hold, Confidence: 50, Reason: strings.Join(c.HoldFacts, "; ")}
	}
	return Signal{Type: Hold, Confidence: 30, Reason: reasonInsufficient}
}

// Fuse combines a technical decision with an external sentiment direction.
// Agreement escalates, disagreement neutralizes to HOLD, anything else passes through.
func Fuse(technical Signal, sentiment Type) Signal {
	switch {
	case technical.Type.IsBuy() && sentiment.IsBuy():
		return Signal{
			Type:       StrongBuy,
			Confidence: max(technical.Confidence, ConfidenceHigh),
			Reason:     technical.Reason + "; sentiment confirms BUY",
		}
	case technical.Type.IsSell() && sentiment.IsSell():
		return Signal{
			Type:       StrongSell,
			Confidence: max(technical.Confidence, ConfidenceHigh),
			Reason:     technical.Reason + "; sentiment confirms SELL",
		}
	case technical.Type.IsBuy() && sentiment.IsSell(), technical.Type.IsSell() && sentiment.IsBuy():
		return Signal{
			Type:       Hold,
			Confidence: ConfidenceLow,
			Reason:     fmt.Sprintf("%s; Mixed signals: Tech=%s, News=%s", technical.Reason, technical.Type, sentiment),
		}
	default:
		return technical
	}
}
