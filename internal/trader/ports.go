package trader

import (
	"context"
	"errors"

	"stock-signal-bot-go/internal/analysis"
	"stock-signal-bot-go/internal/broker"
	"stock-signal-bot-go/internal/market"
	"stock-signal-bot-go/internal/sentiment"
)

// ErrUpstreamUnavailable marks a failed call to market data or the broker.
// The symbol is skipped for the cycle.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// BarProvider supplies historical bars, oldest first.
type BarProvider interface {
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error)
}

// FundamentalsProvider supplies company figures. Every field may be missing.
type FundamentalsProvider interface {
	GetFundamentals(ctx context.Context, symbol string) (analysis.Fundamentals, error)
}

// SentimentProvider supplies a news sentiment direction.
type SentimentProvider interface {
	GetSentiment(ctx context.Context, symbol string) (sentiment.Result, error)
}

// Executor is the order-execution port.
type Executor interface {
	GetAccount(ctx context.Context) (broker.Account, error)
	GetPosition(ctx context.Context, symbol string) (float64, error)
	SubmitOrder(ctx context.Context, order broker.OrderRequest) (string, error)
	ClosePosition(ctx context.Context, symbol string) (string, error)
}

// PriceMarker is implemented by executors that fill at a locally known price.
type PriceMarker interface {
	MarkPrice(symbol string, price float64)
}

// Broadcaster publishes decision events to live subscribers.
type Broadcaster interface {
	Broadcast(event DecisionEvent)
}
