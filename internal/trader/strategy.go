package trader

import (
	"fmt"

	"stock-signal-bot-go/internal/analysis"
	"stock-signal-bot-go/internal/config"
	"stock-signal-bot-go/internal/indicators"
	"stock-signal-bot-go/internal/sentiment"
	"stock-signal-bot-go/internal/signal"
)

// DecisionInput is everything a strategy sees for one symbol in one cycle.
type DecisionInput struct {
	Symbol       string
	Stock        indicators.Snapshot
	Benchmark    indicators.Snapshot
	Fundamentals analysis.Fundamentals
	Sentiment    sentiment.Result
}

// Decision is a strategy's output. Criteria is nil for strategies that do not score criteria.
type Decision struct {
	Technical signal.Signal
	Signal    signal.Signal
	Criteria  *analysis.CriteriaResult
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Decide turns one symbol's indicators and context into a fused signal.
	Decide(in DecisionInput) Decision
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case config.StrategyMultiFactor, "":
		return MultiFactorStrategy{}, nil
	case config.StrategyMACross:
		return MACrossStrategy{}, nil
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", config.ErrConfiguration, name)
}

// MultiFactorStrategy scores the four criteria and fuses the result with news sentiment.
type MultiFactorStrategy struct{}

var _ Strategy = MultiFactorStrategy{}

func (MultiFactorStrategy) Name() string { return config.StrategyMultiFactor }

func (MultiFactorStrategy) Decide(in DecisionInput) Decision {
	criteria := analysis.Evaluate(in.Stock, in.Benchmark, in.Fundamentals)
	technical := signal.Decide(criteria)
	return Decision{
		Technical: technical,
		Signal:    signal.Fuse(technical, in.Sentiment.Signal),
		Criteria:  &criteria,
	}
}

// MACrossStrategy trades short/long moving average crossings confirmed by RSI and volume.
type MACrossStrategy struct{}

var _ Strategy = MACrossStrategy{}

func (MACrossStrategy) Name() string { return config.StrategyMACross }

func (MACrossStrategy) Decide(in DecisionInput) Decision {
	technical := signal.DecideCrossover(in.Stock)
	return Decision{
		Technical: technical,
		Signal:    signal.Fuse(technical, in.Sentiment.Signal),
	}
}
