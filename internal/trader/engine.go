package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stock-signal-bot-go/internal/analysis"
	"stock-signal-bot-go/internal/broker"
	"stock-signal-bot-go/internal/config"
	"stock-signal-bot-go/internal/indicators"
	"stock-signal-bot-go/internal/ledger"
	"stock-signal-bot-go/internal/limits"
	"stock-signal-bot-go/internal/market"
	"stock-signal-bot-go/internal/models"
	"stock-signal-bot-go/internal/notify"
	"stock-signal-bot-go/internal/risk"
	"stock-signal-bot-go/internal/sentiment"
	"stock-signal-bot-go/internal/signal"
)

const shutdownFlushTimeout = 5 * time.Second

// Dependencies are the ports the engine drives. Broadcaster and Notifier are optional.
type Dependencies struct {
	Bars         BarProvider
	Fundamentals FundamentalsProvider
	Sentiment    SentimentProvider
	Executor     Executor
	Store        ledger.Store
	Notifier     notify.Notifier
	Broadcaster  Broadcaster
}

// DecisionEvent is the published summary of one decision. All numbers are finite.
type DecisionEvent struct {
	Symbol     string      `json:"symbol"`
	Strategy   string      `json:"strategy"`
	Signal     signal.Type `json:"signal"`
	Confidence int         `json:"confidence"`
	Reason     string      `json:"reason"`
	Technical  signal.Type `json:"technical"`
	Sentiment  signal.Type `json:"sentiment"`
	Score      *int        `json:"score,omitempty"`
	Price      float64     `json:"price"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Engine is the core trading engine that runs the polling decision loop.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger   *zap.Logger
	cfg      *config.Config
	deps     Dependencies
	strategy Strategy
	windows  indicators.Windows
	planner  risk.Planner
	guard    *limits.Guard
	book     *risk.PositionBook
	now      func() time.Time

	mu        sync.RWMutex
	decisions map[string]DecisionEvent
	equity    []models.EquitySnapshot
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, deps Dependencies) (*Engine, error) {
	if deps.Bars == nil || deps.Executor == nil || deps.Store == nil {
		return nil, fmt.Errorf("%w: engine needs bars, executor and store", config.ErrConfiguration)
	}
	if deps.Fundamentals == nil {
		deps.Fundamentals = noFundamentals{}
	}
	if deps.Sentiment == nil {
		deps.Sentiment = noSentiment{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}

	strategy, err := NewStrategy(cfg.Trading.Strategy)
	if err != nil {
		return nil, err
	}

	var sizer risk.Sizer = risk.ATRSizer{RiskPct: cfg.Risk.RiskPct, StopMultiplier: cfg.Risk.StopMultiplier}
	if cfg.Risk.Sizing == config.SizingBuyingPower {
		sizer = risk.BuyingPowerSizer{MaxPositionPct: cfg.Risk.MaxPositionPct, ScaleWithSignal: cfg.Risk.ScaleWithSignal}
	}

	windows := indicators.Windows{
		MAShort:      cfg.Indicators.MAShort,
		MALong:       cfg.Indicators.MALong,
		RSIPeriod:    cfg.Indicators.RSIPeriod,
		ATRPeriod:    cfg.Indicators.ATRPeriod,
		VolumeWindow: cfg.Indicators.VolumeWindow,
	}
	if windows == (indicators.Windows{}) {
		windows = indicators.DefaultWindows()
	}

	logger = logger.Named("engine")
	caps := limits.Caps{
		MaxTrades: cfg.Limits.MaxDailyTrades,
		MaxBuys:   cfg.Limits.MaxDailyBuys,
		MaxSells:  cfg.Limits.MaxDailySells,
	}

	return &Engine{
		UUID:      uuid.NewString(),
		Name:      "stock-signal-bot",
		StartTime: time.Now(),
		logger:    logger,
		cfg:       cfg,
		deps:      deps,
		strategy:  strategy,
		windows:   windows,
		planner: risk.Planner{
			Sizer:         sizer,
			StopLossPct:   cfg.Risk.StopLossPct,
			TakeProfitPct: cfg.Risk.TakeProfitPct,
		},
		guard:     limits.NewGuard(deps.Store, caps, cfg.Trading.Location(), logger),
		book:      risk.NewPositionBook(),
		now:       time.Now,
		decisions: make(map[string]DecisionEvent),
	}, nil
}

// Positions returns the open positions, ordered by symbol.
func (e *Engine) Positions() []risk.Position {
	return e.book.All()
}

// Decisions returns the latest decision per symbol, ordered by symbol.
func (e *Engine) Decisions() []DecisionEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]DecisionEvent, 0, len(e.decisions))
	for _, d := range e.decisions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// StrategyName returns the name of the active strategy.
func (e *Engine) StrategyName() string {
	return e.strategy.Name()
}

// Run starts the trading engine's main loop. It returns when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Starting trading engine",
		zap.String("uuid", e.UUID),
		zap.String("strategy", e.strategy.Name()),
		zap.Strings("symbols", e.cfg.Trading.Symbols),
		zap.Bool("dry_run", e.cfg.Trading.DryRun),
	)
	if err := e.Restore(ctx); err != nil {
		e.logger.Error("Failed to restore open positions from the ledger", zap.Error(err))
	}

	interval := e.cfg.Trading.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("Starting decision loop", zap.Duration("interval", interval))
	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping trading engine...")
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
			if err := e.FlushEquity(flushCtx); err != nil {
				e.logger.Error("Failed to flush equity snapshots on shutdown", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			// both cases may be ready; stop wins
			if ctx.Err() != nil {
				continue
			}
			e.RunCycle(ctx)
		}
	}
}

// Restore rebuilds the position book from the ledger's open lots. Simulated trades are
// ignored because the paper account does not survive a restart.
func (e *Engine) Restore(ctx context.Context) error {
	if e.cfg.Trading.DryRun {
		return nil
	}
	records, err := e.deps.Store.ReadTrades(ctx, ledger.Filter{})
	if err != nil {
		return err
	}
	live := ledger.BySimulation(records, false)

	type agg struct {
		side     risk.Side
		qty      float64
		cost     float64
		openedAt time.Time
	}
	open := make(map[string]*agg)
	for _, lot := range ledger.Reconcile(live).OpenLots {
		side := risk.Long
		if lot.Side == ledger.LotShort {
			side = risk.Short
		}
		a, ok := open[lot.Symbol]
		if !ok {
			a = &agg{side: side, openedAt: lot.OpenedAt}
			open[lot.Symbol] = a
		}
		a.qty += lot.Quantity
		a.cost += lot.Quantity * lot.Price
	}

	for symbol, a := range open {
		if a.qty < 1 {
			continue
		}
		entry := a.cost / a.qty
		stop, take := risk.Bracket(a.side, entry, e.cfg.Risk.StopLossPct, e.cfg.Risk.TakeProfitPct)
		pos := risk.Position{
			Symbol:   symbol,
			Side:     a.side,
			Quantity: int(a.qty),
			Entry:    entry,
			Stop:     stop,
			Take:     take,
			OpenedAt: a.openedAt,
		}
		if err := e.book.Open(pos); err == nil {
			e.logger.Info("Restored open position", zap.String("symbol", symbol), zap.String("side", string(a.side)), zap.Int("qty", pos.Quantity))
		}
	}
	return nil
}

// RunCycle analyses every configured symbol once. Failures are isolated per symbol.
// A started cycle runs to completion; Run observes cancellation between cycles.
func (e *Engine) RunCycle(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	e.logger.Info("Running decision cycle...")

	benchmark, err := e.fetchSeries(ctx, e.cfg.Trading.Benchmark)
	if err != nil {
		// the market criterion evaluates false without a benchmark
		e.logger.Warn("Benchmark unavailable", zap.String("benchmark", e.cfg.Trading.Benchmark), zap.Error(err))
	}
	benchSnap := indicators.Compute(benchmark, nil, e.windows, -1)

	for _, symbol := range e.cfg.Trading.Symbols {
		if err := e.processSymbol(ctx, symbol, benchmark, benchSnap); err != nil {
			e.logger.Error("Symbol processing failed", zap.String("symbol", symbol), zap.Error(err))
			if !errors.Is(err, ErrUpstreamUnavailable) {
				e.notify(ctx, notify.ErrorMessage("Trading error on "+symbol, err))
			}
		}
	}

	e.recordEquity(ctx)
	if err := e.FlushEquity(ctx); err != nil {
		e.logger.Error("Failed to flush equity snapshots", zap.Error(err))
	}
	e.logger.Info("Decision cycle complete.", zap.Int("open_positions", e.book.Len()))
}

func (e *Engine) fetchSeries(ctx context.Context, symbol string) (market.Series, error) {
	bars, err := e.deps.Bars.GetBars(ctx, symbol, e.cfg.Trading.Timeframe, e.cfg.Trading.BarLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: bars for %s: %v", ErrUpstreamUnavailable, symbol, err)
	}
	series, err := market.NewSeries(bars)
	if err != nil {
		return nil, fmt.Errorf("bars for %s: %w", symbol, err)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", ErrUpstreamUnavailable, symbol)
	}
	return series, nil
}

// Analyze computes the current decision for symbol without acting on it.
func (e *Engine) Analyze(ctx context.Context, symbol string) (Decision, indicators.Snapshot, error) {
	series, err := e.fetchSeries(ctx, symbol)
	if err != nil {
		return Decision{}, indicators.Snapshot{}, err
	}
	benchmark, err := e.fetchSeries(ctx, e.cfg.Trading.Benchmark)
	if err != nil {
		e.logger.Warn("Benchmark unavailable", zap.String("benchmark", e.cfg.Trading.Benchmark), zap.Error(err))
	}
	snap, decision := e.decide(ctx, symbol, series, benchmark, indicators.Compute(benchmark, nil, e.windows, -1))
	return decision, snap, nil
}

func (e *Engine) decide(ctx context.Context, symbol string, series, benchmark market.Series, benchSnap indicators.Snapshot) (indicators.Snapshot, Decision) {
	snap := indicators.Compute(series, benchmark, e.windows, -1)
	in := DecisionInput{
		Symbol:       symbol,
		Stock:        snap,
		Benchmark:    benchSnap,
		Fundamentals: e.fundamentals(ctx, symbol),
		Sentiment:    e.sentiment(ctx, symbol),
	}
	decision := e.strategy.Decide(in)
	e.publish(symbol, decision, snap.Price, in.Sentiment)
	return snap, decision
}

func (e *Engine) fundamentals(ctx context.Context, symbol string) analysis.Fundamentals {
	f, err := e.deps.Fundamentals.GetFundamentals(ctx, symbol)
	if err != nil {
		e.logger.Warn("Fundamentals unavailable, scoring without them", zap.String("symbol", symbol), zap.Error(err))
		return analysis.Fundamentals{}
	}
	return f
}

func (e *Engine) sentiment(ctx context.Context, symbol string) sentiment.Result {
	s, err := e.deps.Sentiment.GetSentiment(ctx, symbol)
	if err != nil {
		e.logger.Warn("Sentiment unavailable, treating as neutral", zap.String("symbol", symbol), zap.Error(err))
		return sentiment.Neutral()
	}
	return s
}

func (e *Engine) publish(symbol string, d Decision, price float64, s sentiment.Result) {
	event := DecisionEvent{
		Symbol:     symbol,
		Strategy:   e.strategy.Name(),
		Signal:     d.Signal.Type,
		Confidence: d.Signal.Confidence,
		Reason:     d.Signal.Reason,
		Technical:  d.Technical.Type,
		Sentiment:  s.Signal,
		Price:      price,
		Timestamp:  e.now(),
	}
	if d.Criteria != nil {
		score := d.Criteria.Score()
		event.Score = &score
	}

	e.mu.Lock()
	e.decisions[symbol] = event
	e.mu.Unlock()

	if e.deps.Broadcaster != nil {
		e.deps.Broadcaster.Broadcast(event)
	}
}

func (e *Engine) processSymbol(ctx context.Context, symbol string, benchmark market.Series, benchSnap indicators.Snapshot) error {
	series, err := e.fetchSeries(ctx, symbol)
	if err != nil {
		return err
	}
	last, _ := series.Last()
	price := last.Close
	if m, ok := e.deps.Executor.(PriceMarker); ok {
		m.MarkPrice(symbol, price)
	}

	l := e.logger.With(zap.String("symbol", symbol), zap.Float64("price", price))

	exited, err := e.manageOpenPosition(ctx, symbol, price)
	if err != nil || exited {
		return err
	}

	snap, decision := e.decide(ctx, symbol, series, benchmark, benchSnap)
	if maxATR := e.cfg.Trading.MaxATRPct; maxATR > 0 && indicators.Defined(snap.ATR) && snap.ATR/price > maxATR {
		l.Info("Volatility above limit, skipping", zap.Float64("atr_pct", snap.ATR/price), zap.Float64("max_atr_pct", maxATR))
		return nil
	}

	sig := decision.Signal
	l.Info("Decision", zap.String("signal", string(sig.Type)), zap.Int("confidence", sig.Confidence), zap.String("reason", sig.Reason))
	if sig.Confidence < e.cfg.Trading.MinConfidence {
		l.Debug("Confidence below threshold, not acting", zap.Int("min_confidence", e.cfg.Trading.MinConfidence))
		return nil
	}

	switch {
	case sig.Type.IsBuy():
		return e.onBuySignal(ctx, symbol, price, snap, sig)
	case sig.Type.IsSell():
		return e.onSellSignal(ctx, symbol, price, snap, sig)
	}
	return nil
}

// manageOpenPosition closes the symbol's position when its stop or take is crossed,
// or forgets it when the broker already shows it flat. Exits are never blocked by the daily caps.
func (e *Engine) manageOpenPosition(ctx context.Context, symbol string, price float64) (bool, error) {
	pos, ok := e.book.Get(symbol)
	if !ok {
		return false, nil
	}

	held, err := e.deps.Executor.GetPosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("%w: position for %s: %v", ErrUpstreamUnavailable, symbol, err)
	}
	if held == 0 {
		// a bracket leg filled at the broker between cycles
		e.book.Close(symbol)
		e.appendTrade(ctx, models.TradeRecord{
			Timestamp:    e.now(),
			Symbol:       symbol,
			Action:       models.ActionClose,
			Side:         exitSide(pos.Side),
			Quantity:     float64(pos.Quantity),
			Price:        price,
			OrderID:      pos.OrderID,
			Status:       models.StatusFilled,
			Notes:        "closed at broker",
			IsSimulation: e.cfg.Trading.DryRun,
		})
		e.logger.Info("Position already closed at broker", zap.String("symbol", symbol))
		return true, nil
	}

	reason, hit := risk.CheckExit(pos, price)
	if !hit {
		return false, nil
	}
	return true, e.closePosition(ctx, pos, price, string(reason))
}

func (e *Engine) onBuySignal(ctx context.Context, symbol string, price float64, snap indicators.Snapshot, sig signal.Signal) error {
	if pos, ok := e.book.Get(symbol); ok {
		if pos.Side == risk.Short {
			if d := e.guard.Check(ctx, models.SideBuy); !d.Allowed {
				e.logger.Info("Cover blocked by daily limits", zap.String("symbol", symbol), zap.Error(d.Err()))
				return nil
			}
			return e.closePosition(ctx, pos, price, sig.Reason)
		}
		e.logger.Debug("Already long, skipping buy", zap.String("symbol", symbol))
		return nil
	}
	return e.open(ctx, symbol, risk.Long, price, snap, sig)
}

func (e *Engine) onSellSignal(ctx context.Context, symbol string, price float64, snap indicators.Snapshot, sig signal.Signal) error {
	if pos, ok := e.book.Get(symbol); ok {
		if pos.Side == risk.Long {
			if d := e.guard.Check(ctx, models.SideSell); !d.Allowed {
				e.logger.Info("Sell blocked by daily limits", zap.String("symbol", symbol), zap.Error(d.Err()))
				return nil
			}
			return e.closePosition(ctx, pos, price, sig.Reason)
		}
		e.logger.Debug("Already short, skipping sell", zap.String("symbol", symbol))
		return nil
	}
	if !e.cfg.Trading.AllowShorts {
		e.logger.Debug("Sell signal without a position, shorts disabled", zap.String("symbol", symbol))
		return nil
	}
	return e.open(ctx, symbol, risk.Short, price, snap, sig)
}

func entrySide(side risk.Side) string {
	if side == risk.Short {
		return models.SideSell
	}
	return models.SideBuy
}

func exitSide(side risk.Side) string {
	if side == risk.Short {
		return models.SideBuy
	}
	return models.SideSell
}

func (e *Engine) status() string {
	if e.cfg.Trading.DryRun {
		return models.StatusSimulated
	}
	return models.StatusSubmitted
}

func (e *Engine) open(ctx context.Context, symbol string, side risk.Side, price float64, snap indicators.Snapshot, sig signal.Signal) error {
	orderSide := entrySide(side)
	l := e.logger.With(zap.String("symbol", symbol), zap.String("side", orderSide))

	held, err := e.deps.Executor.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%w: position for %s: %v", ErrUpstreamUnavailable, symbol, err)
	}
	if held != 0 {
		l.Info("Broker already holds a position, skipping", zap.Float64("qty", held))
		return nil
	}

	if d := e.guard.Check(ctx, orderSide); !d.Allowed {
		l.Info("Order blocked by daily limits", zap.Error(d.Err()))
		return nil
	}

	acct, err := e.deps.Executor.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("%w: account: %v", ErrUpstreamUnavailable, err)
	}

	plan, err := e.planner.Plan(symbol, side, risk.SizingInput{
		Equity:      acct.Equity,
		BuyingPower: acct.BuyingPower,
		Entry:       price,
		ATR:         snap.ATR,
		Confidence:  sig.Confidence,
	})
	if err != nil {
		if errors.Is(err, risk.ErrInvalidSizing) {
			l.Warn("Plan rejected", zap.Error(err))
			return nil
		}
		return err
	}

	stop, take := plan.Stop, plan.Take
	orderID, err := e.deps.Executor.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:        symbol,
		Quantity:      plan.Quantity,
		Side:          orderSide,
		Type:          broker.OrderTypeMarket,
		TimeInForce:   broker.TimeInForceGTC,
		StopPrice:     &stop,
		TakePrice:     &take,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("failed to submit %s order for %s: %w", orderSide, symbol, err)
	}

	now := e.now()
	e.appendTrade(ctx, models.TradeRecord{
		Timestamp:    now,
		Symbol:       symbol,
		Action:       models.ActionOpen,
		Side:         orderSide,
		Quantity:     float64(plan.Quantity),
		Price:        plan.Entry,
		OrderID:      orderID,
		Status:       e.status(),
		Notes:        sig.String(),
		IsSimulation: e.cfg.Trading.DryRun,
	})

	pos := risk.Position{
		Symbol:   symbol,
		Side:     side,
		Quantity: plan.Quantity,
		Entry:    plan.Entry,
		Stop:     plan.Stop,
		Take:     plan.Take,
		OrderID:  orderID,
		OpenedAt: now,
	}
	if err := e.book.Open(pos); err != nil {
		return err
	}

	l.Info("Position opened",
		zap.String("order_id", orderID),
		zap.Int("qty", plan.Quantity),
		zap.Float64("stop", plan.Stop),
		zap.Float64("take", plan.Take),
	)
	e.notify(ctx, notify.OpenMessage(symbol, orderSide, plan.Quantity, plan.Entry, plan.Stop, plan.Take, orderID))
	return nil
}

func (e *Engine) closePosition(ctx context.Context, pos risk.Position, price float64, reason string) error {
	orderID, err := e.deps.Executor.ClosePosition(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("failed to close position in %s: %w", pos.Symbol, err)
	}
	e.book.Close(pos.Symbol)

	e.appendTrade(ctx, models.TradeRecord{
		Timestamp:    e.now(),
		Symbol:       pos.Symbol,
		Action:       models.ActionClose,
		Side:         exitSide(pos.Side),
		Quantity:     float64(pos.Quantity),
		Price:        price,
		OrderID:      orderID,
		Status:       e.status(),
		Notes:        reason,
		IsSimulation: e.cfg.Trading.DryRun,
	})

	pnl := pos.PnL(price)
	e.logger.Info("Position closed",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit", price),
		zap.Float64("pnl", pnl),
	)
	e.notify(ctx, notify.CloseMessage(pos.Symbol, reason, pos.Quantity, price, pnl))
	return nil
}

// appendTrade records an executed order. A failed write is logged and does not undo the order.
func (e *Engine) appendTrade(ctx context.Context, record models.TradeRecord) {
	if err := e.deps.Store.AppendTrade(ctx, &record); err != nil {
		e.logger.Error("Failed to save trade record", zap.String("symbol", record.Symbol), zap.Error(err))
		return
	}
	e.logger.Debug("Saved trade record", zap.Uint("trade_id", record.ID))
}

func (e *Engine) notify(ctx context.Context, text string) {
	if err := e.deps.Notifier.Send(ctx, text); err != nil {
		e.logger.Warn("Failed to send notification", zap.Error(err))
	}
}

func (e *Engine) recordEquity(ctx context.Context) {
	acct, err := e.deps.Executor.GetAccount(ctx)
	if err != nil {
		e.logger.Warn("Could not read account for equity snapshot", zap.Error(err))
		return
	}
	e.mu.Lock()
	e.equity = append(e.equity, models.EquitySnapshot{
		Timestamp:     e.now(),
		Equity:        acct.Equity,
		Cash:          acct.Cash,
		BuyingPower:   acct.BuyingPower,
		OpenPositions: e.book.Len(),
	})
	e.mu.Unlock()
}

// FlushEquity writes buffered equity snapshots. They stay buffered when the write fails.
func (e *Engine) FlushEquity(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.equity) == 0 {
		return nil
	}
	if err := e.deps.Store.AppendEquity(ctx, e.equity); err != nil {
		return err
	}
	e.equity = nil
	return nil
}

type noFundamentals struct{}

func (noFundamentals) GetFundamentals(context.Context, string) (analysis.Fundamentals, error) {
	return analysis.Fundamentals{}, nil
}

type noSentiment struct{}

func (noSentiment) GetSentiment(context.Context, string) (sentiment.Result, error) {
	return sentiment.Neutral(), nil
}
