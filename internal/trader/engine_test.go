package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"stock-signal-bot-go/internal/broker"
	"stock-signal-bot-go/internal/config"
	"stock-signal-bot-go/internal/database"
	"stock-signal-bot-go/internal/fundamentals"
	"stock-signal-bot-go/internal/ledger"
	"stock-signal-bot-go/internal/market"
	"stock-signal-bot-go/internal/models"
	"stock-signal-bot-go/internal/risk"
	"stock-signal-bot-go/internal/sentiment"
	"stock-signal-bot-go/internal/signal"
)

// MockBarProvider is a mock implementation of the BarProvider port.
type MockBarProvider struct {
	mock.Mock
}

func (m *MockBarProvider) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error) {
	args := m.Called(ctx, symbol, timeframe, limit)
	bars, _ := args.Get(0).([]market.Bar)
	return bars, args.Error(1)
}

// MockSentiment is a mock implementation of the SentimentProvider port.
type MockSentiment struct {
	mock.Mock
}

func (m *MockSentiment) GetSentiment(ctx context.Context, symbol string) (sentiment.Result, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(sentiment.Result), args.Error(1)
}

// MockExecutor is a mock implementation of the Executor port.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) GetAccount(ctx context.Context) (broker.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).(broker.Account), args.Error(1)
}

func (m *MockExecutor) GetPosition(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockExecutor) SubmitOrder(ctx context.Context, order broker.OrderRequest) (string, error) {
	args := m.Called(ctx, order)
	return args.String(0), args.Error(1)
}

func (m *MockExecutor) ClosePosition(ctx context.Context, symbol string) (string, error) {
	args := m.Called(ctx, symbol)
	return args.String(0), args.Error(1)
}

type failingEquityStore struct {
	*ledger.GormStore
}

func (failingEquityStore) AppendEquity(context.Context, []models.EquitySnapshot) error {
	return errors.New("disk full")
}

func ptr(v float64) *float64 { return &v }

func trendingBars(n int, start, step, volume float64) []market.Bar {
	t0 := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		c := start + step*float64(i)
		bars[i] = market.Bar{
			Timestamp: t0.Add(time.Duration(i) * 24 * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    volume,
		}
	}
	return bars
}

// breakoutBars rises steadily and ends on a volume spike: all four criteria hold.
// The last close is 150 and the ATR is 2.
func breakoutBars() []market.Bar {
	bars := trendingBars(201, 50, 0.5, 1000)
	bars[len(bars)-1].Volume = 2000
	return bars
}

func withLastClose(bars []market.Bar, close float64) []market.Bar {
	out := append([]market.Bar(nil), bars...)
	out[len(out)-1].Close = close
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.Trading{
			Symbols:       []string{"AAPL"},
			Benchmark:     "SPY",
			Timeframe:     "1Day",
			BarLimit:      300,
			TickInterval:  60,
			DryRun:        true,
			Strategy:      config.StrategyMultiFactor,
			MinConfidence: 70,
			Timezone:      "UTC",
		},
		Indicators: config.Indicators{MAShort: 10, MALong: 20, RSIPeriod: 14, ATRPeriod: 14, VolumeWindow: 50},
		Risk: config.Risk{
			Sizing:         config.SizingATR,
			RiskPct:        0.01,
			StopMultiplier: 2,
			MaxPositionPct: 0.1,
			StopLossPct:    0.02,
			TakeProfitPct:  0.04,
		},
		Limits: config.Limits{MaxDailyTrades: 10, MaxDailyBuys: 5, MaxDailySells: 5},
		Fundamentals: map[string]config.Fundamentals{
			"AAPL": {TrailingEPS: ptr(2), ForwardEPS: ptr(2.6)},
		},
	}
}

// setupTest creates a test environment with mocked market data and an in-memory ledger.
func setupTest(t *testing.T) (*ledger.GormStore, *MockBarProvider, *MockSentiment) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	bars := new(MockBarProvider)
	bars.On("GetBars", mock.Anything, "SPY", "1Day", 300).Return(trendingBars(201, 300, 1, 5000), nil)

	sent := new(MockSentiment)
	return ledger.NewGormStore(db), bars, sent
}

func newTestEngine(t *testing.T, cfg *config.Config, deps Dependencies) *Engine {
	if deps.Fundamentals == nil {
		deps.Fundamentals = fundamentals.NewStatic(cfg.Fundamentals)
	}
	e, err := NewEngine(zap.NewNop(), cfg, deps)
	require.NoError(t, err)
	return e
}

func TestEngine_OpensAndStopsOutLong(t *testing.T) {
	ctx := context.Background()
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, "AAPL").Return(sentiment.Neutral(), nil)
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(breakoutBars(), nil).Once()
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(withLastClose(breakoutBars(), 140), nil).Once()

	paper := broker.NewPaper(100000, zap.NewNop())
	e := newTestEngine(t, testConfig(), Dependencies{Bars: bars, Sentiment: sent, Executor: paper, Store: store})

	// Cycle 1: STRONG_BUY sized by ATR: 100000 * 0.01 / (2 * 2) = 250 shares
	e.RunCycle(ctx)

	positions := e.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, risk.Long, pos.Side)
	assert.Equal(t, 250, pos.Quantity)
	assert.InDelta(t, 147.0, pos.Stop, 1e-9)
	assert.InDelta(t, 156.0, pos.Take, 1e-9)

	decisions := e.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, signal.StrongBuy, decisions[0].Signal)
	assert.Equal(t, 95, decisions[0].Confidence)
	require.NotNil(t, decisions[0].Score)
	assert.Equal(t, 4, *decisions[0].Score)

	// Cycle 2: the close drops through the stop
	e.RunCycle(ctx)
	assert.Empty(t, e.Positions())

	records, err := store.ReadTrades(ctx, ledger.Filter{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.ActionOpen, records[0].Action)
	assert.Equal(t, models.SideBuy, records[0].Side)
	assert.Equal(t, models.StatusSimulated, records[0].Status)
	assert.True(t, records[0].IsSimulation)
	assert.Equal(t, models.ActionClose, records[1].Action)
	assert.Equal(t, models.SideSell, records[1].Side)
	assert.Equal(t, string(risk.StopLossHit), records[1].Notes)

	report := ledger.Reconcile(records)
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, "-2500", report.RealizedPnL.String())

	acct, err := paper.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 97500.0, acct.Cash, 1e-6)

	snapshots, err := store.ReadEquity(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, snapshots, 2, "one equity snapshot per cycle")
	bars.AssertExpectations(t)
}

func TestEngine_UpstreamFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, mock.Anything).Return(sentiment.Neutral(), nil)
	bars.On("GetBars", mock.Anything, "BAD", "1Day", 300).Return(nil, errors.New("connection reset"))
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(breakoutBars(), nil)

	cfg := testConfig()
	cfg.Trading.Symbols = []string{"BAD", "AAPL"}
	e := newTestEngine(t, cfg, Dependencies{Bars: bars, Sentiment: sent, Executor: broker.NewPaper(100000, zap.NewNop()), Store: store})

	e.RunCycle(ctx)

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	sent.AssertNotCalled(t, "GetSentiment", mock.Anything, "BAD")
}

func TestEngine_MixedSentimentHolds(t *testing.T) {
	ctx := context.Background()
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, "AAPL").Return(sentiment.Result{Signal: signal.Sell, Score: -1, Headlines: 3}, nil)
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(breakoutBars(), nil)

	exec := new(MockExecutor)
	exec.On("GetAccount", mock.Anything).Return(broker.Account{Equity: 100000, Cash: 100000, BuyingPower: 100000}, nil)
	e := newTestEngine(t, testConfig(), Dependencies{Bars: bars, Sentiment: sent, Executor: exec, Store: store})

	e.RunCycle(ctx)

	decisions := e.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, signal.Hold, decisions[0].Signal)
	assert.Equal(t, signal.ConfidenceLow, decisions[0].Confidence)
	assert.Contains(t, decisions[0].Reason, "Mixed signals: Tech=STRONG_BUY, News=SELL")
	exec.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestEngine_DailyLimitBlocksBuy(t *testing.T) {
	ctx := context.Background()
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, "AAPL").Return(sentiment.Neutral(), nil)
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(breakoutBars(), nil)
	require.NoError(t, store.AppendTrade(ctx, &models.TradeRecord{
		Timestamp: time.Now(), Symbol: "MSFT", Action: models.ActionOpen, Side: models.SideBuy, Quantity: 1, Price: 400,
	}))

	exec := new(MockExecutor)
	exec.On("GetPosition", mock.Anything, "AAPL").Return(0.0, nil)
	exec.On("GetAccount", mock.Anything).Return(broker.Account{Equity: 100000, Cash: 100000, BuyingPower: 100000}, nil)

	cfg := testConfig()
	cfg.Limits.MaxDailyBuys = 1
	e := newTestEngine(t, cfg, Dependencies{Bars: bars, Sentiment: sent, Executor: exec, Store: store})

	e.RunCycle(ctx)

	assert.Empty(t, e.Positions())
	exec.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestEngine_BracketFilledAtBroker(t *testing.T) {
	ctx := context.Background()
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, "AAPL").Return(sentiment.Neutral(), nil)
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(breakoutBars(), nil)

	exec := new(MockExecutor)
	exec.On("GetPosition", mock.Anything, "AAPL").Return(0.0, nil)
	exec.On("GetAccount", mock.Anything).Return(broker.Account{Equity: 100000, Cash: 100000, BuyingPower: 100000}, nil)
	exec.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(o broker.OrderRequest) bool {
		return o.Symbol == "AAPL" && o.Side == models.SideBuy && o.Quantity == 250 &&
			o.Bracket() && o.TimeInForce == broker.TimeInForceGTC && o.ClientOrderID != ""
	})).Return("ord-1", nil).Once()

	cfg := testConfig()
	cfg.Trading.DryRun = false
	e := newTestEngine(t, cfg, Dependencies{Bars: bars, Sentiment: sent, Executor: exec, Store: store})

	e.RunCycle(ctx)
	require.Len(t, e.Positions(), 1)

	// the broker reports flat on the next cycle: the bracket already exited
	e.RunCycle(ctx)
	assert.Empty(t, e.Positions())

	records, err := store.ReadTrades(ctx, ledger.Filter{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.StatusSubmitted, records[0].Status)
	assert.Equal(t, "ord-1", records[0].OrderID)
	assert.Equal(t, "closed at broker", records[1].Notes)
	exec.AssertNotCalled(t, "ClosePosition", mock.Anything, mock.Anything)
}

func TestEngine_OpensShortWhenAllowed(t *testing.T) {
	ctx := context.Background()
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, "TSLA").Return(sentiment.Result{Signal: signal.Sell, Score: -2, Headlines: 2}, nil)
	// falling for 200 bars: price 100 sits below both trend averages
	bars.On("GetBars", mock.Anything, "TSLA", "1Day", 300).Return(trendingBars(201, 200, -0.5, 1000), nil)

	cfg := testConfig()
	cfg.Trading.Symbols = []string{"TSLA"}
	cfg.Trading.AllowShorts = true
	paper := broker.NewPaper(100000, zap.NewNop())
	e := newTestEngine(t, cfg, Dependencies{Bars: bars, Sentiment: sent, Executor: paper, Store: store})

	e.RunCycle(ctx)

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, risk.Short, positions[0].Side)
	assert.InDelta(t, 102.0, positions[0].Stop, 1e-9)
	assert.InDelta(t, 96.0, positions[0].Take, 1e-9)

	decisions := e.Decisions()
	require.Len(t, decisions, 1)
	assert.Equal(t, signal.StrongSell, decisions[0].Signal)

	qty, err := paper.GetPosition(ctx, "TSLA")
	require.NoError(t, err)
	assert.Equal(t, -250.0, qty)
}

func TestEngine_SellWithoutPositionIgnoredWhenShortsDisabled(t *testing.T) {
	ctx := context.Background()
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, "TSLA").Return(sentiment.Result{Signal: signal.Sell, Score: -2, Headlines: 2}, nil)
	bars.On("GetBars", mock.Anything, "TSLA", "1Day", 300).Return(trendingBars(201, 200, -0.5, 1000), nil)

	cfg := testConfig()
	cfg.Trading.Symbols = []string{"TSLA"}
	exec := new(MockExecutor)
	exec.On("GetAccount", mock.Anything).Return(broker.Account{Equity: 100000}, nil)
	e := newTestEngine(t, cfg, Dependencies{Bars: bars, Sentiment: sent, Executor: exec, Store: store})

	e.RunCycle(ctx)

	assert.Empty(t, e.Positions())
	exec.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestEngine_VolatilityFilter(t *testing.T) {
	ctx := context.Background()
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, "AAPL").Return(sentiment.Neutral(), nil)
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(breakoutBars(), nil)

	cfg := testConfig()
	cfg.Trading.MaxATRPct = 0.01 // ATR/price is 2/150
	exec := new(MockExecutor)
	exec.On("GetAccount", mock.Anything).Return(broker.Account{Equity: 100000}, nil)
	e := newTestEngine(t, cfg, Dependencies{Bars: bars, Sentiment: sent, Executor: exec, Store: store})

	e.RunCycle(ctx)

	assert.Empty(t, e.Positions())
	exec.AssertNotCalled(t, "GetPosition", mock.Anything, mock.Anything)
}

func TestEngine_Restore(t *testing.T) {
	ctx := context.Background()
	store, bars, _ := setupTest(t)
	t0 := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	for _, r := range []models.TradeRecord{
		{Timestamp: t0, Symbol: "AAPL", Action: models.ActionOpen, Side: models.SideBuy, Quantity: 10, Price: 100},
		{Timestamp: t0.Add(time.Hour), Symbol: "MSFT", Action: models.ActionOpen, Side: models.SideBuy, Quantity: 5, Price: 400},
		{Timestamp: t0.Add(2 * time.Hour), Symbol: "MSFT", Action: models.ActionClose, Side: models.SideSell, Quantity: 5, Price: 410},
		{Timestamp: t0, Symbol: "NVDA", Action: models.ActionOpen, Side: models.SideBuy, Quantity: 3, Price: 900, IsSimulation: true},
	} {
		r := r
		require.NoError(t, store.AppendTrade(ctx, &r))
	}

	cfg := testConfig()
	cfg.Trading.DryRun = false
	e := newTestEngine(t, cfg, Dependencies{Bars: bars, Executor: new(MockExecutor), Store: store})
	require.NoError(t, e.Restore(ctx))

	positions := e.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, 10, positions[0].Quantity)
	assert.InDelta(t, 98.0, positions[0].Stop, 1e-9)
	assert.InDelta(t, 104.0, positions[0].Take, 1e-9)
}

func TestEngine_FlushEquityKeepsBufferOnFailure(t *testing.T) {
	ctx := context.Background()
	store, bars, _ := setupTest(t)
	exec := new(MockExecutor)
	exec.On("GetAccount", mock.Anything).Return(broker.Account{Equity: 1000, Cash: 1000, BuyingPower: 1000}, nil)

	e := newTestEngine(t, testConfig(), Dependencies{Bars: bars, Executor: exec, Store: failingEquityStore{store}})
	e.recordEquity(ctx)
	assert.Error(t, e.FlushEquity(ctx))
	assert.Len(t, e.equity, 1)

	e.deps.Store = store
	require.NoError(t, e.FlushEquity(ctx))
	assert.Empty(t, e.equity)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, "AAPL").Return(sentiment.Neutral(), nil)
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(breakoutBars(), nil)

	e := newTestEngine(t, testConfig(), Dependencies{Bars: bars, Sentiment: sent, Executor: broker.NewPaper(100000, zap.NewNop()), Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(e.Positions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	snapshots, err := store.ReadEquity(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.NotEmpty(t, snapshots)
}

// cancelOnFill cancels the run context right after the broker accepts an order.
type cancelOnFill struct {
	*broker.Paper
	cancel context.CancelFunc
}

func (c *cancelOnFill) SubmitOrder(ctx context.Context, order broker.OrderRequest) (string, error) {
	id, err := c.Paper.SubmitOrder(ctx, order)
	c.cancel()
	return id, err
}

func TestEngine_CycleCompletesAfterCancel(t *testing.T) {
	store, bars, sent := setupTest(t)
	sent.On("GetSentiment", mock.Anything, mock.Anything).Return(sentiment.Neutral(), nil)
	bars.On("GetBars", mock.Anything, "AAPL", "1Day", 300).Return(breakoutBars(), nil)
	bars.On("GetBars", mock.Anything, "MSFT", "1Day", 300).Return(breakoutBars(), nil)

	cfg := testConfig()
	cfg.Trading.Symbols = []string{"AAPL", "MSFT"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &cancelOnFill{Paper: broker.NewPaper(100000, zap.NewNop()), cancel: cancel}
	e := newTestEngine(t, cfg, Dependencies{Bars: bars, Sentiment: sent, Executor: exec, Store: store})

	e.RunCycle(ctx)
	require.Error(t, ctx.Err())

	records, err := store.ReadTrades(context.Background(), ledger.Filter{Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, records, 1, "the filled order is in the ledger")
	assert.Equal(t, models.ActionOpen, records[0].Action)
	assert.Equal(t, 250.0, records[0].Quantity)

	bars.AssertCalled(t, "GetBars", mock.Anything, "MSFT", "1Day", 300)
	snapshots, err := store.ReadEquity(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

func TestNewEngineRequiresPorts(t *testing.T) {
	_, err := NewEngine(zap.NewNop(), testConfig(), Dependencies{})
	assert.ErrorIs(t, err, config.ErrConfiguration)

	cfg := testConfig()
	cfg.Trading.Strategy = "martingale"
	store, bars, _ := setupTest(t)
	_, err = NewEngine(zap.NewNop(), cfg, Dependencies{Bars: bars, Executor: new(MockExecutor), Store: store})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
