package alpaca

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"stock-signal-bot-go/internal/broker"
	"stock-signal-bot-go/internal/config"
	"stock-signal-bot-go/internal/market"
)

const (
	paperTradingURL = "https://paper-api.alpaca.markets"
	liveTradingURL  = "https://api.alpaca.markets"
	dataURL         = "https://data.alpaca.markets"

	headerKeyID  = "APCA-API-KEY-ID"
	headerSecret = "APCA-API-SECRET-KEY"
)

// APIError is a non-success HTTP response that was not retried.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// RestClientInterface defines the brokerage and market data calls used by the bot.
type RestClientInterface interface {
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error)
	GetAccount(ctx context.Context) (broker.Account, error)
	GetPosition(ctx context.Context, symbol string) (float64, error)
	SubmitOrder(ctx context.Context, order broker.OrderRequest) (string, error)
	ClosePosition(ctx context.Context, symbol string) (string, error)
	GetNews(ctx context.Context, symbol string, limit int) ([]string, error)
}

// RestClient is a client for the Alpaca trading and market data REST APIs.
// It implements the RestClientInterface.
type RestClient struct {
	trading *resty.Client
	data    *resty.Client
	feed    string
	logger  *zap.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Alpaca REST API client.
func NewRestClient(cfg *config.Alpaca, logger *zap.Logger) *RestClient {
	logger = logger.Named("alpaca")

	tradingURL := cfg.TradingURL
	if tradingURL == "" {
		if cfg.Paper {
			tradingURL = paperTradingURL
		} else {
			tradingURL = liveTradingURL
		}
	}
	if cfg.Paper {
		logger.Warn("Using Alpaca paper trading", zap.String("url", tradingURL))
	} else {
		logger.Info("Using Alpaca live trading", zap.String("url", tradingURL))
	}
	marketURL := cfg.DataURL
	if marketURL == "" {
		marketURL = dataURL
	}

	auth := func(c *resty.Client) *resty.Client {
		return c.SetHeader(headerKeyID, cfg.ApiKeyID).
			SetHeader(headerSecret, cfg.SecretKey).
			SetHeader("Accept", "application/json").
			SetTimeout(30 * time.Second)
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		trading: auth(resty.New().SetBaseURL(tradingURL)),
		data:    auth(resty.New().SetBaseURL(marketURL)),
		feed:    cfg.Feed,
		logger:  logger,
		limiter: limiter,
		now:     time.Now,
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	req.SetContext(ctx)
	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
			err = &APIError{StatusCode: statusCode, Body: strings.TrimSpace(resp.String())}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, err
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

type barResponse struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type barsResponse struct {
	Bars          []barResponse `json:"bars"`
	Symbol        string        `json:"symbol"`
	NextPageToken *string       `json:"next_page_token"`
}

// lookback estimates how far back to start so that limit bars of timeframe fit,
// allowing for weekends and holidays.
func lookback(timeframe string, limit int) time.Duration {
	unit := 24 * time.Hour
	tf := strings.ToLower(timeframe)
	n := 1
	for i, r := range tf {
		if r < '0' || r > '9' {
			if v, err := strconv.Atoi(tf[:i]); err == nil && v > 0 {
				n = v
			}
			tf = tf[i:]
			break
		}
	}
	switch {
	case strings.HasPrefix(tf, "min") || tf == "t":
		unit = time.Minute
	case strings.HasPrefix(tf, "hour") || tf == "h":
		unit = time.Hour
	case strings.HasPrefix(tf, "week") || tf == "w":
		unit = 7 * 24 * time.Hour
	case strings.HasPrefix(tf, "month") || tf == "m":
		unit = 31 * 24 * time.Hour
	}
	span := time.Duration(n*limit) * unit
	// trading days are about 70% of calendar days, intraday sessions far less
	return span*3 + 7*24*time.Hour
}

// GetBars returns up to limit of the most recent bars, oldest first.
// An unknown symbol returns an empty slice.
func (c *RestClient) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]market.Bar, error) {
	start := c.now().Add(-lookback(timeframe, limit)).UTC().Format(time.RFC3339)
	req := c.data.R().
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{
			"timeframe":  timeframe,
			"limit":      strconv.Itoa(limit),
			"start":      start,
			"sort":       "desc",
			"adjustment": "split",
		}).
		SetResult(&barsResponse{})
	if c.feed != "" {
		req.SetQueryParam("feed", c.feed)
	}

	resp, err := c.doRequest(ctx, http.MethodGet, "/v2/stocks/{symbol}/bars", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, err)
	}

	raw := resp.Result().(*barsResponse).Bars
	bars := make([]market.Bar, len(raw))
	// the API returns newest first
	for i, b := range raw {
		bars[len(raw)-1-i] = market.Bar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return bars, nil
}

type accountResponse struct {
	Equity      string `json:"equity"`
	Cash        string `json:"cash"`
	BuyingPower string `json:"buying_power"`
	Status      string `json:"status"`
}

func parseAmount(field, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return v, nil
}

// GetAccount fetches equity, cash and buying power.
func (c *RestClient) GetAccount(ctx context.Context) (broker.Account, error) {
	req := c.trading.R().SetResult(&accountResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/v2/account", req)
	if err != nil {
		return broker.Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	raw := resp.Result().(*accountResponse)
	var acct broker.Account
	if acct.Equity, err = parseAmount("equity", raw.Equity); err != nil {
		return broker.Account{}, err
	}
	if acct.Cash, err = parseAmount("cash", raw.Cash); err != nil {
		return broker.Account{}, err
	}
	if acct.BuyingPower, err = parseAmount("buying_power", raw.BuyingPower); err != nil {
		return broker.Account{}, err
	}
	return acct, nil
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

// GetPosition returns the signed share count held in symbol, 0 when flat.
func (c *RestClient) GetPosition(ctx context.Context, symbol string) (float64, error) {
	req := c.trading.R().SetPathParam("symbol", symbol).SetResult(&positionResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/v2/positions/{symbol}", req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get position for %s: %w", symbol, err)
	}

	raw := resp.Result().(*positionResponse)
	qty, err := parseAmount("qty", raw.Qty)
	if err != nil {
		return 0, err
	}
	if raw.Side == "short" && qty > 0 {
		qty = -qty
	}
	return qty, nil
}

type priceLeg struct {
	LimitPrice string `json:"limit_price,omitempty"`
	StopPrice  string `json:"stop_price,omitempty"`
}

type orderRequest struct {
	Symbol        string    `json:"symbol"`
	Qty           string    `json:"qty"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	TimeInForce   string    `json:"time_in_force"`
	OrderClass    string    `json:"order_class,omitempty"`
	TakeProfit    *priceLeg `json:"take_profit,omitempty"`
	StopLoss      *priceLeg `json:"stop_loss,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	ID            string `json:"id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	Symbol        string `json:"symbol"`
}

func price(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

// SubmitOrder places an order. Orders with both stop and take become bracket orders.
func (c *RestClient) SubmitOrder(ctx context.Context, order broker.OrderRequest) (string, error) {
	if err := order.Validate(); err != nil {
		return "", err
	}
	body := orderRequest{
		Symbol:        order.Symbol,
		Qty:           strconv.Itoa(order.Quantity),
		Side:          strings.ToLower(order.Side),
		Type:          order.Type,
		TimeInForce:   order.TimeInForce,
		ClientOrderID: order.ClientOrderID,
	}
	if body.Type == "" {
		body.Type = broker.OrderTypeMarket
	}
	if body.TimeInForce == "" {
		body.TimeInForce = broker.TimeInForceDay
	}
	if order.Bracket() {
		body.OrderClass = "bracket"
		body.TakeProfit = &priceLeg{LimitPrice: price(*order.TakePrice)}
		body.StopLoss = &priceLeg{StopPrice: price(*order.StopPrice)}
	}

	req := c.trading.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&orderResponse{})

	resp, err := c.doRequest(ctx, http.MethodPost, "/v2/orders", req)
	if err != nil {
		c.logger.Error("Failed to submit order",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
		)
		return "", fmt.Errorf("failed to submit order for %s: %w", order.Symbol, err)
	}

	result := resp.Result().(*orderResponse)
	c.logger.Info("Order accepted",
		zap.String("order_id", result.ID),
		zap.String("symbol", result.Symbol),
		zap.String("status", result.Status),
	)
	return result.ID, nil
}

// ClosePosition cancels the open orders for symbol, such as bracket legs, and liquidates the position.
func (c *RestClient) ClosePosition(ctx context.Context, symbol string) (string, error) {
	var open []orderResponse
	req := c.trading.R().
		SetQueryParams(map[string]string{"status": "open", "symbols": symbol}).
		SetResult(&open)
	if _, err := c.doRequest(ctx, http.MethodGet, "/v2/orders", req); err != nil {
		return "", fmt.Errorf("failed to list open orders for %s: %w", symbol, err)
	}
	for _, o := range open {
		cancel := c.trading.R().SetPathParam("id", o.ID)
		if _, err := c.doRequest(ctx, http.MethodDelete, "/v2/orders/{id}", cancel); err != nil {
			return "", fmt.Errorf("failed to cancel order %s for %s: %w", o.ID, symbol, err)
		}
	}

	req = c.trading.R().SetPathParam("symbol", symbol).SetResult(&orderResponse{})
	resp, err := c.doRequest(ctx, http.MethodDelete, "/v2/positions/{symbol}", req)
	if err != nil {
		return "", fmt.Errorf("failed to close position for %s: %w", symbol, err)
	}
	return resp.Result().(*orderResponse).ID, nil
}

type newsResponse struct {
	News []struct {
		Headline string    `json:"headline"`
		Created  time.Time `json:"created_at"`
	} `json:"news"`
}

// GetNews returns the latest headlines mentioning symbol.
func (c *RestClient) GetNews(ctx context.Context, symbol string, limit int) ([]string, error) {
	req := c.data.R().
		SetQueryParams(map[string]string{"symbols": symbol, "limit": strconv.Itoa(limit)}).
		SetResult(&newsResponse{})
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1beta1/news", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get news for %s: %w", symbol, err)
	}

	raw := resp.Result().(*newsResponse)
	headlines := make([]string, 0, len(raw.News))
	for _, n := range raw.News {
		if n.Headline != "" {
			headlines = append(headlines, n.Headline)
		}
	}
	return headlines, nil
}
