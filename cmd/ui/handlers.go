package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stock-signal-bot-go/internal/ledger"
	"stock-signal-bot-go/internal/models"
)

const defaultTradeLimit = 200

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log       *zap.Logger
	store     ledger.Store
	simulated bool
	now       func() time.Time
}

// NewAPIHandler creates a new APIHandler. simulated selects paper or live trades
// for the reconciled endpoints when a request does not choose.
func NewAPIHandler(log *zap.Logger, store ledger.Store, simulated bool) *APIHandler {
	return &APIHandler{log: log, store: store, simulated: simulated, now: time.Now}
}

// Register mounts the API endpoints on router.
func (h *APIHandler) Register(router gin.IRouter) {
	api := router.Group("/api")
	api.GET("/status", h.StatusHandler)
	api.GET("/trades", h.TradesHandler)
	api.GET("/pairs", h.PairsHandler)
	api.GET("/statistics", h.StatisticsHandler)
	api.GET("/equity", h.EquityHandler)
}

func (h *APIHandler) StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK", "time": h.now().UTC().Format(time.RFC3339)})
}

func (h *APIHandler) readTrades(c *gin.Context) ([]models.TradeRecord, bool) {
	filter := ledger.Filter{Symbol: strings.ToUpper(c.Query("symbol"))}
	trades, err := h.store.ReadTrades(c.Request.Context(), filter)
	if err != nil {
		h.log.Error("Failed to get trades from the ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get trades"})
		return nil, false
	}
	return trades, true
}

// simulation reads the simulation query parameter, falling back to the handler default.
func (h *APIHandler) simulation(c *gin.Context) (bool, bool) {
	raw := c.Query("simulation")
	if raw == "" {
		return h.simulated, true
	}
	simulated, err := strconv.ParseBool(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "simulation must be true or false"})
		return false, false
	}
	return simulated, true
}

// reconciledTrades reads the trades of one mode, paper or live, and matches them.
func (h *APIHandler) reconciledTrades(c *gin.Context) (ledger.Report, bool) {
	simulated, ok := h.simulation(c)
	if !ok {
		return ledger.Report{}, false
	}
	trades, ok := h.readTrades(c)
	if !ok {
		return ledger.Report{}, false
	}
	return ledger.Reconcile(ledger.BySimulation(trades, simulated)), true
}

// TradesHandler returns the most recent trades first. Paper and live trades are both
// listed unless the simulation parameter is given.
func (h *APIHandler) TradesHandler(c *gin.Context) {
	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	trades, ok := h.readTrades(c)
	if !ok {
		return
	}
	if c.Query("simulation") != "" {
		simulated, ok := h.simulation(c)
		if !ok {
			return
		}
		trades = ledger.BySimulation(trades, simulated)
	}
	// Order by most recent first
	out := make([]models.TradeRecord, 0, min(limit, len(trades)))
	for i := len(trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, trades[i])
	}
	c.JSON(http.StatusOK, out)
}

// PairsHandler returns the FIFO-matched pairs and the lots still open.
func (h *APIHandler) PairsHandler(c *gin.Context) {
	report, ok := h.reconciledTrades(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"pairs":       report.Pairs,
		"open_lots":   report.OpenLots,
		"dropped_qty": report.Dropped,
	})
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h ledger.Summary `json:"since_24h"`
	AllTime  ledger.Summary `json:"all_time"`
}

// StatisticsHandler calculates realized PnL and win rate over reconciled pairs.
func (h *APIHandler) StatisticsHandler(c *gin.Context) {
	report, ok := h.reconciledTrades(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, StatisticsResponse{
		Since24h: report.Summarize(h.now().Add(-24 * time.Hour)),
		AllTime:  report.Summarize(time.Time{}),
	})
}

// EquityHandler returns equity snapshots, by default for the last 30 days.
func (h *APIHandler) EquityHandler(c *gin.Context) {
	window := 30 * 24 * time.Hour
	if raw := c.Query("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a positive duration such as 72h"})
			return
		}
		window = d
	}

	snapshots, err := h.store.ReadEquity(c.Request.Context(), h.now().Add(-window))
	if err != nil {
		h.log.Error("Failed to get equity snapshots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get equity"})
		return
	}
	c.JSON(http.StatusOK, snapshots)
}
