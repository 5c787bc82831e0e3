package trader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	hub    *Hub
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port.
func NewAPIServer(engine *Engine, hub *Hub, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		hub:    hub,
		logger: logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin routes.
func (s *APIServer) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.healthHandler)
	router.GET("/status", s.statusHandler)
	router.GET("/positions", s.positionsHandler)
	router.GET("/decisions", s.decisionsHandler)
	if s.hub != nil {
		router.GET("/ws", s.wsHandler)
	}
	return router
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (s *APIServer) statusHandler(c *gin.Context) {
	subscribers := 0
	if s.hub != nil {
		subscribers = s.hub.Clients()
	}
	c.JSON(http.StatusOK, gin.H{
		"uuid":           s.engine.UUID,
		"name":           s.engine.Name,
		"strategy":       s.engine.StrategyName(),
		"dry_run":        s.engine.cfg.Trading.DryRun,
		"symbols":        s.engine.cfg.Trading.Symbols,
		"open_positions": s.engine.book.Len(),
		"subscribers":    subscribers,
		"start_time":     s.engine.StartTime.Format(time.RFC3339),
		"uptime":         time.Since(s.engine.StartTime).String(),
	})
}

func (s *APIServer) positionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Positions())
}

func (s *APIServer) decisionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Decisions())
}

func (s *APIServer) wsHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	s.hub.attach(conn)
}
