package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"stock-signal-bot-go/internal/config"
	"stock-signal-bot-go/internal/ledger"
	"stock-signal-bot-go/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the ledger
	store, closeStore, err := ledger.Open(context.Background(), cfg.Database)
	if err != nil {
		log.Fatal("Failed to open ledger store", zap.Error(err))
	}
	defer closeStore()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS for a separately served dashboard
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	NewAPIHandler(log.Named("ui"), store, cfg.Trading.DryRun).Register(router)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting statistics server", zap.String("address", addr))

	if err := router.Run(addr); err != nil {
		log.Error("Statistics server failed", zap.Error(err))
	}
}
