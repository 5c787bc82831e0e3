package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stock-signal-bot-go/internal/config"
)

// NewLogger creates a new zap.Logger instance based on the provided configuration.
// The json format selects zap's production config, anything else the development one.
func NewLogger(cfg config.Logger) (*zap.Logger, error) {
	logLevel, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(logLevel)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}

	return zcfg.Build(zap.Fields(zap.String("app", "stock-signal-bot")))
}
