package config

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
)

// NewLogger builds the zap-backed logger. PRETTY_LOGS switches to the
// human-readable development encoder.
func NewLogger(cfg *Config) (ectologger.Logger, func(), error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level
	zcfg.InitialFields = map[string]any{"app": cfg.AppName}

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}
