package main

import (
	"context"

	"github.com/outofforest/logger"
	"go.uber.org/zap"

	"logstreamer/config"
)

// withLogger attaches the process logger to ctx.
func withLogger(ctx context.Context, cfg config.Config) (context.Context, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.DefaultConfig)
	// IncreaseLevel refuses to lower the level of the core.
	if log.Core().Enabled(level) {
		log = log.WithOptions(zap.IncreaseLevel(level))
	}
	return logger.WithLogger(ctx, log), nil
}
