package main

import (
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/config"
	"github.com/septivank/aqueduct-sync/internal/logging"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
}
