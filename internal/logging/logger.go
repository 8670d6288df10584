package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger creates a structured logger tagged with the service name.
// level accepts zap level names; empty means info.
func NewLogger(serviceName, level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	if level != "" {
		atomicLevel, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		config.Level = atomicLevel
	}

	return config.Build()
}

// WithRequestID returns a logger with request_id field
func WithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// WithLocalID returns a logger scoped to one pending queue entry
func WithLocalID(logger *zap.Logger, localID int64, clientRef string) *zap.Logger {
	return logger.With(zap.Int64("local_id", localID), zap.String("client_ref", clientRef))
}
