package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/config"
	"github.com/septivank/aqueduct-sync/internal/db"
	"github.com/septivank/aqueduct-sync/internal/hub"
	"github.com/septivank/aqueduct-sync/internal/mq"
	"github.com/septivank/aqueduct-sync/internal/notify"
	"github.com/septivank/aqueduct-sync/internal/relay"
	"github.com/septivank/aqueduct-sync/internal/repository"
)

func startRelay(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	h *hub.Hub,
	listener *notify.Listener,
	server *relay.Server,
	publisher *mq.Publisher,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting notification listener", zap.Strings("channels", cfg.Relay.Channels))
			go func() {
				defer close(done)
				if err := listener.Run(ctx); err != nil {
					logger.Error("notification listener exited", zap.Error(err))
				}
			}()
			server.Start()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			<-done

			if err := server.Shutdown(stopCtx); err != nil {
				logger.Error("failed to shut down relay server", zap.Error(err))
			}
			h.Close()

			if err := publisher.Close(); err != nil {
				logger.Error("failed to close publisher", zap.Error(err))
				return err
			}
			logger.Info("relay stopped gracefully")
			return nil
		},
	})
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *pgxpool.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates a new publisher instance
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, logger)
}

// ProvideHub creates the in-process event hub
func ProvideHub(logger *zap.Logger) *hub.Hub {
	return hub.New(logger)
}

// ProvideListener creates the LISTEN/NOTIFY bridge
func ProvideListener(
	pool *pgxpool.Pool,
	h *hub.Hub,
	repo *repository.Repository,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) (*notify.Listener, error) {
	return notify.NewListener(pool, cfg.Relay.Channels, h, repo, publisher, cfg.Relay.ReconnectGap, logger)
}

// ProvideServer creates the websocket relay server
func ProvideServer(h *hub.Hub, cfg *config.Config, logger *zap.Logger) *relay.Server {
	return relay.NewServer(cfg.Relay.ListenAddr, h, cfg.Relay.AllowedOrigins, logger)
}
