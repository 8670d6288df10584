package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/anomaly"
	"github.com/septivank/aqueduct-sync/internal/capture"
	"github.com/septivank/aqueduct-sync/internal/config"
	"github.com/septivank/aqueduct-sync/internal/connectivity"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/gateway"
	"github.com/septivank/aqueduct-sync/internal/livefeed"
	"github.com/septivank/aqueduct-sync/internal/localapi"
	"github.com/septivank/aqueduct-sync/internal/session"
	"github.com/septivank/aqueduct-sync/internal/store"
	"github.com/septivank/aqueduct-sync/internal/syncer"
	"github.com/septivank/aqueduct-sync/internal/validator"
)

// syncedRetention is how long synced queue entries are kept before the startup purge
const syncedRetention = 30 * 24 * time.Hour

func startAgent(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	st *store.Store,
	monitor *connectivity.Monitor,
	prober *connectivity.Prober,
	orchestrator *syncer.Orchestrator,
	handler *localapi.Handler,
) {
	ctx, cancel := context.WithCancel(context.Background())

	unsubscribe := monitor.Subscribe(orchestrator.OnReachable)

	srv := &http.Server{
		Addr:              cfg.LocalAPI.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if n, err := st.PurgeSynced(startCtx, time.Now().Add(-syncedRetention)); err != nil {
				logger.Warn("failed to purge synced readings", zap.Error(err))
			} else if n > 0 {
				logger.Info("purged synced readings", zap.Int64("count", n))
			}

			go prober.Start(ctx)

			// startup pass: the seed does not count as a reconnect
			go func() {
				select {
				case <-ctx.Done():
					return
				case <-prober.Seeded():
				}
				if monitor.IsOnline() {
					orchestrator.OnReachable()
				}
			}()

			if cfg.LiveFeed.URL != "" {
				feed := livefeed.NewClient(cfg.LiveFeed.URL, st, cfg.LiveFeed.ReconnectDelay, logger)
				go feed.Run(ctx)
			}

			go func() {
				logger.Info("local api listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("local api server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			unsubscribe()
			if err := srv.Shutdown(stopCtx); err != nil {
				logger.Error("failed to shut down local api", zap.Error(err))
				return err
			}
			// the store closes after this hook; no sync run may outlive it
			if err := orchestrator.Shutdown(stopCtx); err != nil {
				logger.Error("background sync still running at shutdown", zap.Error(err))
				return err
			}
			logger.Info("field agent stopped gracefully")
			return nil
		},
	})
}

// ProvideSession creates the operator session from configuration
func ProvideSession(cfg *config.Config) *session.Session {
	return session.New(cfg.Session.Operator, cfg.Session.Company, cfg.Session.Token)
}

// ProvideStore opens the device database and closes it when the app stops
func ProvideStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*store.Store, error) {
	st, err := store.Open(context.Background(), cfg.Store.Path, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return st.Close()
		},
	})
	return st, nil
}

// ProvideMonitor creates the connectivity monitor; the prober seeds it on start
func ProvideMonitor(logger *zap.Logger) *connectivity.Monitor {
	return connectivity.NewMonitor(false, logger.Named("connectivity"))
}

// ProvideGateway creates the remote API gateway
func ProvideGateway(cfg *config.Config, sess *session.Session, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(cfg.API, cfg.Breaker, sess, logger)
}

// ProvideProber probes the gateway root, or a dedicated path when one is configured
func ProvideProber(cfg *config.Config, monitor *connectivity.Monitor, gw *gateway.Gateway, logger *zap.Logger) *connectivity.Prober {
	var pinger connectivity.Pinger = gw
	if path := cfg.Connectivity.ProbePath; path != "" && path != "/" {
		pinger = connectivity.HTTPPinger{
			URL:    cfg.API.BaseURL + path,
			Client: &http.Client{Timeout: cfg.Connectivity.ProbeTimeout},
		}
	}
	return connectivity.NewProber(monitor, pinger, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout, logger.Named("prober"))
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.FutureDateToleranceMinutes)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPoints)
}

// ProvideCaptureService creates the capture command layer
func ProvideCaptureService(
	st *store.Store,
	gw *gateway.Gateway,
	monitor *connectivity.Monitor,
	sess *session.Session,
	v *validator.Validator,
	detector *anomaly.Detector,
	logger *zap.Logger,
) *capture.Service {
	return capture.NewService(st, gw, monitor, sess, v, detector, logger)
}

// ProvideOrchestrator creates the sync orchestrator. Every replayed reading is also
// written to the recent readings cache so offline lists show it right away.
func ProvideOrchestrator(st *store.Store, gw *gateway.Gateway, monitor *connectivity.Monitor, logger *zap.Logger) *syncer.Orchestrator {
	return syncer.New(st, gw, monitor, logger, syncer.WithObserver(func(entry domain.PendingEntry, server gateway.ServerReading) {
		if server.Code == 0 {
			return
		}
		if err := st.UpsertRecentReading(context.Background(), server.Recent()); err != nil {
			logger.Warn("failed to cache synced reading", zap.Int64("local_id", entry.LocalID), zap.Error(err))
		}
	}))
}

// ProvideHandler creates the local API handler
func ProvideHandler(
	svc *capture.Service,
	orchestrator *syncer.Orchestrator,
	monitor *connectivity.Monitor,
	st *store.Store,
	sess *session.Session,
	logger *zap.Logger,
) *localapi.Handler {
	return localapi.NewHandler(svc, orchestrator, monitor, st, sess, logger)
}
