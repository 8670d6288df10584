// Package syncer coordinates replay of the offline queue and refresh of the local
// reference caches. At most one run is active at any time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/gateway"
	"github.com/septivank/aqueduct-sync/internal/logging"
)

// State is the orchestrator state
type State int32

const (
	Idle State = iota
	SyncingPending
	SyncingViews
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SyncingPending:
		return "syncing_pending"
	case SyncingViews:
		return "syncing_views"
	default:
		return "unknown"
	}
}

// LocalStore is the part of the local store the orchestrator drives
type LocalStore interface {
	PendingReadings(ctx context.Context) ([]domain.PendingEntry, error)
	MarkSynced(ctx context.Context, localID int64) error
	ReplaceInstallationCache(ctx context.Context, list []domain.Installation) error
	ReplaceRecentReadings(ctx context.Context, list []domain.RecentReading) error
	ReplaceMeterInstallments(ctx context.Context, list []domain.MeterInstallment) error
}

// Remote is the part of the remote gateway the orchestrator calls
type Remote interface {
	CreateReading(ctx context.Context, r domain.Reading) (gateway.ServerReading, error)
	ListInstallations(ctx context.Context) ([]domain.Installation, error)
	ListRecentReadings(ctx context.Context, year, month int) ([]domain.RecentReading, error)
	AllMeterInstallments(ctx context.Context) ([]domain.MeterInstallment, error)
}

// Connectivity reports the cached reachability flag
type Connectivity interface {
	IsOnline() bool
}

// Observer is notified after each entry is accepted by the server and marked synced
type Observer func(entry domain.PendingEntry, server gateway.ServerReading)

// Report summarizes one run
type Report struct {
	Attempted         int
	Synced            int
	Failed            int
	Installations     int
	RecentReadings    int
	MeterInstallments int
}

// Orchestrator is the sync state machine
type Orchestrator struct {
	store    LocalStore
	remote   Remote
	conn     Connectivity
	logger   *zap.Logger
	now      func() time.Time
	observer Observer

	state atomic.Int32

	// background runs started by OnReachable are bound to this context
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex
	bgClosed bool
	bg       sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the clock used to pick the current billing period
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithObserver registers a callback for synced entries
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// New creates an idle orchestrator
func New(store LocalStore, remote Remote, conn Connectivity, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		remote: remote,
		conn:   conn,
		logger: logger.Named("syncer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.bgCtx, o.bgCancel = context.WithCancel(context.Background())
	return o
}

// State returns the current state
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// SyncPending replays the pending queue. It fails with a NetworkError when offline and
// with apperr.ErrSyncInProgress when another run is active.
func (o *Orchestrator) SyncPending(ctx context.Context) (Report, error) {
	if !o.conn.IsOnline() {
		return Report{}, apperr.Offline("sync pending")
	}
	if !o.state.CompareAndSwap(int32(Idle), int32(SyncingPending)) {
		return Report{}, apperr.ErrSyncInProgress
	}
	defer o.state.Store(int32(Idle))

	var report Report
	err := o.guard("sync pending", func() error {
		var err error
		report, err = o.drainPending(ctx)
		return err
	})
	return report, err
}

// RefreshViews reloads the installation, recent readings and meter installment caches
// from the server and then replays the pending queue.
func (o *Orchestrator) RefreshViews(ctx context.Context) (Report, error) {
	if !o.conn.IsOnline() {
		return Report{}, apperr.Offline("refresh views")
	}
	if !o.state.CompareAndSwap(int32(Idle), int32(SyncingViews)) {
		return Report{}, apperr.ErrSyncInProgress
	}
	defer o.state.Store(int32(Idle))

	var report Report
	err := o.guard("refresh views", func() error {
		installations, err := o.remote.ListInstallations(ctx)
		if err != nil {
			return fmt.Errorf("fetch installations: %w", err)
		}
		if err := o.store.ReplaceInstallationCache(ctx, installations); err != nil {
			return err
		}
		report.Installations = len(installations)
		o.logger.Info("installations synchronized", zap.Int("count", len(installations)))

		now := o.now()
		recent, err := o.remote.ListRecentReadings(ctx, now.Year(), int(now.Month()))
		if err != nil {
			return fmt.Errorf("fetch recent readings: %w", err)
		}
		if err := o.store.ReplaceRecentReadings(ctx, recent); err != nil {
			return err
		}
		report.RecentReadings = len(recent)
		o.logger.Info("recent readings synchronized",
			zap.Int("count", len(recent)),
			zap.Int("year", now.Year()),
			zap.Int("month", int(now.Month())),
		)

		installments, err := o.remote.AllMeterInstallments(ctx)
		if err != nil {
			return fmt.Errorf("fetch meter installments: %w", err)
		}
		if err := o.store.ReplaceMeterInstallments(ctx, installments); err != nil {
			return err
		}
		report.MeterInstallments = len(installments)
		o.logger.Info("meter installments synchronized", zap.Int("count", len(installments)))

		o.state.Store(int32(SyncingPending))
		pending, err := o.drainPending(ctx)
		report.Attempted = pending.Attempted
		report.Synced = pending.Synced
		report.Failed = pending.Failed
		return err
	})
	return report, err
}

// OnReachable is the background trigger registered on the connectivity monitor.
// Every failure is logged and dropped. After Shutdown it does nothing.
func (o *Orchestrator) OnReachable() {
	o.bgMu.Lock()
	if o.bgClosed {
		o.bgMu.Unlock()
		return
	}
	o.bg.Add(1)
	o.bgMu.Unlock()
	defer o.bg.Done()

	report, err := o.SyncPending(o.bgCtx)
	switch {
	case errors.Is(err, apperr.ErrSyncInProgress):
		o.logger.Info("background sync skipped: run already in progress")
	case err != nil:
		o.logger.Error("background sync failed", zap.Error(err))
	default:
		o.logger.Info("background sync finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("synced", report.Synced),
			zap.Int("failed", report.Failed),
		)
	}
}

// Shutdown stops accepting background runs, cancels the one in flight and waits for
// it to return or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.bgMu.Lock()
	o.bgClosed = true
	o.bgMu.Unlock()
	o.bgCancel()

	done := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for background sync: %w", ctx.Err())
	}
}

// guard converts a panic inside fn into an error
func (o *Orchestrator) guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("sync run panicked", zap.String("op", op), zap.Any("panic", r))
			err = fmt.Errorf("%s: unexpected failure: %v", op, r)
		}
	}()
	return fn()
}

// drainPending submits every pending entry once, oldest first. A failed entry is
// logged and left pending; the pass continues with the next one.
func (o *Orchestrator) drainPending(ctx context.Context) (Report, error) {
	entries, err := o.store.PendingReadings(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Attempted: len(entries)}
	o.logger.Info("pending readings found", zap.Int("count", len(entries)))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("pending sync interrupted",
				zap.Int("synced", report.Synced),
				zap.Int("remaining", report.Attempted-report.Synced-report.Failed),
			)
			return report, err
		}

		entryLogger := logging.WithLocalID(o.logger, entry.LocalID, entry.Reading.ClientRef.String())

		reading := entry.Reading.WithDefaults(o.now())
		server, err := o.remote.CreateReading(ctx, reading)
		if err != nil {
			report.Failed++
			entryLogger.Warn("failed to sync reading",
				zap.Int("installation", reading.Installation),
				zap.Bool("connectivity", apperr.IsConnectivity(err)),
				zap.Error(err),
			)
			continue
		}

		// the server has the reading; record that even when the run is being cancelled
		if err := o.store.MarkSynced(context.WithoutCancel(ctx), entry.LocalID); err != nil {
			// accepted by the server but still pending locally; the next pass replays it
			// with the same idempotency key
			report.Failed++
			entryLogger.Error("failed to mark reading synced", zap.Error(err))
			continue
		}

		report.Synced++
		entryLogger.Info("reading synchronized", zap.Int("server_code", server.Code))

		if o.observer != nil {
			o.observer(entry, server)
		}
	}

	o.logger.Info("pending sync completed",
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
