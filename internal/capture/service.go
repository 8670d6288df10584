// Package capture validates operator input and routes readings to the server or to the
// offline queue.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/anomaly"
	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/gateway"
	"github.com/septivank/aqueduct-sync/internal/session"
	"github.com/septivank/aqueduct-sync/internal/store"
	"github.com/septivank/aqueduct-sync/internal/validator"
)

// Status says where a submitted reading ended up
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusQueued    Status = "queued"
)

// LocalStore is the part of the local store used by the capture layer
type LocalStore interface {
	SaveOfflineReading(ctx context.Context, r domain.Reading) (domain.PendingEntry, error)
	InstallationByCode(ctx context.Context, code int) (domain.Installation, error)
	RecentReadings(ctx context.Context, f domain.ReadingFilter) ([]domain.RecentReading, error)
	CountRecentReadings(ctx context.Context, f domain.ReadingFilter) (int, error)
	RecentReadingByCode(ctx context.Context, code int) (domain.RecentReading, error)
	MeterInstallments(ctx context.Context, f domain.InstallmentFilter) ([]domain.MeterInstallment, int, error)
	MeterInstallmentByCode(ctx context.Context, code int) (domain.MeterInstallment, error)
}

// Remote is the part of the gateway used by the capture layer
type Remote interface {
	CreateReading(ctx context.Context, r domain.Reading) (gateway.ServerReading, error)
	UpdateReading(ctx context.Context, id int, r domain.Reading) (gateway.ServerReading, error)
	GetInstallation(ctx context.Context, code int) (domain.Installation, error)
	ListReadings(ctx context.Context, f domain.ReadingFilter) (gateway.Page, error)
	ReadingExists(ctx context.Context, installation, month, year int) (gateway.ExistsResult, error)
	GetReading(ctx context.Context, id int) (gateway.ServerReading, error)
	ListMeterInstallments(ctx context.Context, f domain.InstallmentFilter) (gateway.InstallmentPage, error)
	GetMeterInstallment(ctx context.Context, code int) (domain.MeterInstallment, error)
}

// Connectivity reports the cached reachability flag
type Connectivity interface {
	IsOnline() bool
}

// Outcome is the result of a submit
type Outcome struct {
	Status   Status                 `json:"status"`
	Reading  domain.Reading         `json:"-"`
	Server   *gateway.ServerReading `json:"server,omitempty"`
	LocalID  int64                  `json:"local_id,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

// ReadingsPage is a page of readings, from the server or from the local cache
type ReadingsPage struct {
	Data    []domain.RecentReading
	Total   int
	Page    int
	Limit   int
	Offline bool
}

// Service is the capture command layer
type Service struct {
	store     LocalStore
	remote    Remote
	conn      Connectivity
	session   *session.Session
	validator *validator.Validator
	detector  *anomaly.Detector
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a capture service
func NewService(
	store LocalStore,
	remote Remote,
	conn Connectivity,
	sess *session.Session,
	v *validator.Validator,
	detector *anomaly.Detector,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:     store,
		remote:    remote,
		conn:      conn,
		session:   sess,
		validator: v,
		detector:  detector,
		logger:    logger.Named("capture"),
		now:       time.Now,
	}
}

// prepare normalizes and validates a command without any I/O
func (s *Service) prepare(cmd Command) (domain.Reading, error) {
	now := s.now()
	r, err := Normalize(cmd, s.session, now)
	if err != nil {
		return domain.Reading{}, err
	}
	if err := s.validator.ValidateReading(r, now); err != nil {
		return domain.Reading{}, err
	}
	return r, nil
}

// Submit records a new reading. Online it goes straight to the server and falls back
// to the offline queue when the server cannot be reached; offline it is queued.
// Server rejections are returned as *apperr.ApplicationError.
func (s *Service) Submit(ctx context.Context, cmd Command) (Outcome, error) {
	r, err := s.prepare(cmd)
	if err != nil {
		s.logger.Info("reading rejected by validation", zap.Int("installation", cmd.Installation), zap.Error(err))
		return Outcome{}, err
	}

	warnings := s.warnings(ctx, r)

	if s.conn.IsOnline() {
		server, err := s.remote.CreateReading(ctx, r)
		if err == nil {
			return Outcome{Status: StatusSubmitted, Reading: r, Server: &server, Warnings: warnings}, nil
		}
		if !apperr.IsConnectivity(err) {
			return Outcome{}, err
		}
		s.logger.Warn("server unreachable, queueing reading",
			zap.Int("installation", r.Installation),
			zap.Error(err),
		)
	}

	entry, err := s.store.SaveOfflineReading(ctx, r)
	if err != nil {
		return Outcome{}, err
	}

	s.logger.Info("reading saved offline",
		zap.Int64("local_id", entry.LocalID),
		zap.Int("installation", r.Installation),
	)
	return Outcome{Status: StatusQueued, Reading: entry.Reading, LocalID: entry.LocalID, Warnings: warnings}, nil
}

// Update replaces a server reading. It needs connectivity and has no offline fallback.
func (s *Service) Update(ctx context.Context, id int, cmd Command) (gateway.ServerReading, error) {
	r, err := s.prepare(cmd)
	if err != nil {
		return gateway.ServerReading{}, err
	}
	if !s.conn.IsOnline() {
		return gateway.ServerReading{}, apperr.Offline("update reading")
	}
	return s.remote.UpdateReading(ctx, id, r)
}

// CheckPeriod asks the server whether the installation already has a reading for the
// period. It needs connectivity.
func (s *Service) CheckPeriod(ctx context.Context, installation, month, year int) (gateway.ExistsResult, error) {
	if !s.conn.IsOnline() {
		return gateway.ExistsResult{}, apperr.Offline("validate reading")
	}
	return s.remote.ReadingExists(ctx, installation, month, year)
}

// LookupInstallation finds an installation on the server, or in the local cache when
// the server cannot be reached.
func (s *Service) LookupInstallation(ctx context.Context, code int) (domain.Installation, error) {
	if s.conn.IsOnline() {
		inst, err := s.remote.GetInstallation(ctx, code)
		if err == nil {
			return inst, nil
		}
		if !apperr.IsConnectivity(err) {
			return domain.Installation{}, err
		}
		s.logger.Warn("server unreachable, using cached installation", zap.Int("code", code), zap.Error(err))
	}
	return s.store.InstallationByCode(ctx, code)
}

// ListReadings queries the server view, or the local recent readings cache when the
// server cannot be reached.
func (s *Service) ListReadings(ctx context.Context, f domain.ReadingFilter) (ReadingsPage, error) {
	if s.conn.IsOnline() {
		page, err := s.remote.ListReadings(ctx, f)
		if err == nil {
			out := ReadingsPage{Total: page.Total, Page: page.Page, Limit: page.Limit}
			for _, row := range page.Data {
				out.Data = append(out.Data, row.Recent())
			}
			return out, nil
		}
		if !apperr.IsConnectivity(err) {
			return ReadingsPage{}, err
		}
		s.logger.Warn("server unreachable, listing cached readings", zap.Error(err))
	}

	list, err := s.store.RecentReadings(ctx, f)
	if err != nil {
		return ReadingsPage{}, err
	}
	total, err := s.store.CountRecentReadings(ctx, f)
	if err != nil {
		return ReadingsPage{}, err
	}
	return ReadingsPage{Data: list, Total: total, Page: firstPage(f.Page), Limit: f.Limit, Offline: true}, nil
}

func firstPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// warnings flags unusual consumption against the cached installation average and the
// installation's cached history. Lookup failures only drop the warning.
func (s *Service) warnings(ctx context.Context, r domain.Reading) []string {
	if s.detector == nil {
		return nil
	}

	var average decimal.Decimal
	inst, err := s.store.InstallationByCode(ctx, r.Installation)
	switch {
	case err == nil:
		average = inst.Average
	case errors.Is(err, store.ErrCacheEmpty), errors.Is(err, store.ErrInstallationNotFound):
	default:
		s.logger.Debug("installation average unavailable", zap.Error(err))
	}

	var history []decimal.Decimal
	recent, err := s.store.RecentReadings(ctx, domain.ReadingFilter{Installation: r.Installation})
	if err == nil {
		for _, rr := range recent {
			history = append(history, rr.Consumption)
		}
	}

	if spike, reason := s.detector.DetectSpike(r.Consumption, average, history); spike {
		s.logger.Warn("unusual consumption",
			zap.Int("installation", r.Installation),
			zap.String("consumption", r.Consumption.String()),
			zap.String("reason", reason),
		)
		return []string{reason}
	}
	return nil
}
