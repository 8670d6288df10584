package capture

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
)

// ReadingDetail is a single reading. PreviousReading and Average come from the server
// and stay zero when the reading was served from the local cache.
type ReadingDetail struct {
	Reading         domain.RecentReading
	PreviousReading decimal.Decimal
	Average         decimal.Decimal
	Offline         bool
}

// InstallmentsPage is a page of meter installments
type InstallmentsPage struct {
	Data    []domain.MeterInstallment
	Total   int
	Page    int
	Limit   int
	Offline bool
}

// GetReading fetches one reading by its server code, or the cached recent reading
// with that code when the server cannot be reached.
func (s *Service) GetReading(ctx context.Context, id int) (ReadingDetail, error) {
	if s.conn.IsOnline() {
		server, err := s.remote.GetReading(ctx, id)
		if err == nil {
			return ReadingDetail{
				Reading:         server.Recent(),
				PreviousReading: server.PreviousReading,
				Average:         server.Average,
			}, nil
		}
		if !apperr.IsConnectivity(err) {
			return ReadingDetail{}, err
		}
		s.logger.Warn("server unreachable, using cached reading", zap.Int("id", id), zap.Error(err))
	}

	r, err := s.store.RecentReadingByCode(ctx, id)
	if err != nil {
		return ReadingDetail{}, err
	}
	return ReadingDetail{Reading: r, Offline: true}, nil
}

// ListMeterInstallments queries the meter installment view, or its local copy when
// the server cannot be reached.
func (s *Service) ListMeterInstallments(ctx context.Context, f domain.InstallmentFilter) (InstallmentsPage, error) {
	if s.conn.IsOnline() {
		page, err := s.remote.ListMeterInstallments(ctx, f)
		if err == nil {
			return InstallmentsPage{Data: page.Data, Total: page.Total, Page: page.Page, Limit: page.Limit}, nil
		}
		if !apperr.IsConnectivity(err) {
			return InstallmentsPage{}, err
		}
		s.logger.Warn("server unreachable, listing cached meter installments", zap.Error(err))
	}

	list, total, err := s.store.MeterInstallments(ctx, f)
	if err != nil {
		return InstallmentsPage{}, err
	}
	return InstallmentsPage{Data: list, Total: total, Page: firstPage(f.Page), Limit: f.Limit, Offline: true}, nil
}

// GetMeterInstallment fetches one installment row, falling back to the local copy
func (s *Service) GetMeterInstallment(ctx context.Context, code int) (domain.MeterInstallment, error) {
	if s.conn.IsOnline() {
		m, err := s.remote.GetMeterInstallment(ctx, code)
		if err == nil {
			return m, nil
		}
		if !apperr.IsConnectivity(err) {
			return domain.MeterInstallment{}, err
		}
		s.logger.Warn("server unreachable, using cached meter installment", zap.Int("code", code), zap.Error(err))
	}
	return s.store.MeterInstallmentByCode(ctx, code)
}
