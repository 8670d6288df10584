package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
)

const installmentColumns = `code, installation, name, date, balance, installment, interest_rate`

// ReplaceMeterInstallments clears the meter installment cache and reloads it
func (s *Store) ReplaceMeterInstallments(ctx context.Context, list []domain.MeterInstallment) error {
	query := `INSERT INTO meter_installments (` + installmentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

	err := s.replaceTable(ctx, "replace meter installments", "meter_installments", len(list), func(tx *sql.Tx, i int) error {
		m := list[i]
		_, err := tx.ExecContext(ctx, query,
			m.Code,
			m.Installation,
			m.Name,
			m.Date,
			m.Balance,
			m.Installment,
			m.InterestRate,
		)
		if err != nil {
			return fmt.Errorf("insert meter installment %d: %w", m.Code, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("meter installment cache replaced", zap.Int("count", len(list)))
	return nil
}

// MeterInstallments returns one page of cached installments, newest first, and the
// number of rows matching the filter
func (s *Store) MeterInstallments(ctx context.Context, f domain.InstallmentFilter) ([]domain.MeterInstallment, int, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.Code != 0 {
		where = append(where, "code = ?")
		args = append(args, f.Code)
	}
	if f.Installation != 0 {
		where = append(where, "installation = ?")
		args = append(args, f.Installation)
	}
	if f.Name != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+f.Name+"%")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meter_installments`+clause, args...).Scan(&total); err != nil {
		return nil, 0, &apperr.StorageError{Op: "count meter installments", Err: err}
	}

	query := `SELECT ` + installmentColumns + ` FROM meter_installments` + clause + ` ORDER BY date DESC, code DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, offset(f.Page, f.Limit))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, &apperr.StorageError{Op: "get meter installments", Err: err}
	}
	defer rows.Close()

	var list []domain.MeterInstallment
	for rows.Next() {
		m, err := scanInstallment(rows)
		if err != nil {
			return nil, 0, &apperr.StorageError{Op: "get meter installments", Err: fmt.Errorf("scan installment: %w", err)}
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &apperr.StorageError{Op: "get meter installments", Err: fmt.Errorf("rows iteration error: %w", err)}
	}

	return list, total, nil
}

// MeterInstallmentByCode returns one cached installment
func (s *Store) MeterInstallmentByCode(ctx context.Context, code int) (domain.MeterInstallment, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+installmentColumns+` FROM meter_installments WHERE code = ?`, code)
	m, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MeterInstallment{}, fmt.Errorf("meter installment %d: %w", code, ErrInstallmentNotFound)
	}
	if err != nil {
		return domain.MeterInstallment{}, &apperr.StorageError{Op: "get meter installment", Err: err}
	}
	return m, nil
}

func scanInstallment(row scanner) (domain.MeterInstallment, error) {
	var m domain.MeterInstallment
	err := row.Scan(
		&m.Code,
		&m.Installation,
		&m.Name,
		&m.Date,
		&m.Balance,
		&m.Installment,
		&m.InterestRate,
	)
	return m, err
}
