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

const upsertRecent = `
	INSERT INTO recent_consumptions (code, installation, name, reading, consumption, month, year, meter, capture_date, billed)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(code) DO UPDATE SET
		installation = excluded.installation,
		name = excluded.name,
		reading = excluded.reading,
		consumption = excluded.consumption,
		month = excluded.month,
		year = excluded.year,
		meter = excluded.meter,
		capture_date = excluded.capture_date,
		billed = excluded.billed
`

// ReplaceRecentReadings clears the recent readings cache and reloads it
func (s *Store) ReplaceRecentReadings(ctx context.Context, list []domain.RecentReading) error {
	err := s.replaceTable(ctx, "replace recent readings", "recent_consumptions", len(list), func(tx *sql.Tx, i int) error {
		return execUpsertRecent(ctx, tx, list[i])
	})
	if err != nil {
		return err
	}

	s.logger.Info("recent readings cache replaced", zap.Int("count", len(list)))
	return nil
}

// UpsertRecentReading inserts or refreshes one server reading pushed by the live feed
func (s *Store) UpsertRecentReading(ctx context.Context, r domain.RecentReading) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if err := execUpsertRecent(ctx, s.db, r); err != nil {
		return &apperr.StorageError{Op: "upsert recent reading", Err: err}
	}
	return nil
}

// DeleteRecentReading removes a server reading from the cache. Unknown codes are ignored.
func (s *Store) DeleteRecentReading(ctx context.Context, code int) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM recent_consumptions WHERE code = ?`, code); err != nil {
		return &apperr.StorageError{Op: "delete recent reading", Err: err}
	}
	return nil
}

// RecentReadings lists cached server readings matching the filter, ordered by installation.
// Page and Limit are applied when Limit is positive.
func (s *Store) RecentReadings(ctx context.Context, f domain.ReadingFilter) ([]domain.RecentReading, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	where, args := recentWhere(f)
	query := `SELECT ` + recentColumns + ` FROM recent_consumptions` + where
	query += " ORDER BY installation ASC, code ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, offset(f.Page, f.Limit))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &apperr.StorageError{Op: "get recent readings", Err: err}
	}
	defer rows.Close()

	var list []domain.RecentReading
	for rows.Next() {
		r, err := scanRecent(rows)
		if err != nil {
			return nil, &apperr.StorageError{Op: "get recent readings", Err: fmt.Errorf("scan reading: %w", err)}
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: "get recent readings", Err: fmt.Errorf("rows iteration error: %w", err)}
	}

	return list, nil
}

// CountRecentReadings counts cached server readings matching the filter, ignoring
// Page and Limit
func (s *Store) CountRecentReadings(ctx context.Context, f domain.ReadingFilter) (int, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	where, args := recentWhere(f)

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recent_consumptions`+where, args...).Scan(&n); err != nil {
		return 0, &apperr.StorageError{Op: "count recent readings", Err: err}
	}
	return n, nil
}

// RecentReadingByCode returns one cached server reading by its server code
func (s *Store) RecentReadingByCode(ctx context.Context, code int) (domain.RecentReading, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+recentColumns+` FROM recent_consumptions WHERE code = ?`, code)
	r, err := scanRecent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecentReading{}, fmt.Errorf("reading %d: %w", code, ErrReadingNotFound)
	}
	if err != nil {
		return domain.RecentReading{}, &apperr.StorageError{Op: "get recent reading", Err: err}
	}
	return r, nil
}

const recentColumns = `code, installation, name, reading, consumption, month, year, meter, capture_date, billed`

func recentWhere(f domain.ReadingFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, f.Year)
	}
	if f.Month != 0 {
		where = append(where, "month = ?")
		args = append(args, f.Month)
	}
	if f.Name != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+f.Name+"%")
	}
	if f.Installation != 0 {
		where = append(where, "installation = ?")
		args = append(args, f.Installation)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// offset converts a 1-based page into a row offset
func offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecent(row scanner) (domain.RecentReading, error) {
	var r domain.RecentReading
	err := row.Scan(
		&r.Code,
		&r.Installation,
		&r.Name,
		&r.Reading,
		&r.Consumption,
		&r.Month,
		&r.Year,
		&r.Meter,
		&r.CaptureDate,
		&r.Billed,
	)
	return r, err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execUpsertRecent(ctx context.Context, db execer, r domain.RecentReading) error {
	_, err := db.ExecContext(ctx, upsertRecent,
		r.Code,
		r.Installation,
		r.Name,
		r.Reading,
		r.Consumption,
		r.Month,
		r.Year,
		r.Meter,
		r.CaptureDate,
		r.Billed,
	)
	if err != nil {
		return fmt.Errorf("upsert recent reading %d: %w", r.Code, err)
	}
	return nil
}
