package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
)

// ReplaceInstallationCache clears the installation cache and reloads it from list.
// Readers observe either the previous cache or the new one, never a mix.
func (s *Store) ReplaceInstallationCache(ctx context.Context, list []domain.Installation) error {
	query := `
		INSERT INTO installations (code, meter_code, name, sector, address, previous_reading, average)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := s.replaceTable(ctx, "replace installation cache", "installations", len(list), func(tx *sql.Tx, i int) error {
		inst := list[i]
		_, err := tx.ExecContext(ctx, query,
			inst.Code,
			inst.MeterCode,
			inst.Name,
			inst.Sector,
			inst.Address,
			inst.PreviousReading,
			inst.Average,
		)
		if err != nil {
			return fmt.Errorf("insert installation %d: %w", inst.Code, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("installation cache replaced", zap.Int("count", len(list)))
	return nil
}

// InstallationByCode returns one cached installation. It returns ErrCacheEmpty when the
// cache has never been loaded and ErrInstallationNotFound when the code is unknown.
func (s *Store) InstallationByCode(ctx context.Context, code int) (domain.Installation, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	query := `
		SELECT code, meter_code, name, sector, address, previous_reading, average
		FROM installations
		WHERE code = ?
	`

	var inst domain.Installation
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&inst.Code,
		&inst.MeterCode,
		&inst.Name,
		&inst.Sector,
		&inst.Address,
		&inst.PreviousReading,
		&inst.Average,
	)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Installation{}, &apperr.StorageError{Op: "get installation by code", Err: err}
	}

	empty, err := s.installationCacheEmpty(ctx)
	if err != nil {
		return domain.Installation{}, err
	}
	if empty {
		return domain.Installation{}, ErrCacheEmpty
	}
	return domain.Installation{}, fmt.Errorf("installation %d: %w", code, ErrInstallationNotFound)
}

// AllInstallations returns the whole cache ordered by code, or ErrCacheEmpty
func (s *Store) AllInstallations(ctx context.Context) ([]domain.Installation, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	query := `
		SELECT code, meter_code, name, sector, address, previous_reading, average
		FROM installations
		ORDER BY code ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &apperr.StorageError{Op: "get installations", Err: err}
	}
	defer rows.Close()

	var list []domain.Installation
	for rows.Next() {
		var inst domain.Installation
		if err := rows.Scan(
			&inst.Code,
			&inst.MeterCode,
			&inst.Name,
			&inst.Sector,
			&inst.Address,
			&inst.PreviousReading,
			&inst.Average,
		); err != nil {
			return nil, &apperr.StorageError{Op: "get installations", Err: fmt.Errorf("scan installation: %w", err)}
		}
		list = append(list, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: "get installations", Err: fmt.Errorf("rows iteration error: %w", err)}
	}

	if len(list) == 0 {
		return nil, ErrCacheEmpty
	}
	return list, nil
}

func (s *Store) installationCacheEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM installations`).Scan(&n); err != nil {
		return false, &apperr.StorageError{Op: "count installations", Err: err}
	}
	return n == 0, nil
}
