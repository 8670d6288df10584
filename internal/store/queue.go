package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
)

const pendingColumns = `
	local_id, client_ref, installation, previous_reading, current_reading, consumption,
	billed_consumption, month, year, meter, operator, company, other_charges,
	reconnection, capture_date, sync_status, created_at
`

// SaveOfflineReading appends a reading to the pending queue with status pending
func (s *Store) SaveOfflineReading(ctx context.Context, r domain.Reading) (domain.PendingEntry, error) {
	if r.ClientRef == uuid.Nil {
		r.ClientRef = uuid.New()
	}
	createdAt := s.now()

	query := `
		INSERT INTO offline_consumptions (
			client_ref, installation, previous_reading, current_reading, consumption,
			billed_consumption, month, year, meter, operator, company, other_charges,
			reconnection, capture_date, sync_status, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		r.ClientRef.String(),
		r.Installation,
		r.PreviousReading,
		r.CurrentReading,
		r.Consumption,
		r.BilledConsumption,
		r.Month,
		r.Year,
		r.Meter,
		r.Operator,
		r.Company,
		r.OtherCharges,
		r.Reconnection,
		r.CaptureDate,
		string(domain.SyncStatusPending),
		createdAt.UnixMilli(),
	)
	if err != nil {
		return domain.PendingEntry{}, &apperr.StorageError{Op: "save offline reading", Err: err}
	}

	localID, err := res.LastInsertId()
	if err != nil {
		return domain.PendingEntry{}, &apperr.StorageError{Op: "save offline reading", Err: err}
	}

	s.logger.Debug("reading queued offline",
		zap.Int64("local_id", localID),
		zap.Int("installation", r.Installation),
		zap.String("client_ref", r.ClientRef.String()),
	)

	return domain.PendingEntry{
		LocalID:    localID,
		Reading:    r,
		SyncStatus: domain.SyncStatusPending,
		CreatedAt:  time.UnixMilli(createdAt.UnixMilli()),
	}, nil
}

// PendingReadings returns every pending entry in insertion order
func (s *Store) PendingReadings(ctx context.Context) ([]domain.PendingEntry, error) {
	query := `SELECT ` + pendingColumns + `
		FROM offline_consumptions
		WHERE sync_status = 'pending'
		ORDER BY local_id ASC
	`
	return s.queryEntries(ctx, "get pending readings", query)
}

// Entries returns the whole queue, synced entries included, in insertion order
func (s *Store) Entries(ctx context.Context) ([]domain.PendingEntry, error) {
	query := `SELECT ` + pendingColumns + `
		FROM offline_consumptions
		ORDER BY local_id ASC
	`
	return s.queryEntries(ctx, "list queue entries", query)
}

// CountPending returns the number of entries waiting for sync
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offline_consumptions WHERE sync_status = 'pending'`,
	).Scan(&n)
	if err != nil {
		return 0, &apperr.StorageError{Op: "count pending readings", Err: err}
	}
	return n, nil
}

// MarkSynced transitions an entry from pending to synced. Marking an already synced
// entry is a no-op.
func (s *Store) MarkSynced(ctx context.Context, localID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offline_consumptions SET sync_status = 'synced' WHERE local_id = ? AND sync_status = 'pending'`,
		localID,
	)
	if err != nil {
		return &apperr.StorageError{Op: "mark synced", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return &apperr.StorageError{Op: "mark synced", Err: err}
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM offline_consumptions WHERE local_id = ?`, localID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark synced %d: %w", localID, ErrEntryNotFound)
	}
	if err != nil {
		return &apperr.StorageError{Op: "mark synced", Err: err}
	}
	return nil
}

// PurgeSynced deletes synced entries created before the cutoff and returns how many
// were removed. Pending entries are never touched.
func (s *Store) PurgeSynced(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM offline_consumptions WHERE sync_status = 'synced' AND created_at < ?`,
		before.UnixMilli(),
	)
	if err != nil {
		return 0, &apperr.StorageError{Op: "purge synced readings", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &apperr.StorageError{Op: "purge synced readings", Err: err}
	}
	return n, nil
}

func (s *Store) queryEntries(ctx context.Context, op, query string, args ...any) ([]domain.PendingEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &apperr.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var entries []domain.PendingEntry
	for rows.Next() {
		var (
			e         domain.PendingEntry
			clientRef string
			status    string
			createdAt int64
		)
		err := rows.Scan(
			&e.LocalID,
			&clientRef,
			&e.Reading.Installation,
			&e.Reading.PreviousReading,
			&e.Reading.CurrentReading,
			&e.Reading.Consumption,
			&e.Reading.BilledConsumption,
			&e.Reading.Month,
			&e.Reading.Year,
			&e.Reading.Meter,
			&e.Reading.Operator,
			&e.Reading.Company,
			&e.Reading.OtherCharges,
			&e.Reading.Reconnection,
			&e.Reading.CaptureDate,
			&status,
			&createdAt,
		)
		if err != nil {
			return nil, &apperr.StorageError{Op: op, Err: fmt.Errorf("scan entry: %w", err)}
		}

		ref, err := uuid.Parse(clientRef)
		if err != nil {
			return nil, &apperr.StorageError{Op: op, Err: fmt.Errorf("entry %d has invalid client_ref: %w", e.LocalID, err)}
		}
		e.Reading.ClientRef = ref
		e.SyncStatus = domain.SyncStatus(status)
		e.CreatedAt = time.UnixMilli(createdAt)

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, &apperr.StorageError{Op: op, Err: fmt.Errorf("rows iteration error: %w", err)}
	}

	return entries, nil
}
