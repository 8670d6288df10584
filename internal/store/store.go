// Package store is the device-local persistence layer: the reference caches used while
// offline (installations, recent readings, meter installments) and the write-ahead
// queue of readings captured without connectivity.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"

	"github.com/septivank/aqueduct-sync/internal/apperr"
)

var (
	// ErrEntryNotFound is returned when a pending queue id does not exist
	ErrEntryNotFound = errors.New("pending entry not found")
	// ErrInstallationNotFound is returned when the cache is loaded but has no such code
	ErrInstallationNotFound = errors.New("installation not found in local cache")
	// ErrCacheEmpty is returned when the installation cache has never been loaded
	ErrCacheEmpty = errors.New("installation cache is empty")
	// ErrReadingNotFound is returned when a server reading is not in the recent cache
	ErrReadingNotFound = errors.New("reading not found in local cache")
	// ErrInstallmentNotFound is returned when a meter installment is not cached
	ErrInstallmentNotFound = errors.New("meter installment not found in local cache")
)

const schema = `
	CREATE TABLE IF NOT EXISTS installations (
		code INTEGER PRIMARY KEY,
		meter_code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		sector TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		previous_reading TEXT NOT NULL DEFAULT '0',
		average TEXT NOT NULL DEFAULT '0'
	);
	CREATE INDEX IF NOT EXISTS idx_installations_meter ON installations(meter_code);

	CREATE TABLE IF NOT EXISTS offline_consumptions (
		local_id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_ref TEXT NOT NULL UNIQUE,
		installation INTEGER NOT NULL,
		previous_reading TEXT NOT NULL,
		current_reading TEXT NOT NULL,
		consumption TEXT NOT NULL,
		billed_consumption TEXT NOT NULL,
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		meter TEXT NOT NULL DEFAULT '',
		operator TEXT NOT NULL DEFAULT '',
		company INTEGER NOT NULL DEFAULT 0,
		other_charges TEXT NOT NULL DEFAULT '0',
		reconnection TEXT NOT NULL DEFAULT '0',
		capture_date TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending' CHECK (sync_status IN ('pending', 'synced')),
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offline_status ON offline_consumptions(sync_status, local_id);

	-- synced entries never go back to pending
	CREATE TRIGGER IF NOT EXISTS offline_consumptions_status_forward
	BEFORE UPDATE OF sync_status ON offline_consumptions
	WHEN OLD.sync_status = 'synced' AND NEW.sync_status <> 'synced'
	BEGIN
		SELECT RAISE(ABORT, 'synced entries cannot revert to pending');
	END;

	CREATE TABLE IF NOT EXISTS recent_consumptions (
		code INTEGER PRIMARY KEY,
		installation INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		reading TEXT NOT NULL DEFAULT '0',
		consumption TEXT NOT NULL DEFAULT '0',
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		meter TEXT NOT NULL DEFAULT '',
		capture_date TEXT NOT NULL DEFAULT '',
		billed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_recent_period ON recent_consumptions(year, month, installation);

	CREATE TABLE IF NOT EXISTS meter_installments (
		code INTEGER PRIMARY KEY,
		installation INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL DEFAULT '',
		balance TEXT NOT NULL DEFAULT '0',
		installment TEXT NOT NULL DEFAULT '0',
		interest_rate TEXT NOT NULL DEFAULT '0'
	);
	CREATE INDEX IF NOT EXISTS idx_installments_installation ON meter_installments(installation);
`

// Store is the Local Store backed by an embedded SQLite file
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time

	// cacheMu makes cache replacement atomic for readers: writers hold it for the whole
	// clear-and-reload transaction, readers hold it shared.
	cacheMu sync.RWMutex
}

// insertHook runs before each row of a bulk cache insert. Only tests set it.
var insertHook func(i int)

// Open opens (creating if needed) the device database at path
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &apperr.StorageError{Op: "open database", Err: err}
	}

	// SQLite allows one writer; a single connection serializes queue appends, status
	// updates and cache reloads.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &apperr.StorageError{Op: "open database", Err: err}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &apperr.StorageError{Op: "create schema", Err: err}
	}

	logger.Info("local store opened", zap.String("path", path))

	return &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// replaceTable runs clear-then-insert for one cache table in a single transaction
// while holding the cache lock exclusively.
func (s *Store) replaceTable(ctx context.Context, op, table string, count int, insert func(tx *sql.Tx, i int) error) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &apperr.StorageError{Op: op, Err: err}
	}
	defer tx.Rollback()

	// table is one of the package's own constants, never caller input
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return &apperr.StorageError{Op: op, Err: fmt.Errorf("clear %s: %w", table, err)}
	}

	for i := 0; i < count; i++ {
		if insertHook != nil {
			insertHook(i)
		}
		if err := insert(tx, i); err != nil {
			return &apperr.StorageError{Op: op, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &apperr.StorageError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}
