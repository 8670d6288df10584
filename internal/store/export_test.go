package store

import (
	"context"
	"testing"
)

// SetInsertHook installs a callback that runs before each bulk cache insert and
// removes it when the test ends
func SetInsertHook(t testing.TB, hook func(i int)) {
	t.Helper()
	insertHook = hook
	t.Cleanup(func() { insertHook = nil })
}

// ForceSyncStatus writes sync_status directly, bypassing MarkSynced
func (s *Store) ForceSyncStatus(ctx context.Context, localID int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE offline_consumptions SET sync_status = ? WHERE local_id = ?`, status, localID)
	return err
}
