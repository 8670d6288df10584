package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "acueductos.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func reading(installation int, previous, current int64) domain.Reading {
	p, c := decimal.NewFromInt(previous), decimal.NewFromInt(current)
	return domain.Reading{
		Installation:      installation,
		PreviousReading:   p,
		CurrentReading:    c,
		Consumption:       c.Sub(p),
		BilledConsumption: c.Sub(p),
		Month:             6,
		Year:              2024,
		Meter:             fmt.Sprintf("MED-%04d", installation),
		Operator:          "lector1",
		Company:           1,
		OtherCharges:      decimal.Zero,
		Reconnection:      decimal.RequireFromString("12.50"),
		CaptureDate:       "2024-06-20",
	}
}

func installations(n int, name string) []domain.Installation {
	list := make([]domain.Installation, n)
	for i := range list {
		list[i] = domain.Installation{
			Code:            i + 1,
			MeterCode:       fmt.Sprintf("MED-%04d", i+1),
			Name:            name,
			Sector:          "Centro",
			Address:         "Calle 1",
			PreviousReading: decimal.NewFromInt(int64(100 * (i + 1))),
			Average:         decimal.RequireFromString("22.5"),
		}
	}
	return list
}

func TestSaveOfflineReading_PendingFIFO(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	first, err := s.SaveOfflineReading(ctx, reading(12, 400, 450))
	require.NoError(t, err)
	second, err := s.SaveOfflineReading(ctx, reading(7, 100, 130))
	require.NoError(t, err)
	third, err := s.SaveOfflineReading(ctx, reading(3, 10, 10))
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusPending, first.SyncStatus)
	assert.NotEqual(t, uuid.Nil, first.Reading.ClientRef)

	pending, err := s.PendingReadings(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []int64{first.LocalID, second.LocalID, third.LocalID},
		[]int64{pending[0].LocalID, pending[1].LocalID, pending[2].LocalID})

	got := pending[0].Reading
	assert.Equal(t, 12, got.Installation)
	assert.True(t, got.Consumption.Equal(decimal.NewFromInt(50)))
	assert.True(t, got.Reconnection.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, first.Reading.ClientRef, got.ClientRef)
	assert.Equal(t, "2024-06-20", got.CaptureDate)
}

func TestSaveOfflineReading_KeepsClientRef(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	r := reading(12, 400, 450)
	r.ClientRef = uuid.New()

	entry, err := s.SaveOfflineReading(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, r.ClientRef, entry.Reading.ClientRef)

	// the same logical reading cannot be queued twice
	_, err = s.SaveOfflineReading(ctx, r)
	var storageErr *apperr.StorageError
	assert.True(t, errors.As(err, &storageErr))
}

func TestMarkSynced_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	entry, err := s.SaveOfflineReading(ctx, reading(12, 400, 450))
	require.NoError(t, err)
	_, err = s.SaveOfflineReading(ctx, reading(13, 50, 60))
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, entry.LocalID))
	afterFirst, err := s.Entries(ctx)
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, entry.LocalID))
	afterSecond, err := s.Entries(ctx)
	require.NoError(t, err)

	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, domain.SyncStatusSynced, afterSecond[0].SyncStatus)
	assert.Equal(t, domain.SyncStatusPending, afterSecond[1].SyncStatus)

	pending, err := s.PendingReadings(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 13, pending[0].Reading.Installation)

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkSynced_UnknownEntry(t *testing.T) {
	s := openStore(t)

	err := s.MarkSynced(context.Background(), 999)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestSyncedEntryCannotRevertToPending(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	entry, err := s.SaveOfflineReading(ctx, reading(12, 400, 450))
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, entry.LocalID))

	err = s.ForceSyncStatus(ctx, entry.LocalID, string(domain.SyncStatusPending))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot revert")

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SyncStatusSynced, entries[0].SyncStatus)

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurgeSynced_KeepsPending(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	synced, err := s.SaveOfflineReading(ctx, reading(1, 0, 5))
	require.NoError(t, err)
	_, err = s.SaveOfflineReading(ctx, reading(2, 0, 5))
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, synced.LocalID))

	removed, err := s.PurgeSynced(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, err := s.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SyncStatusPending, entries[0].SyncStatus)
}

func TestInstallationCache_EmptyVersusNotFound(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.InstallationByCode(ctx, 1)
	assert.ErrorIs(t, err, store.ErrCacheEmpty)
	_, err = s.AllInstallations(ctx)
	assert.ErrorIs(t, err, store.ErrCacheEmpty)

	require.NoError(t, s.ReplaceInstallationCache(ctx, installations(3, "old")))

	_, err = s.InstallationByCode(ctx, 99)
	assert.ErrorIs(t, err, store.ErrInstallationNotFound)

	inst, err := s.InstallationByCode(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "MED-0002", inst.MeterCode)
	assert.True(t, inst.PreviousReading.Equal(decimal.NewFromInt(200)))
	assert.True(t, inst.Average.Equal(decimal.RequireFromString("22.5")))
}

func TestReplaceInstallationCache_FullyReplaces(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.ReplaceInstallationCache(ctx, installations(5, "old")))
	require.NoError(t, s.ReplaceInstallationCache(ctx, installations(2, "new")))

	all, err := s.AllInstallations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, inst := range all {
		assert.Equal(t, "new", inst.Name)
	}
}

func TestReplaceInstallationCache_ConcurrentReaderSeesOneGeneration(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	oldList := installations(3, "old")
	newList := installations(6, "new")
	require.NoError(t, s.ReplaceInstallationCache(ctx, oldList))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.SetInsertHook(t, func(i int) {
		if i == 2 {
			once.Do(func() { close(started) })
			<-release
		}
	})

	replaceDone := make(chan error, 1)
	go func() {
		replaceDone <- s.ReplaceInstallationCache(ctx, newList)
	}()

	<-started

	type result struct {
		list []domain.Installation
		err  error
	}
	readDone := make(chan result, 1)
	go func() {
		list, err := s.AllInstallations(ctx)
		readDone <- result{list, err}
	}()

	select {
	case r := <-readDone:
		t.Fatalf("reader observed the cache mid-replacement: %d rows, err=%v", len(r.list), r.err)
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-replaceDone)

	r := <-readDone
	require.NoError(t, r.err)
	require.Len(t, r.list, len(newList))
	for _, inst := range r.list {
		assert.Equal(t, "new", inst.Name)
	}
}

func TestReplaceInstallationCache_FailureKeepsOldCache(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.ReplaceInstallationCache(ctx, installations(3, "old")))

	// duplicate primary key aborts the transaction half way through
	broken := installations(4, "new")
	broken[3].Code = broken[1].Code

	err := s.ReplaceInstallationCache(ctx, broken)
	var storageErr *apperr.StorageError
	require.True(t, errors.As(err, &storageErr))

	all, err := s.AllInstallations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, inst := range all {
		assert.Equal(t, "old", inst.Name)
	}
}

func TestRecentReadings_ReplaceUpsertAndFilter(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.ReplaceRecentReadings(ctx, []domain.RecentReading{
		{Code: 1, Installation: 12, Name: "Maria Lopez", Reading: decimal.NewFromInt(400), Consumption: decimal.NewFromInt(20), Month: 6, Year: 2024},
		{Code: 2, Installation: 7, Name: "Jose Perez", Reading: decimal.NewFromInt(90), Consumption: decimal.NewFromInt(10), Month: 6, Year: 2024},
		{Code: 3, Installation: 7, Name: "Jose Perez", Reading: decimal.NewFromInt(80), Consumption: decimal.NewFromInt(8), Month: 5, Year: 2024},
	}))

	june, err := s.RecentReadings(ctx, domain.ReadingFilter{Year: 2024, Month: 6})
	require.NoError(t, err)
	require.Len(t, june, 2)
	assert.Equal(t, 7, june[0].Installation)

	byName, err := s.RecentReadings(ctx, domain.ReadingFilter{Name: "maria"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, 12, byName[0].Installation)

	require.NoError(t, s.UpsertRecentReading(ctx, domain.RecentReading{
		Code: 1, Installation: 12, Name: "Maria Lopez", Reading: decimal.NewFromInt(450),
		Consumption: decimal.NewFromInt(50), Month: 6, Year: 2024, Billed: true,
	}))

	updated, err := s.RecentReadings(ctx, domain.ReadingFilter{Installation: 12})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.True(t, updated[0].Reading.Equal(decimal.NewFromInt(450)))
	assert.True(t, updated[0].Billed)

	paged, err := s.RecentReadings(ctx, domain.ReadingFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, paged, 1)
}

func TestDeleteRecentReading(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.UpsertRecentReading(ctx, domain.RecentReading{Code: 9, Installation: 4, Month: 6, Year: 2024}))
	require.NoError(t, s.DeleteRecentReading(ctx, 9))
	require.NoError(t, s.DeleteRecentReading(ctx, 9))

	list, err := s.RecentReadings(ctx, domain.ReadingFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func recentPeriod(n, year, month int) []domain.RecentReading {
	list := make([]domain.RecentReading, n)
	for i := range list {
		list[i] = domain.RecentReading{
			Code:         i + 1,
			Installation: i + 1,
			Name:         fmt.Sprintf("Abonado %02d", i+1),
			Reading:      decimal.NewFromInt(int64(100 + i)),
			Month:        month,
			Year:         year,
		}
	}
	return list
}

func TestCountRecentReadings_IgnoresPaging(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	list := append(recentPeriod(25, 2024, 6), domain.RecentReading{Code: 100, Installation: 100, Month: 5, Year: 2024})
	require.NoError(t, s.ReplaceRecentReadings(ctx, list))

	filter := domain.ReadingFilter{Year: 2024, Month: 6, Page: 3, Limit: 10}
	page, err := s.RecentReadings(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, page, 5)

	total, err := s.CountRecentReadings(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 25, total)

	total, err = s.CountRecentReadings(ctx, domain.ReadingFilter{Name: "abonado 1"})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
}

func TestRecentReadingByCode(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.ReplaceRecentReadings(ctx, recentPeriod(3, 2024, 6)))

	r, err := s.RecentReadingByCode(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Abonado 02", r.Name)
	assert.True(t, r.Reading.Equal(decimal.NewFromInt(101)))

	_, err = s.RecentReadingByCode(ctx, 42)
	assert.ErrorIs(t, err, store.ErrReadingNotFound)
}

func TestMeterInstallments(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.ReplaceMeterInstallments(ctx, []domain.MeterInstallment{
		{Code: 1, Installation: 12, Name: "Maria Lopez", Date: "2024-04-01", Balance: decimal.NewFromInt(90000), Installment: decimal.NewFromInt(15000), InterestRate: decimal.RequireFromString("1.5")},
		{Code: 2, Installation: 12, Name: "Maria Lopez", Date: "2024-05-01", Balance: decimal.NewFromInt(75000), Installment: decimal.NewFromInt(15000)},
		{Code: 3, Installation: 7, Name: "Jose Perez", Date: "2024-05-15", Balance: decimal.NewFromInt(20000), Installment: decimal.NewFromInt(5000)},
	}))

	all, total, err := s.MeterInstallments(ctx, domain.InstallmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, 3, all[0].Code, "newest first")

	maria, total, err := s.MeterInstallments(ctx, domain.InstallmentFilter{Name: "maria", Page: 2, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, maria, 1)
	assert.Equal(t, 1, maria[0].Code)
	assert.True(t, maria[0].InterestRate.Equal(decimal.RequireFromString("1.5")))

	byInstallation, total, err := s.MeterInstallments(ctx, domain.InstallmentFilter{Installation: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Jose Perez", byInstallation[0].Name)

	m, err := s.MeterInstallmentByCode(ctx, 2)
	require.NoError(t, err)
	assert.True(t, m.Balance.Equal(decimal.NewFromInt(75000)))

	_, err = s.MeterInstallmentByCode(ctx, 99)
	assert.ErrorIs(t, err, store.ErrInstallmentNotFound)

	require.NoError(t, s.ReplaceMeterInstallments(ctx, nil))
	_, total, err = s.MeterInstallments(ctx, domain.InstallmentFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}
