package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sowhat82/cravemap/internal/types"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStore_Load_AbsentReturnsFreshRecord(t *testing.T) {
	s := newTestFileStore(t)

	rec, err := s.Load(context.Background(), "abcdef0123456789")
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789", rec.UserID)
	assert.False(t, rec.IsPremium)
	assert.Zero(t, rec.MonthlySearchCount)
	assert.EqualValues(t, 0, rec.Revision)
}

func TestFileStore_SaveAndLoad_RoundTrip(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := types.NewUserRecord("user1", "user@example.com", now)
	rec.IsPremium = true
	rec.PremiumSince = &now
	rec.MonthlySearchCount = 3
	rec.TrialDailyCounts = map[string]int{"2025-05-01": 2}

	require.NoError(t, s.Save(ctx, rec))
	assert.EqualValues(t, 1, rec.Revision)

	loaded, err := s.Load(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, loaded.IsPremium)
	assert.Equal(t, 3, loaded.MonthlySearchCount)
	assert.Equal(t, 2, loaded.TrialDailyCounts["2025-05-01"])
	assert.EqualValues(t, 1, loaded.Revision)
	require.NotNil(t, loaded.PremiumSince)
	assert.True(t, loaded.PremiumSince.Equal(now))
}

func TestFileStore_Save_StaleRevisionConflicts(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	rec := types.NewUserRecord("user1", "", time.Now().UTC())
	require.NoError(t, s.Save(ctx, rec))

	// A second actor loaded the same revision and saved first.
	stale, err := s.Load(ctx, "user1")
	require.NoError(t, err)
	winner, err := s.Load(ctx, "user1")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, winner))

	err = s.Save(ctx, stale)
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)
}

func TestFileStore_Save_NewRecordWithNonzeroRevisionConflicts(t *testing.T) {
	s := newTestFileStore(t)

	rec := types.NewUserRecord("ghost", "", time.Now().UTC())
	rec.Revision = 4

	err := s.Save(context.Background(), rec)
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)
}

func TestFileStore_Load_CorruptRecordFails(t *testing.T) {
	s := newTestFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bad.json"), []byte("{nope"), 0o644))

	_, err := s.Load(context.Background(), "bad")
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeInternalStoreUnavailable, appErr.Code)
}

func TestFileStore_IncrementDaily(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementDaily(ctx, "fp1", "2025-05-01")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Separate fingerprints and days count independently.
	got, err := s.IncrementDaily(ctx, "fp2", "2025-05-01")
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	got, err = s.IncrementDaily(ctx, "fp1", "2025-05-02")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestFileStore_GetDaily(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	count, err := s.GetDaily(ctx, "fp1", "2025-05-01")
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = s.IncrementDaily(ctx, "fp1", "2025-05-01")
	require.NoError(t, err)

	count, err = s.GetDaily(ctx, "fp1", "2025-05-01")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFileStore_IncrementDaily_PrunesOldDays(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	_, err := s.IncrementDaily(ctx, "fp1", "2025-05-01")
	require.NoError(t, err)

	// A week later the old entry must be gone; yesterday survives.
	_, err = s.IncrementDaily(ctx, "fp2", "2025-05-07")
	require.NoError(t, err)
	_, err = s.IncrementDaily(ctx, "fp3", "2025-05-08")
	require.NoError(t, err)

	old, err := s.GetDaily(ctx, "fp1", "2025-05-01")
	require.NoError(t, err)
	assert.Zero(t, old)

	yesterday, err := s.GetDaily(ctx, "fp2", "2025-05-07")
	require.NoError(t, err)
	assert.Equal(t, 1, yesterday)
}

func TestFileStore_SaveFailureDoesNotAdvanceRevision(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()

	rec := types.NewUserRecord("user1", "", time.Now().UTC())
	require.NoError(t, s.Save(ctx, rec))

	stale, err := s.Load(ctx, "user1")
	require.NoError(t, err)
	winner, err := s.Load(ctx, "user1")
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, winner))

	before := stale.Revision
	_ = s.Save(ctx, stale)
	assert.Equal(t, before, stale.Revision)
}

func TestFileStore_FindByCustomer(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	a := types.NewUserRecord("usera", "a@example.com", now)
	a.BillingCustomerID = "cus_aaa"
	require.NoError(t, s.Save(ctx, a))

	b := types.NewUserRecord("userb", "b@example.com", now)
	b.BillingCustomerID = "cus_bbb"
	require.NoError(t, s.Save(ctx, b))

	found, err := s.FindByCustomer(ctx, "cus_bbb")
	require.NoError(t, err)
	assert.Equal(t, "userb", found.UserID)

	_, err = s.FindByCustomer(ctx, "cus_missing")
	require.Error(t, err)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}
