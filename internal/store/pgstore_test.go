package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sowhat82/cravemap/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- PGStore Tests ---

func TestPGStore_Load_AbsentReturnsFreshRecord(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	rec, err := s.Load(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, "user1", rec.UserID)
	assert.EqualValues(t, 0, rec.Revision)
	db.AssertExpectations(t)
}

func TestPGStore_Load_DBError(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := s.Load(context.Background(), "user1")
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeInternalStoreUnavailable, appErr.Code)
}

func TestPGStore_Save_InsertNewRecord(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	rec := types.NewUserRecord("user1", "user@example.com", time.Now().UTC())
	err := s.Save(context.Background(), rec)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Revision)
	db.AssertExpectations(t)
}

func TestPGStore_Save_InsertConflict(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	// ON CONFLICT DO NOTHING inserts zero rows when the record already exists.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	rec := types.NewUserRecord("user1", "", time.Now().UTC())
	err := s.Save(context.Background(), rec)
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)
	assert.EqualValues(t, 0, rec.Revision)
}

func TestPGStore_Save_UpdateWithRevisionGuard(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	rec := types.NewUserRecord("user1", "", time.Now().UTC())
	rec.Revision = 3
	err := s.Save(context.Background(), rec)
	require.NoError(t, err)
	assert.EqualValues(t, 4, rec.Revision)
}

func TestPGStore_Save_StaleRevisionConflicts(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	rec := types.NewUserRecord("user1", "", time.Now().UTC())
	rec.Revision = 3
	err := s.Save(context.Background(), rec)
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)
	assert.EqualValues(t, 3, rec.Revision)
}

func TestPGStore_Save_DBError(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	rec := types.NewUserRecord("user1", "", time.Now().UTC())
	rec.Revision = 1
	err := s.Save(context.Background(), rec)
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok)
	assert.Equal(t, types.ErrCodeInternalStoreUnavailable, appErr.Code)
}

func TestPGStore_IncrementDaily(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*(dest[0].(*int)) = 2
			return nil
		}})

	count, err := s.IncrementDaily(context.Background(), "fp1", "2025-05-01")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	db.AssertExpectations(t)
}

func TestPGStore_GetDaily_AbsentIsZero(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	count, err := s.GetDaily(context.Background(), "fp1", "2025-05-01")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPGStore_IncrementDaily_InvalidDay(t *testing.T) {
	db := new(mockDBTX)
	s := NewPGStore(db)

	_, err := s.IncrementDaily(context.Background(), "fp1", "not-a-day")
	require.Error(t, err)
}
