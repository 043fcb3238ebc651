package lock

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, *AdvisoryLock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewExportLock(db, "licensees")
}

func expectGetLock(mock sqlmock.Sqlmock, timeout int, result interface{}) {
	mock.ExpectQuery(`SELECT GET_LOCK\(\?, \?\)`).
		WithArgs("prefixcrawl:export:licensees", timeout).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(result))
}

func expectReleaseLock(mock sqlmock.Sqlmock, result interface{}) {
	mock.ExpectQuery(`SELECT RELEASE_LOCK\(\?\)`).
		WithArgs("prefixcrawl:export:licensees").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(result))
}

func TestAcquireLock(t *testing.T) {
	tests := []struct {
		name     string
		result   interface{}
		acquired bool
		wantErr  string
	}{
		{name: "obtained", result: 1, acquired: true},
		{name: "timeout", result: 0, acquired: false},
		{name: "null", result: nil, wantErr: "GET_LOCK returned NULL"},
		{name: "unexpected", result: 7, wantErr: "unexpected GET_LOCK return value: 7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, l := newMock(t)
			expectGetLock(mock, TimeoutShort, tt.result)

			acquired, err := l.AcquireLock(context.Background(), TimeoutShort)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.acquired, acquired)
			assert.Equal(t, tt.acquired, l.IsHeld())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAcquireLock_AlreadyHeld(t *testing.T) {
	mock, l := newMock(t)
	expectGetLock(mock, TimeoutImmediate, 1)

	ok, err := l.AcquireLock(context.Background(), TimeoutImmediate)
	require.NoError(t, err)
	require.True(t, ok)

	// No second query
	ok, err = l.AcquireLock(context.Background(), TimeoutImmediate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireLock_QueryError(t *testing.T) {
	mock, l := newMock(t)
	mock.ExpectQuery(`SELECT GET_LOCK`).WillReturnError(errors.New("connection reset"))

	_, err := l.AcquireLock(context.Background(), TimeoutShort)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute GET_LOCK")
}

func TestReleaseLock(t *testing.T) {
	mock, l := newMock(t)

	released, err := l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.False(t, released, "not held, nothing to release")

	expectGetLock(mock, TimeoutShort, 1)
	expectReleaseLock(mock, 1)

	require.NoError(t, l.AcquireOrFail(context.Background(), TimeoutShort))
	released, err = l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, l.IsHeld())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireOrFail_HeldElsewhere(t *testing.T) {
	mock, l := newMock(t)
	expectGetLock(mock, TimeoutShort, 0)

	err := l.AcquireOrFail(context.Background(), TimeoutShort)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Contains(t, err.Error(), "prefixcrawl:export:licensees")
}

func TestWithLock(t *testing.T) {
	t.Run("releases after success", func(t *testing.T) {
		mock, l := newMock(t)
		expectGetLock(mock, TimeoutShort, 1)
		expectReleaseLock(mock, 1)

		ran := false
		err := l.WithLock(context.Background(), TimeoutShort, func() error {
			ran = true
			assert.True(t, l.IsHeld())
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("releases after error", func(t *testing.T) {
		mock, l := newMock(t)
		expectGetLock(mock, TimeoutShort, 1)
		expectReleaseLock(mock, 1)

		err := l.WithLock(context.Background(), TimeoutShort, func() error {
			return errors.New("batch failed")
		})
		assert.EqualError(t, err, "batch failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("releases after panic", func(t *testing.T) {
		mock, l := newMock(t)
		expectGetLock(mock, TimeoutShort, 1)
		expectReleaseLock(mock, 1)

		assert.Panics(t, func() {
			_ = l.WithLock(context.Background(), TimeoutShort, func() error {
				panic("boom")
			})
		})
		assert.False(t, l.IsHeld())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not run when held elsewhere", func(t *testing.T) {
		mock, l := newMock(t)
		expectGetLock(mock, TimeoutShort, 0)

		err := l.WithLock(context.Background(), TimeoutShort, func() error {
			t.Fatal("must not run")
			return nil
		})
		assert.ErrorIs(t, err, ErrLockTimeout)
	})
}

func TestExportLockName(t *testing.T) {
	tests := []struct {
		table    string
		expected string
	}{
		{"licensees", "prefixcrawl:export:licensees"},
		{"tx-physicians_2024", "prefixcrawl:export:tx-physicians_2024"},
		{"db.table", "prefixcrawl:export:db_table"},
		{"with space", "prefixcrawl:export:with_space"},
		{"", "prefixcrawl:export:"},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExportLockName(tt.table))
		})
	}

	long := ExportLockName(strings.Repeat("x", 100))
	assert.Len(t, long, 64)
}
