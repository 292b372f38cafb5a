package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*RedisLocker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	locker := NewRedisLocker(db, "test:")
	locker.token = func() string { return "token-1" }
	return locker, mock
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	locker, mock := newTestLocker(t)
	ctx := context.Background()

	mock.ExpectSetNX("test:run:2025-06-30", "token-1", time.Hour).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"test:run:2025-06-30"}, "token-1").SetVal(int64(1))

	l, err := locker.TryLock(ctx, "run:2025-06-30", time.Hour)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_Held(t *testing.T) {
	locker, mock := newTestLocker(t)

	mock.ExpectSetNX("test:run:2025-06-30", "token-1", time.Hour).SetVal(false)

	_, err := locker.TryLock(context.Background(), "run:2025-06-30", time.Hour)
	assert.ErrorIs(t, err, ErrLocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLocker_RedisError(t *testing.T) {
	locker, mock := newTestLocker(t)

	mock.ExpectSetNX("test:k", "token-1", time.Minute).SetErr(errors.New("connection reset"))

	_, err := locker.TryLock(context.Background(), "k", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRedisLocker_ExpiredBeforeRelease(t *testing.T) {
	locker, mock := newTestLocker(t)
	ctx := context.Background()

	mock.ExpectSetNX("test:k", "token-1", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"test:k"}, "token-1").SetVal(int64(0))

	l, err := locker.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	err = l.Release(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestNew_DisabledIsNoop(t *testing.T) {
	locker, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, NoopLocker{}, locker)

	l, err := locker.TryLock(context.Background(), "any", time.Second)
	require.NoError(t, err)
	assert.NoError(t, l.Release(context.Background()))
}
