package chargecode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisFailureTracker_Blocked(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tracker := NewRedisFailureTracker(db, 5, 15*time.Minute)
	ctx := context.Background()

	mock.ExpectGet("chargecode:failures:7").RedisNil()
	blocked, err := tracker.Blocked(ctx, 7)
	require.NoError(t, err)
	assert.False(t, blocked)

	mock.ExpectGet("chargecode:failures:7").SetVal("4")
	blocked, err = tracker.Blocked(ctx, 7)
	require.NoError(t, err)
	assert.False(t, blocked)

	mock.ExpectGet("chargecode:failures:7").SetVal("5")
	blocked, err = tracker.Blocked(ctx, 7)
	require.NoError(t, err)
	assert.True(t, blocked)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisFailureTracker_BlockedError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tracker := NewRedisFailureTracker(db, 5, time.Minute)

	mock.ExpectGet("chargecode:failures:7").SetErr(errors.New("connection refused"))
	_, err := tracker.Blocked(context.Background(), 7)
	assert.Error(t, err)
}

func TestRedisFailureTracker_Disabled(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tracker := NewRedisFailureTracker(db, 0, time.Minute)

	blocked, err := tracker.Blocked(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisFailureTracker_RecordFailureSetsWindowOnce(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tracker := NewRedisFailureTracker(db, 5, 15*time.Minute)
	ctx := context.Background()

	mock.ExpectIncr("chargecode:failures:7").SetVal(1)
	mock.ExpectExpire("chargecode:failures:7", 15*time.Minute).SetVal(true)
	require.NoError(t, tracker.RecordFailure(ctx, 7))

	mock.ExpectIncr("chargecode:failures:7").SetVal(2)
	require.NoError(t, tracker.RecordFailure(ctx, 7))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisFailureTracker_Reset(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tracker := NewRedisFailureTracker(db, 5, time.Minute)

	mock.ExpectDel("chargecode:failures:7").SetVal(1)
	require.NoError(t, tracker.Reset(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
