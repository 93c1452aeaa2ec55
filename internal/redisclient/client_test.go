package redisclient

import (
	"context"
	"testing"
	"time"

	"enrollment-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(config.RedisConfig{Addr: "localhost:6379", DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLeaderboardKey(t *testing.T) {
	assert.Equal(t, "leaderboard:course:42", leaderboardKey(42))
}

func TestLockIsExclusive(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c := testClient(t)
	ctx := context.Background()

	release, acquired, err := c.TryLock(ctx, "payment:1", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = c.TryLock(ctx, "payment:1", time.Second)
	require.NoError(t, err)
	assert.False(t, acquired)

	release()
	release2, acquired, err := c.TryLock(ctx, "payment:1", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
	release2()
}

func TestReleaseOnlyOwnLock(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c := testClient(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "payment:2", 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, lock)
	time.Sleep(100 * time.Millisecond)

	other, err := c.AcquireLock(ctx, "payment:2", time.Second)
	require.NoError(t, err)
	require.NotNil(t, other)

	// the expired holder must not delete the new holder's key
	require.NoError(t, lock.Release(ctx))
	again, err := c.AcquireLock(ctx, "payment:2", time.Second)
	require.NoError(t, err)
	assert.Nil(t, again)
	require.NoError(t, other.Release(ctx))
}

func TestLeaderboardCache(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c := testClient(t)
	ctx := context.Background()
	_, err := c.FlushLeaderboards(ctx)
	require.NoError(t, err)

	_, ok, err := c.GetLeaderboard(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetLeaderboard(ctx, 7, []byte(`[{"rank":1}]`), time.Minute))
	require.NoError(t, c.SetLeaderboard(ctx, 8, []byte(`[]`), time.Minute))

	payload, ok, err := c.GetLeaderboard(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `[{"rank":1}]`, string(payload))

	require.NoError(t, c.InvalidateLeaderboard(ctx, 7))
	_, ok, err = c.GetLeaderboard(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	flushed, err := c.FlushLeaderboards(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), flushed)
}
