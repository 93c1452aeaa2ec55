package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"enrollment-service/config"
	"enrollment-service/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/flush_index.lua
var invalidateIndexScript string

type Client struct {
	rdb             *redis.Client
	releaseScript   *redis.Script
	invalidateIndex *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:             rdb,
		releaseScript:   redis.NewScript(releaseLockScript),
		invalidateIndex: redis.NewScript(invalidateIndexScript),
	}
}

// Ping is used by the readiness probe
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Lock is a held distributed lock. Release only deletes the key while it still holds our token.
type Lock struct {
	client *Client
	key    string
	token  string
}

// AcquireLock tries once to take lock:<name> for ttl. It returns nil, nil when someone else holds it.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := fmt.Sprintf("lock:%s", name)
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{client: c, key: key, token: token}, nil
}

// Release drops the lock if it has not expired and been taken by another holder
func (l *Lock) Release(ctx context.Context) error {
	if _, err := l.client.releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

func leaderboardKey(courseID int64) string {
	return fmt.Sprintf("leaderboard:course:%d", courseID)
}

// GetLeaderboard returns the cached leaderboard payload, or ok=false on a miss
func (c *Client) GetLeaderboard(ctx context.Context, courseID int64) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, leaderboardKey(courseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SetLeaderboard caches a leaderboard payload and indexes it for invalidation
func (c *Client) SetLeaderboard(ctx context.Context, courseID int64, payload []byte, ttl time.Duration) error {
	key := leaderboardKey(courseID)
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	pipe.SAdd(ctx, leaderboardIndexKey, key)
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateLeaderboard drops the cached leaderboard of a course
func (c *Client) InvalidateLeaderboard(ctx context.Context, courseID int64) error {
	key := leaderboardKey(courseID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, leaderboardIndexKey, key)
	_, err := pipe.Exec(ctx)
	return err
}

const leaderboardIndexKey = "leaderboard:index"

// FlushLeaderboards drops every cached leaderboard and returns how many were removed
func (c *Client) FlushLeaderboards(ctx context.Context) (int64, error) {
	n, err := c.invalidateIndex.Run(ctx, c.rdb, []string{leaderboardIndexKey}).Int64()
	if err != nil {
		return 0, fmt.Errorf("flush leaderboards: %w", err)
	}
	return n, nil
}

// TryLock takes lock:<name> and returns a release func that never fails the caller;
// release errors are logged since the lock expires on its own.
func (c *Client) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	lock, err := c.AcquireLock(ctx, name, ttl)
	if err != nil || lock == nil {
		return func() {}, false, err
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			util.GetLogger().Warn("Failed to release lock", zap.String("lock", lock.key), zap.Error(err))
		}
	}, true, nil
}
