package unreadcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "unread:"

// Entries are hashes {n, seen, wm}; seen and wm are unix microseconds.
// A hash holding only wm is a marker: it has no count yet, but records the
// newest message a future recompute has to account for.

// storeScript writes a recomputed entry. It refuses counts taken for an
// older cursor, and counts whose watermark is older than what the cache has
// already seen. A newer cursor with an older watermark turns the entry into
// a marker so the next read recomputes.
var storeScript = redis.NewScript(`
local seen = tonumber(ARGV[2])
local wm = tonumber(ARGV[3])
local cur = redis.call("HMGET", KEYS[1], "n", "seen", "wm")
local curWm = cur[3] and tonumber(cur[3])
if cur[1] and cur[2] and curWm then
	local curSeen = tonumber(cur[2])
	if curSeen > seen then
		return 0
	end
	if curWm > wm then
		if curSeen < seen then
			redis.call("HDEL", KEYS[1], "n", "seen")
		end
		return 0
	end
elseif curWm and curWm > wm then
	return 0
end
redis.call("HSET", KEYS[1], "n", ARGV[1], "seen", ARGV[2], "wm", ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`)

// incrementScript accounts for a new message in every entry whose watermark
// is older than it; only messages after the entry's cursor are counted.
// Missing entries become markers so a recompute racing with this message
// cannot store a count that misses it.
var incrementScript = redis.NewScript(`
local createdAt = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local bumped = 0
for _, key in ipairs(KEYS) do
	local cur = redis.call("HMGET", key, "n", "seen", "wm")
	local curWm = cur[3] and tonumber(cur[3])
	if not curWm or curWm < createdAt then
		if cur[1] and cur[2] and curWm then
			if createdAt > tonumber(cur[2]) then
				redis.call("HINCRBY", key, "n", 1)
				bumped = bumped + 1
			end
		end
		redis.call("HSET", key, "wm", ARGV[1])
		if ttl > 0 then
			redis.call("PEXPIRE", key, ttl)
		end
	end
end
return bumped
`)

// Cache keeps one unread counter per (user, chat) pair
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an existing client. ttl <= 0 keeps entries forever.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Key returns the redis key of a counter
func Key(userID, chatID string) string {
	return keyPrefix + userID + ":" + chatID
}

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// Get returns the cached counter. ok is false on a cache miss, markers included.
func (c *Cache) Get(ctx context.Context, userID, chatID string) (int64, bool, error) {
	n, err := c.rdb.HGet(ctx, Key(userID, chatID), "n").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("unreadcache: get: %w", err)
	}
	return n, true, nil
}

// Store writes a recomputed counter
func (c *Cache) Store(ctx context.Context, userID, chatID string, n int64, lastSeen, watermark time.Time) error {
	err := storeScript.Run(ctx, c.rdb, []string{Key(userID, chatID)},
		n, micros(lastSeen), micros(watermark), c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("unreadcache: store: %w", err)
	}
	return nil
}

// IncrementExisting accounts for a new message created at createdAt
func (c *Cache) IncrementExisting(ctx context.Context, chatID string, userIDs []string, createdAt time.Time) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = Key(userID, chatID)
	}
	if err := incrementScript.Run(ctx, c.rdb, keys, micros(createdAt), c.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("unreadcache: increment: %w", err)
	}
	return nil
}

// Invalidate drops the counters of userIDs in chatID
func (c *Cache) Invalidate(ctx context.Context, chatID string, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, userID := range userIDs {
		keys[i] = Key(userID, chatID)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("unreadcache: invalidate: %w", err)
	}
	return nil
}
