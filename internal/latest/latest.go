// Package latest keeps the most recent reading of every topic in redis for
// dashboard tiles that only show the current value.
package latest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SLRio/Railway3/internal/store"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "telemetry:last:"

type Reading struct {
	ID    string  `json:"id"`
	Topic string  `json:"topic"`
	Value float64 `json:"value"`
	Date  string  `json:"date"`
}

// putScript writes a reading only when it is not older than the cached one.
// KEYS[1] hash key; ARGV ts (unix ms), reading JSON, ttl (ms, 0 keeps it).
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ts')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'ts', ARGV[1], 'reading', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

// kv is the slice of the redis API the cache uses.
type kv interface {
	redis.Scripter
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

type Cache struct {
	rdb kv
	ttl time.Duration
}

// Connect opens a redis client and checks it answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// New wraps a redis client. Entries expire after ttl so dead sensors fall out
// of the cache; zero keeps them forever.
func New(rdb kv, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func Key(topic string) string {
	return keyPrefix + topic
}

// Put caches rec as the latest reading of topic. Readings are handled
// concurrently, so one stamped before the cached reading is discarded.
func (c *Cache) Put(ctx context.Context, topic string, rec store.Record) error {
	b, err := json.Marshal(Reading{ID: rec.ID.String(), Topic: topic, Value: rec.Value, Date: rec.Date})
	if err != nil {
		return err
	}
	stored, err := putScript.Run(ctx, c.rdb, []string{Key(topic)}, rec.TS.UnixMilli(), string(b), c.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis put %s: %w", Key(topic), err)
	}
	if stored == 0 {
		slog.Debug("latest reading older than cached, skipped", "topic", topic, "date", rec.Date)
	}
	return nil
}

// Get reports false when the topic has no cached reading.
func (c *Cache) Get(ctx context.Context, topic string) (Reading, bool, error) {
	raw, err := c.rdb.HGet(ctx, Key(topic), "reading").Bytes()
	if errors.Is(err, redis.Nil) {
		return Reading{}, false, nil
	}
	if err != nil {
		return Reading{}, false, fmt.Errorf("redis get %s: %w", Key(topic), err)
	}
	var r Reading
	if err := json.Unmarshal(raw, &r); err != nil {
		return Reading{}, false, fmt.Errorf("decode cached reading: %w", err)
	}
	return r, true, nil
}
