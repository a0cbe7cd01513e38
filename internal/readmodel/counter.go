package readmodel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

// Counter kinds. Each is keyed by the board it counts for.
const (
	CounterComments = "comment"
	CounterLikes    = "like"
	CounterViews    = "view"
)

// incrCounterLua applies a delta clamped at zero and moves the global total
// by the amount actually applied.
const incrCounterLua = `
local function incr_counter(key, total_key, delta)
	local value = redis.call("INCRBY", key, delta)
	local applied = tonumber(delta)
	if value < 0 then
		applied = applied - value
		redis.call("SET", key, 0)
		value = 0
	end
	if applied ~= 0 then
		local total = redis.call("INCRBY", total_key, applied)
		if total < 0 then
			redis.call("SET", total_key, 0)
		end
	end
	return value
end
`

// incrCounterScript: KEYS counter, total. ARGV delta.
var incrCounterScript = goredis.NewScript(incrCounterLua + `
return incr_counter(KEYS[1], KEYS[2], ARGV[1])`)

// deleteCounterScript drops a counter and subtracts its value from the total.
var deleteCounterScript = goredis.NewScript(`
local value = tonumber(redis.call("GET", KEYS[1]) or "0")
redis.call("DEL", KEYS[1])
if value > 0 then
	local total = redis.call("DECRBY", KEYS[2], value)
	if total < 0 then
		redis.call("SET", KEYS[2], 0)
	end
end
return value`)

// CounterStore keeps non-negative per-entity counters plus a total per kind.
type CounterStore struct {
	client *redis.Client
}

func NewCounterStore(client *redis.Client) (*CounterStore, error) {
	if client == nil || client.Cmdable() == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &CounterStore{client: client}, nil
}

// Incr adds delta (which may be negative) and returns the clamped value.
func (s *CounterStore) Incr(ctx context.Context, kind string, id, delta int64) (int64, error) {
	keys := []string{redis.CounterKey(kind, id), redis.CounterTotalKey(kind)}
	value, err := incrCounterScript.Run(ctx, s.client.Cmdable(), keys, delta).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", keys[0], err)
	}
	return value, nil
}

// Decr subtracts delta, never going below zero.
func (s *CounterStore) Decr(ctx context.Context, kind string, id, delta int64) (int64, error) {
	return s.Incr(ctx, kind, id, -delta)
}

// Get returns the counter value; a missing counter is zero.
func (s *CounterStore) Get(ctx context.Context, kind string, id int64) (int64, error) {
	return s.get(ctx, redis.CounterKey(kind, id))
}

// Total returns the kind's global total.
func (s *CounterStore) Total(ctx context.Context, kind string) (int64, error) {
	return s.get(ctx, redis.CounterTotalKey(kind))
}

func (s *CounterStore) get(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.client.Retry(ctx, func(ctx context.Context) error {
		var getErr error
		value, getErr = s.client.Cmdable().Get(ctx, key).Int64()
		return getErr
	})
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// GetBatch returns counters for ids; missing entries are zero.
func (s *CounterStore) GetBatch(ctx context.Context, kind string, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redis.CounterKey(kind, id)
	}
	var values []any
	err := s.client.Retry(ctx, func(ctx context.Context) error {
		var mgetErr error
		values, mgetErr = s.client.Cmdable().MGet(ctx, keys...).Result()
		return mgetErr
	})
	if err != nil {
		return nil, fmt.Errorf("mget %s counters: %w", kind, err)
	}
	for i, value := range values {
		out[ids[i]] = 0
		raw, ok := value.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			out[ids[i]] = n
		}
	}
	return out, nil
}

// Delete removes the counter and takes its value out of the total.
func (s *CounterStore) Delete(ctx context.Context, kind string, id int64) error {
	keys := []string{redis.CounterKey(kind, id), redis.CounterTotalKey(kind)}
	if err := deleteCounterScript.Run(ctx, s.client.Cmdable(), keys).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", keys[0], err)
	}
	return nil
}
