package readmodel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

// DefaultListCap bounds a list when no cap is configured.
const DefaultListCap = 1000

// Entry is one ranked member.
type Entry struct {
	Member string
	Score  float64
}

// rankOrderLua defines the list order shared by paging and eviction: score
// desc, then all-digit members before the rest, digit members by length then
// lexically, everything else lexically, all descending. trim evicts the
// members ranked last until the list fits cap.
const rankOrderLua = `
local function digits(s)
	return string.match(s, "^%d+$") ~= nil
end
local function ranks_before(a, b)
	if a[2] ~= b[2] then
		return a[2] > b[2]
	end
	local da, db = digits(a[1]), digits(b[1])
	if da ~= db then
		return da
	end
	if da and #a[1] ~= #b[1] then
		return #a[1] > #b[1]
	end
	return a[1] > b[1]
end
local function trim(key, cap)
	local excess = redis.call("ZCARD", key) - tonumber(cap)
	if excess <= 0 then
		return
	end
	local edge = redis.call("ZRANGE", key, excess - 1, excess - 1, "WITHSCORES")
	local raw = redis.call("ZRANGEBYSCORE", key, "-inf", edge[2], "WITHSCORES")
	local items = {}
	for i = 1, #raw, 2 do
		items[#items + 1] = {raw[i], tonumber(raw[i + 1])}
	end
	table.sort(items, function(a, b) return ranks_before(b, a) end)
	for i = 1, excess do
		redis.call("ZREM", key, items[i][1])
	end
end
`

// incrMemberLua bumps a member's score and trims the list. A negative delta
// on an absent member is a no-op; members falling to zero or below are
// removed.
const incrMemberLua = `
local function incr_member(key, member, delta, cap)
	local current = redis.call("ZSCORE", key, member)
	if not current and tonumber(delta) <= 0 then
		return false
	end
	local updated = redis.call("ZINCRBY", key, delta, member)
	if tonumber(updated) <= 0 then
		redis.call("ZREM", key, member)
		return "0"
	end
	trim(key, cap)
	return updated
end
`

// pageScript returns an ordered page of a sorted set in one atomic read.
// ARGV: mode ("offset" or "cursor"), offset or last member, limit.
var pageScript = goredis.NewScript(rankOrderLua + `
local raw = redis.call("ZREVRANGE", KEYS[1], 0, -1, "WITHSCORES")
local items = {}
for i = 1, #raw, 2 do
	items[#items + 1] = {raw[i], tonumber(raw[i + 1]), raw[i + 1]}
end
table.sort(items, ranks_before)
local start = 1
if ARGV[1] == "cursor" then
	if ARGV[2] ~= "" then
		for i = 1, #items do
			if items[i][1] == ARGV[2] then
				start = i + 1
				break
			end
		end
	end
else
	start = tonumber(ARGV[2]) + 1
end
local stop = math.min(#items, start + tonumber(ARGV[3]) - 1)
local out = {}
for i = start, stop do
	out[#out + 1] = items[i][1]
	out[#out + 1] = items[i][3]
end
return out`)

// incrScript: ARGV member, delta, cap.
var incrScript = goredis.NewScript(rankOrderLua + incrMemberLua + `
return incr_member(KEYS[1], ARGV[1], ARGV[2], ARGV[3])`)

// addScript upserts one member then trims. ARGV: member, score, cap.
var addScript = goredis.NewScript(rankOrderLua + `
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
trim(KEYS[1], ARGV[3])
return true`)

// replaceScript swaps the list for the given pairs then trims.
// ARGV: cap, then member and score pairs.
var replaceScript = goredis.NewScript(rankOrderLua + `
redis.call("DEL", KEYS[1])
for i = 2, #ARGV, 2 do
	redis.call("ZADD", KEYS[1], ARGV[i + 1], ARGV[i])
end
trim(KEYS[1], ARGV[1])
return true`)

// engagementScript moves one member on several lists and applies the same
// delta to a counter, all or nothing. Every key is type checked before the
// first write so a bad key leaves the others untouched.
// KEYS: lists..., counter, total. ARGV: member, delta, cap.
var engagementScript = goredis.NewScript(rankOrderLua + incrMemberLua + incrCounterLua + `
local lists = #KEYS - 2
for i = 1, #KEYS do
	local kind = redis.call("TYPE", KEYS[i]).ok
	if i <= lists then
		if kind ~= "none" and kind ~= "zset" then
			return redis.error_reply("WRONGTYPE " .. KEYS[i] .. " is not a sorted set")
		end
	elseif kind ~= "none" and (kind ~= "string" or not tonumber(redis.call("GET", KEYS[i]))) then
		return redis.error_reply("WRONGTYPE " .. KEYS[i] .. " is not an integer")
	end
end
for i = 1, lists do
	incr_member(KEYS[i], ARGV[1], ARGV[2], ARGV[3])
end
return incr_counter(KEYS[lists + 1], KEYS[lists + 2], ARGV[2])`)

// RankingStore hands out capped sorted lists sharing one cap.
type RankingStore struct {
	client *redis.Client
	cap    int
}

func NewRankingStore(client *redis.Client, cap int) (*RankingStore, error) {
	if client == nil || client.Cmdable() == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if cap <= 0 {
		cap = DefaultListCap
	}
	return &RankingStore{client: client, cap: cap}, nil
}

// Cap is the maximum size of every list in the store.
func (s *RankingStore) Cap() int { return s.cap }

// List returns the sorted list stored at key.
func (s *RankingStore) List(key string) *SortedList {
	return &SortedList{client: s.client, key: key, cap: s.cap}
}

// ApplyEngagement moves member by delta on every list in keys and applies the
// same delta to the counter of kind for id, in one script. Nothing is written
// when any key holds the wrong type. It returns the clamped counter value and
// is not retried for the same reason as IncrBy.
func (s *RankingStore) ApplyEngagement(ctx context.Context, keys []string, member, kind string, id, delta int64) (int64, error) {
	scriptKeys := make([]string, 0, len(keys)+2)
	scriptKeys = append(scriptKeys, keys...)
	scriptKeys = append(scriptKeys, redis.CounterKey(kind, id), redis.CounterTotalKey(kind))
	value, err := engagementScript.Run(ctx, s.client.Cmdable(), scriptKeys, member, delta, s.cap).Int64()
	if err != nil {
		return 0, fmt.Errorf("apply %s engagement for %s: %w", kind, member, err)
	}
	return value, nil
}

// CategoryKeys discovers every category timeline with SCAN.
func (s *RankingStore) CategoryKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Cmdable().Scan(ctx, cursor, redis.CategoryPattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan category lists: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// SortedList is one bounded ranking or timeline. It never holds more than cap
// members and always keeps the highest-scored ones.
type SortedList struct {
	client *redis.Client
	key    string
	cap    int
}

func (l *SortedList) Key() string { return l.key }

// Add upserts member with score and evicts the members ranked last beyond cap.
func (l *SortedList) Add(ctx context.Context, member string, score float64) error {
	return l.client.Retry(ctx, func(ctx context.Context) error {
		return addScript.Run(ctx, l.client.Cmdable(), []string{l.key}, member, score, l.cap).Err()
	})
}

// IncrBy adjusts member's score and returns the new score. It is not retried
// since a replay after an ambiguous failure would double count.
func (l *SortedList) IncrBy(ctx context.Context, member string, delta float64) (float64, error) {
	res, err := incrScript.Run(ctx, l.client.Cmdable(), []string{l.key}, member, delta, l.cap).Text()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("incr %s in %s: %w", member, l.key, err)
	}
	score, err := strconv.ParseFloat(res, 64)
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", res, err)
	}
	return score, nil
}

// Remove deletes members; absent members are ignored.
func (l *SortedList) Remove(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return l.client.Retry(ctx, func(ctx context.Context) error {
		return l.client.Cmdable().ZRem(ctx, l.key, args...).Err()
	})
}

// ReplaceAll swaps the whole list for entries in one script. Entries beyond
// cap are dropped in ranking order.
func (l *SortedList) ReplaceAll(ctx context.Context, entries []Entry) error {
	args := make([]any, 0, 1+2*len(entries))
	args = append(args, l.cap)
	for _, e := range entries {
		args = append(args, e.Member, e.Score)
	}
	return l.client.Retry(ctx, func(ctx context.Context) error {
		return replaceScript.Run(ctx, l.client.Cmdable(), []string{l.key}, args...).Err()
	})
}

// RangeByOffset returns up to limit entries starting at offset, highest first.
func (l *SortedList) RangeByOffset(ctx context.Context, offset, limit int) ([]Entry, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return nil, nil
	}
	return l.page(ctx, "offset", strconv.Itoa(offset), limit)
}

// RangeByCursor returns up to limit entries ranked strictly after lastMember.
// An empty or unknown lastMember starts from the top.
func (l *SortedList) RangeByCursor(ctx context.Context, lastMember string, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	return l.page(ctx, "cursor", lastMember, limit)
}

func (l *SortedList) page(ctx context.Context, mode, from string, limit int) ([]Entry, error) {
	var raw []string
	err := l.client.Retry(ctx, func(ctx context.Context) error {
		var runErr error
		raw, runErr = pageScript.Run(ctx, l.client.Cmdable(), []string{l.key}, mode, from, limit).StringSlice()
		return runErr
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("range %s: %w", l.key, err)
	}
	entries := make([]Entry, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		score, err := strconv.ParseFloat(raw[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse score %q: %w", raw[i+1], err)
		}
		entries = append(entries, Entry{Member: raw[i], Score: score})
	}
	return entries, nil
}

// Members lists every member in ascending score order.
func (l *SortedList) Members(ctx context.Context) ([]string, error) {
	var members []string
	err := l.client.Retry(ctx, func(ctx context.Context) error {
		var rangeErr error
		members, rangeErr = l.client.Cmdable().ZRange(ctx, l.key, 0, -1).Result()
		return rangeErr
	})
	if err != nil {
		return nil, fmt.Errorf("members %s: %w", l.key, err)
	}
	return members, nil
}

// Card is the current list size.
func (l *SortedList) Card(ctx context.Context) (int64, error) {
	var n int64
	err := l.client.Retry(ctx, func(ctx context.Context) error {
		var cardErr error
		n, cardErr = l.client.Cmdable().ZCard(ctx, l.key).Result()
		return cardErr
	})
	return n, err
}

// Score returns member's score and whether it is present.
func (l *SortedList) Score(ctx context.Context, member string) (float64, bool, error) {
	score, err := l.client.Cmdable().ZScore(ctx, l.key, member).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("score %s in %s: %w", member, l.key, err)
	}
	return score, true, nil
}
