package redis

import (
	"strconv"
	"strings"
)

const (
	idempotencyPrefix = "idempotency_key"
	detailPrefix      = "detail"
	countPrefix       = "count"
	lockPrefix        = "lock"
	categoryPrefix    = "category"

	// AllListKey is the timeline holding every live board.
	AllListKey = "all"
	// CategoryPattern matches every per-category timeline for SCAN.
	CategoryPattern = categoryPrefix + ":*"

	counterTotal = "total"
)

// IdempotencyKey is the marker key for a processed event.
func IdempotencyKey(eventID int64) string {
	return buildKey(idempotencyPrefix, strconv.FormatInt(eventID, 10))
}

// DetailKey addresses a denormalized entity snapshot.
func DetailKey(entityType string, id int64) string {
	return buildKey(detailPrefix, entityType, strconv.FormatInt(id, 10))
}

// CounterKey addresses a per-entity counter.
func CounterKey(entityType string, id int64) string {
	return buildKey(countPrefix, entityType, strconv.FormatInt(id, 10))
}

// CounterTotalKey addresses the global total for an entity type.
func CounterTotalKey(entityType string) string {
	return buildKey(countPrefix, entityType, counterTotal)
}

// CategoryListKey addresses the timeline of one category.
func CategoryListKey(categoryID int64) string {
	return buildKey(categoryPrefix, strconv.FormatInt(categoryID, 10))
}

// RankingListKey addresses a metric ranking for a period, e.g. likes:day.
func RankingListKey(metric, period string) string {
	return buildKey(metric, period)
}

// LockKey addresses the scheduler lock of a job.
func LockKey(job string) string {
	return buildKey(lockPrefix, job)
}

func buildKey(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		clean = append(clean, part)
	}
	return strings.Join(clean, ":")
}
