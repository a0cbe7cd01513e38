package readmodel

import (
	"github.com/angelmondragon/boardfeed-backend/pkg/enums"
	"github.com/angelmondragon/boardfeed-backend/pkg/redis"
)

// RankingKey is the list for metric over period, e.g. likes:week.
func RankingKey(metric enums.RankingMetric, period enums.RankingPeriod) string {
	return redis.RankingListKey(string(metric), string(period))
}

// RankingKeys lists every metric/period ranking.
func RankingKeys() []string {
	var keys []string
	for _, m := range enums.RankingMetrics() {
		for _, p := range enums.RankingPeriods() {
			keys = append(keys, RankingKey(m, p))
		}
	}
	return keys
}

// MetricKeys lists the rankings of one metric across periods.
func MetricKeys(metric enums.RankingMetric) []string {
	var keys []string
	for _, p := range enums.RankingPeriods() {
		keys = append(keys, RankingKey(metric, p))
	}
	return keys
}
