package enums

import "time"

// RankingMetric is the engagement signal a ranking list is ordered by.
type RankingMetric string

const (
	MetricLikes RankingMetric = "likes"
	MetricViews RankingMetric = "views"
)

// RankingPeriod is the window a ranking list covers.
type RankingPeriod string

const (
	PeriodDay   RankingPeriod = "day"
	PeriodWeek  RankingPeriod = "week"
	PeriodMonth RankingPeriod = "month"
)

var (
	rankingMetrics = []RankingMetric{MetricLikes, MetricViews}
	rankingPeriods = []RankingPeriod{PeriodDay, PeriodWeek, PeriodMonth}
)

func RankingMetrics() []RankingMetric {
	return append([]RankingMetric(nil), rankingMetrics...)
}

func RankingPeriods() []RankingPeriod {
	return append([]RankingPeriod(nil), rankingPeriods...)
}

// MaxAge is how long a member may stay on a list of this period.
func (p RankingPeriod) MaxAge() time.Duration {
	switch p {
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

func (p RankingPeriod) IsValid() bool {
	return p.MaxAge() > 0
}

func (m RankingMetric) IsValid() bool {
	return m == MetricLikes || m == MetricViews
}
