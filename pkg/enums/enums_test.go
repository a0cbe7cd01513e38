package enums

import (
	"testing"
	"time"
)

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType("BOARD_CREATED")
	if err != nil || got != EventBoardCreated {
		t.Fatalf("expected BOARD_CREATED, got %q err=%v", got, err)
	}
	if _, err := ParseEventType("board_created"); err == nil {
		t.Fatal("expected lowercase discriminator to be rejected")
	}
	if EventType("NOPE").IsValid() {
		t.Fatal("unexpected valid event type")
	}
}

func TestEventTypesReturnsCopy(t *testing.T) {
	types := EventTypes()
	types[0] = "MUTATED"
	if EventTypes()[0] != EventBoardCreated {
		t.Fatal("EventTypes must not expose the backing slice")
	}
}

func TestRankingPeriodMaxAge(t *testing.T) {
	cases := map[RankingPeriod]time.Duration{
		PeriodDay:   24 * time.Hour,
		PeriodWeek:  7 * 24 * time.Hour,
		PeriodMonth: 30 * 24 * time.Hour,
		"year":      0,
	}
	for period, want := range cases {
		if got := period.MaxAge(); got != want {
			t.Fatalf("%s: expected %v, got %v", period, want, got)
		}
	}
	if RankingPeriod("year").IsValid() {
		t.Fatal("unexpected valid period")
	}
}
