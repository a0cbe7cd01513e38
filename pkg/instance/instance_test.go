package instance

import "testing"

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("BOARDFEED_INSTANCE_ID", "relay-7")
	if got := GetID(); got != "relay-7" {
		t.Fatalf("expected relay-7, got %q", got)
	}
}

func TestGetIDFallsBack(t *testing.T) {
	t.Setenv("BOARDFEED_INSTANCE_ID", "")
	if got := GetID(); got == "" {
		t.Fatal("expected a non-empty fallback id")
	}
}
