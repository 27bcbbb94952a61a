package progress

import (
	"testing"
	"time"
)

func TestChallengePeriodWeekly(t *testing.T) {
	// Sunday late evening still belongs to the week that started Monday.
	now := time.Date(2026, time.October, 18, 23, 30, 0, 0, time.UTC)
	start, end, key := challengePeriod(CadenceWeekly, now, time.UTC)
	if key != "2026-W42" {
		t.Fatalf("unexpected key %q", key)
	}
	if !start.Equal(time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC)) || !end.Equal(start.AddDate(0, 0, 7)) {
		t.Fatalf("unexpected window %s - %s", start, end)
	}

	_, _, next := challengePeriod(CadenceWeekly, now.Add(time.Hour), time.UTC)
	if next != "2026-W43" {
		t.Fatalf("expected the next week after midnight, got %q", next)
	}
}

func TestChallengePeriodUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	now := time.Date(2026, time.November, 1, 2, 0, 0, 0, time.UTC)

	_, _, utcKey := challengePeriod(CadenceMonthly, now, time.UTC)
	_, _, localKey := challengePeriod(CadenceMonthly, now, loc)
	if utcKey != "2026-11" || localKey != "2026-10" {
		t.Fatalf("unexpected keys utc=%q local=%q", utcKey, localKey)
	}
}

func TestChallengeDefinitionsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, def := range challengeDefinitions() {
		if seen[def.ID] {
			t.Fatalf("duplicate challenge id %q", def.ID)
		}
		seen[def.ID] = true
		if def.RewardXP <= 0 || def.Target <= 0 {
			t.Fatalf("challenge %q must have a positive reward and target", def.ID)
		}
	}
	if _, ok := findChallenge("weekly_tracker"); !ok {
		t.Fatalf("expected weekly_tracker to exist")
	}
}

func TestProgressPercent(t *testing.T) {
	cases := []struct{ current, target, want int }{
		{0, 5, 0},
		{2, 5, 40},
		{5, 5, 100},
		{9, 5, 100},
		{-1, 5, 0},
	}
	for _, tc := range cases {
		if got := progressPercent(tc.current, tc.target); got != tc.want {
			t.Fatalf("progressPercent(%d, %d) = %d, want %d", tc.current, tc.target, got, tc.want)
		}
	}
}
