package scheduler

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

// TestCronFiredInWindowScenarioS4 reproduces spec.md §8 Scenario S4's three
// sub-cases for cron rule "5 1,2,3 * * *": a window with no fire instant, a
// window whose fire instant is strictly interior, and a window whose fire
// instant lands exactly on the lower bound (since == a fire time), which
// must still report "fired" rather than being skipped.
func TestCronFiredInWindowScenarioS4(t *testing.T) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	const rule = "5 1,2,3 * * *"

	cases := []struct {
		name  string
		since time.Time
		now   time.Time
		want  bool
	}{
		{
			// re-invoking at 01:07 with last_run=now-30s must NOT trigger:
			// the only fire instant at or before 01:07 is 01:05, which is
			// before the window's lower bound of 01:06:30.
			name:  "01:07 with last_run=now-30s does not trigger",
			since: mustParse(t, "2026-07-30T01:06:30Z"),
			now:   mustParse(t, "2026-07-30T01:07:00Z"),
			want:  false,
		},
		{
			// fire instant strictly interior to the window.
			name:  "fire instant strictly interior to window",
			since: mustParse(t, "2026-07-30T01:50:00Z"),
			now:   mustParse(t, "2026-07-30T02:10:00Z"),
			want:  true,
		},
		{
			// at 03:07 with last_run=now-120s=03:05:00, which is itself an
			// exact fire instant, must trigger again.
			name:  "03:07 with last_run=now-120s triggers again",
			since: mustParse(t, "2026-07-30T03:05:00Z"),
			now:   mustParse(t, "2026-07-30T03:07:00Z"),
			want:  true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fired, err := cronFiredInWindow(parser, rule, c.since, c.now)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if fired != c.want {
				t.Fatalf("cronFiredInWindow(since=%v, now=%v) = %v, want %v", c.since, c.now, fired, c.want)
			}
		})
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

func TestMessageIDIsDeterministic(t *testing.T) {
	a := MessageID("exodus-gw", "run_janitor")
	b := MessageID("exodus-gw", "run_janitor")
	if a != b {
		t.Fatalf("expected deterministic ids, got %v and %v", a, b)
	}
}

func TestMessageIDVariesByQueueAndActor(t *testing.T) {
	base := MessageID("exodus-gw", "run_janitor")
	if MessageID("other-queue", "run_janitor") == base {
		t.Fatal("expected different queue to produce a different id")
	}
	if MessageID("exodus-gw", "other_actor") == base {
		t.Fatal("expected different actor name to produce a different id")
	}
}
