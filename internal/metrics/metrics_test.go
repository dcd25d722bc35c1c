package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://alta.example/path", "alta.example"},
		{"standard https", "https://Zermatt.example/path", "zermatt.example"},
		{"no scheme", "alta.example/path", "alta.example"},
		{"host with port", "alta.example:8080", "alta.example"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveCounters(t *testing.T) {
	Init()
	outcome := urlsTotal.WithLabelValues("succeeded")
	startOutcome := testutil.ToFloat64(outcome)
	ObserveURLOutcome("succeeded")
	if got := testutil.ToFloat64(outcome) - startOutcome; got != 1 {
		t.Errorf("expected urls_total{succeeded} to grow by 1, got %f", got)
	}

	learned := patternsLearnedTotal.WithLabelValues("snowfall")
	startLearned := testutil.ToFloat64(learned)
	ObservePatternLearned("snowfall")
	ObservePatternLearned("snowfall")
	if got := testutil.ToFloat64(learned) - startLearned; got != 2 {
		t.Errorf("expected patterns_learned_total{snowfall} to grow by 2, got %f", got)
	}

	startFailOpen := testutil.ToFloat64(robotsFailOpenTotal)
	ObserveRobotsFailOpen()
	if got := testutil.ToFloat64(robotsFailOpenTotal) - startFailOpen; got != 1 {
		t.Errorf("expected robots_fail_open_total to grow by 1, got %f", got)
	}

	ObservePolitenessWait(1500 * time.Millisecond)
	if val := testutil.CollectAndCount(politenessWaitSeconds); val <= 0 {
		t.Errorf("expected politeness histogram to be collected, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://alta.example", "https://zermatt.example", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
