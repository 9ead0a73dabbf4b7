package main

import (
	"strings"
	"testing"
	"time"

	"github.com/ByteInternet/nginx-config-reloader/internal/events"
	"github.com/ByteInternet/nginx-config-reloader/internal/ipc"
)

func TestOutcomeLabel(t *testing.T) {
	tests := map[string]string{
		"applied":   "Applied",
		"failed":    "Failed",
		"unmounted": "Unmounted",
		"":          "Unknown",
	}
	for in, want := range tests {
		if got := outcomeLabel(in); got != want {
			t.Errorf("outcomeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDescribeAttemptShowsFirstLineOfFailure(t *testing.T) {
	a := ipc.Attempt{
		Trigger: "watch",
		Outcome: "failed",
		Kind:    "validation",
		Message: "nginx: [emerg] unknown directive\nnginx: configuration file test failed",
	}
	got := describeAttempt(a)
	if !strings.HasPrefix(got, "Failed (validation) via watch") {
		t.Fatalf("unexpected description %q", got)
	}
	if strings.Contains(got, "test failed") {
		t.Fatalf("expected only the first message line, got %q", got)
	}
}

func TestFormatEvent(t *testing.T) {
	evt := events.Event{Sequence: 3, Timestamp: time.Now(), AttemptID: "0123456789abcdef", Trigger: "remote", Published: true}
	got := formatEvent(evt)
	for _, want := range []string{"#3", "trigger remote", "attempt 01234567", "[published]"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatEvent = %q, missing %q", got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate short = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("truncate long = %q", got)
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"x"}}, nil)
	if !strings.Contains(out, "x") || strings.Contains(out, "<nil>") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

func TestHistoryTotalsCoversEveryOutcome(t *testing.T) {
	got := historyTotals(map[string]int{"applied": 3, "failed": 1})
	if got != "Stored attempts: 4 (3 applied, 1 failed, 0 unmounted)" {
		t.Fatalf("historyTotals = %q", got)
	}
}
