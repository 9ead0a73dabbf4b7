package ipc

import (
	"time"

	"github.com/ByteInternet/nginx-config-reloader/internal/events"
	"github.com/ByteInternet/nginx-config-reloader/internal/history"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
)

// Attempt is the wire form of a finished apply or reload attempt.
type Attempt struct {
	AttemptID  string    `json:"attempt_id"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	Kind       string    `json:"failure_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Published  bool      `json:"published,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// OK reports whether the attempt applied.
func (a Attempt) OK() bool { return a.Outcome == string(reconciler.OutcomeApplied) }

// Duration is the wall time of the attempt.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.Before(a.StartedAt) {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

func attemptFromResult(res reconciler.Result) Attempt {
	return Attempt{
		AttemptID:  res.AttemptID,
		Trigger:    string(res.Trigger),
		Outcome:    string(res.Outcome),
		Kind:       string(res.Kind),
		Message:    res.Message,
		Published:  res.Published,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
}

func attemptFromEntry(entry history.Entry) Attempt {
	return Attempt{
		AttemptID:  entry.AttemptID,
		Trigger:    string(entry.Trigger),
		Outcome:    string(entry.Outcome),
		Kind:       string(entry.Kind),
		Message:    entry.Message,
		Published:  entry.Published,
		StartedAt:  entry.StartedAt,
		FinishedAt: entry.FinishedAt,
	}
}

// ReloadRequest asks for an admin reload. Announce emits a reload event on success.
type ReloadRequest struct {
	Announce bool `json:"announce"`
}

// ReloadResponse carries the attempt outcome.
type ReloadResponse struct {
	Attempt Attempt `json:"attempt"`
}

// ApplyRequest asks for a full apply of the watched directory.
type ApplyRequest struct{}

// ApplyResponse carries the attempt outcome.
type ApplyResponse struct {
	Attempt Attempt `json:"attempt"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon state.
type StatusResponse struct {
	Running         bool      `json:"running"`
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	Applying        bool      `json:"applying"`
	Last            *Attempt  `json:"last,omitempty"`
	LatestEvent     uint64    `json:"latest_event"`
	WatchDir        string    `json:"watch_dir"`
	InstalledDir    string    `json:"installed_dir"`
	MarkerPath      string    `json:"marker_path"`
	MarkerText      string    `json:"marker_text,omitempty"`
	LockPath        string    `json:"lock_path"`
	HistoryPath     string    `json:"history_path,omitempty"`
	RemoteEnabled   bool      `json:"remote_enabled"`
	RemoteConnected bool      `json:"remote_connected"`
	MetricsListen   string    `json:"metrics_listen,omitempty"`
}

// EventsRequest long-polls reload events after Since. WaitMillis bounds the wait.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	WaitMillis int    `json:"wait_ms"`
}

// EventsResponse returns events and the sequence to pass as the next Since.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}

// HistoryRequest lists stored attempts.
type HistoryRequest struct {
	Limit   int    `json:"limit"`
	Outcome string `json:"outcome,omitempty"`
}

// HistoryResponse contains attempts, newest first, and the stored totals per
// outcome regardless of the request filter.
type HistoryResponse struct {
	Attempts []Attempt      `json:"attempts"`
	Counts   map[string]int `json:"counts"`
}

// StopRequest asks the daemon to shut down.
type StopRequest struct{}

// StopResponse acknowledges the stop request.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}
