package reconciler

import "time"

// Outcome is the final state of one apply or reload request.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeUnmounted Outcome = "unmounted"
)

// FailureKind classifies a failed outcome.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailurePolicy     FailureKind = "policy"
	FailurePermission FailureKind = "permission"
	FailureMagento    FailureKind = "magento"
	FailureStaging    FailureKind = "staging"
	FailureValidation FailureKind = "validation"
	FailureReload     FailureKind = "reload"
	FailureInternal   FailureKind = "internal"
)

// Trigger names what asked for the attempt.
type Trigger string

const (
	TriggerInitial Trigger = "initial"
	TriggerWatch   Trigger = "watch"
	TriggerAdmin   Trigger = "admin"
	TriggerOneShot Trigger = "oneshot"
	TriggerRemote  Trigger = "remote"
)

// Result describes a finished attempt.
type Result struct {
	AttemptID  string      `json:"attempt_id"`
	Trigger    Trigger     `json:"trigger"`
	Outcome    Outcome     `json:"outcome"`
	Kind       FailureKind `json:"failure_kind,omitempty"`
	Message    string      `json:"message,omitempty"`
	Published  bool        `json:"published,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// OK reports whether the attempt applied.
func (r Result) OK() bool { return r.Outcome == OutcomeApplied }

// Duration is the wall time the attempt took.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
