package domain

import "time"

// GenerationStatus enumerates job lifecycle states.
type GenerationStatus string

const (
	StatusQueued    GenerationStatus = "queued"
	StatusSubmitted GenerationStatus = "submitted"
	StatusPolling   GenerationStatus = "polling"
	StatusCompleted GenerationStatus = "completed"
	StatusFailed    GenerationStatus = "failed"
	StatusTimedOut  GenerationStatus = "timed_out"
)

// Terminal reports whether no further transition can occur from s.
func (s GenerationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// DebitKind records which allowance a generation consumed, so a refund can
// restore exactly what was taken.
type DebitKind string

const (
	DebitFree   DebitKind = "free"
	DebitCredit DebitKind = "credit"
)

// Generation is one image-generation attempt. The prompt is immutable once
// created; the dispatcher is the only writer after admission.
type Generation struct {
	ID           int64
	UserID       int64
	Prompt       string
	Status       GenerationStatus
	JobHandle    string
	DebitKind    DebitKind
	ErrorMessage string
	CreatedAt    time.Time
	SubmittedAt  *time.Time
	CompletedAt  *time.Time
	RefundedAt   *time.Time
}
