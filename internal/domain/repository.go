package domain

import (
	"context"
	"time"
)

// UserRepository defines access methods for users. The debit and credit
// operations are conditional single-row updates so concurrent callers for the
// same user serialize in the store, never in application memory.
type UserRepository interface {
	GetOrCreate(ctx context.Context, id int64) (*User, error)
	// ResetDailyIfStale zeroes free_used the first time the user is touched
	// on a new calendar day.
	ResetDailyIfStale(ctx context.Context, id int64, today time.Time) error
	// DebitFree consumes one free unit iff free_used < dailyLimit.
	DebitFree(ctx context.Context, id int64, dailyLimit int) (bool, error)
	// DebitCredit decrements credits iff credits >= 1.
	DebitCredit(ctx context.Context, id int64) (bool, error)
	CreditFree(ctx context.Context, id int64) error
	CreditPaid(ctx context.Context, id int64) error
	IncrementGenerated(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// GenerationRepository defines persistence for generation attempts.
type GenerationRepository interface {
	Create(ctx context.Context, gen *Generation) (int64, error)
	MarkSubmitted(ctx context.Context, id int64, handle string) error
	MarkPolling(ctx context.Context, id int64) error
	// Finish records a terminal status together with completed_at and an
	// optional error message.
	Finish(ctx context.Context, id int64, status GenerationStatus, errMsg string) error
	// MarkRefunded claims the refund slot for a generation. It reports false
	// when the generation was already refunded.
	MarkRefunded(ctx context.Context, id int64) (bool, error)
	GetByID(ctx context.Context, id int64) (*Generation, error)
	// ListUnsettled returns generations left in submitted or polling state,
	// used for reconciliation after a restart.
	ListUnsettled(ctx context.Context) ([]Generation, error)
	CountByStatus(ctx context.Context) (map[GenerationStatus]int, error)
}
