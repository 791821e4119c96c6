// Package ledger gates admission: it answers whether a user may spend one
// generation unit right now, and settles that unit when the job reaches a
// terminal state.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pixelbot/internal/domain"
)

// Ledger tracks per-user paid credits and the daily free allowance. All
// balance mutations go through here; atomicity lives in the repository's
// conditional updates.
type Ledger struct {
	users          domain.UserRepository
	generations    domain.GenerationRepository
	dailyFreeLimit int
	logger         zerolog.Logger
	now            func() time.Time
}

// New constructs a Ledger with the given daily free allowance.
func New(users domain.UserRepository, generations domain.GenerationRepository, dailyFreeLimit int, logger zerolog.Logger) *Ledger {
	return &Ledger{
		users:          users,
		generations:    generations,
		dailyFreeLimit: dailyFreeLimit,
		logger:         logger,
		now:            time.Now,
	}
}

// DailyFreeLimit returns the configured free allowance per calendar day.
func (l *Ledger) DailyFreeLimit() int {
	return l.dailyFreeLimit
}

// TryDebit consumes one unit of allowance for the user: a free unit while any
// remain today, otherwise one paid credit. The debit is durable before this
// returns. Fails with domain.ErrInsufficientBalance when neither is available.
func (l *Ledger) TryDebit(ctx context.Context, userID int64) (domain.DebitKind, error) {
	if _, err := l.users.GetOrCreate(ctx, userID); err != nil {
		return "", fmt.Errorf("ledger: load user %d: %w", userID, err)
	}
	if err := l.users.ResetDailyIfStale(ctx, userID, l.now()); err != nil {
		return "", fmt.Errorf("ledger: daily reset for user %d: %w", userID, err)
	}

	ok, err := l.users.DebitFree(ctx, userID, l.dailyFreeLimit)
	if err != nil {
		return "", fmt.Errorf("ledger: debit free unit for user %d: %w", userID, err)
	}
	if ok {
		return domain.DebitFree, nil
	}

	ok, err = l.users.DebitCredit(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ledger: debit credit for user %d: %w", userID, err)
	}
	if ok {
		return domain.DebitCredit, nil
	}

	return "", domain.ErrInsufficientBalance
}

// Refund reverses the debit taken for the given generation. It is idempotent
// per generation: the refund slot on the generation row is claimed first, and
// the balance is restored only by the claim winner.
func (l *Ledger) Refund(ctx context.Context, userID, generationID int64, kind domain.DebitKind) error {
	claimed, err := l.generations.MarkRefunded(ctx, generationID)
	if err != nil {
		return fmt.Errorf("ledger: claim refund for generation %d: %w", generationID, err)
	}
	if !claimed {
		l.logger.Debug().Int64("generation_id", generationID).Msg("ledger: refund already applied")
		return nil
	}

	switch kind {
	case domain.DebitCredit:
		err = l.users.CreditPaid(ctx, userID)
	default:
		err = l.users.CreditFree(ctx, userID)
	}
	if err != nil {
		return fmt.Errorf("ledger: restore %s unit for user %d: %w", kind, userID, err)
	}
	l.logger.Info().Int64("user_id", userID).Int64("generation_id", generationID).Str("kind", string(kind)).Msg("ledger: refunded")
	return nil
}

// NoteGenerated bumps the user's lifetime counter after a completed job.
func (l *Ledger) NoteGenerated(ctx context.Context, userID int64) error {
	return l.users.IncrementGenerated(ctx, userID)
}

// Balance reports the user's paid credits and remaining free units after the
// lazy daily reset has been applied.
func (l *Ledger) Balance(ctx context.Context, userID int64) (credits, freeRemaining int, err error) {
	if _, err := l.users.GetOrCreate(ctx, userID); err != nil {
		return 0, 0, fmt.Errorf("ledger: load user %d: %w", userID, err)
	}
	if err := l.users.ResetDailyIfStale(ctx, userID, l.now()); err != nil {
		return 0, 0, fmt.Errorf("ledger: daily reset for user %d: %w", userID, err)
	}
	user, err := l.users.GetOrCreate(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: load user %d: %w", userID, err)
	}
	return user.Credits, user.FreeRemaining(l.dailyFreeLimit), nil
}
