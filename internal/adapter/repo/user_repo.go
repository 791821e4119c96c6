package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelbot/internal/domain"
)

// UserRepositoryPG implements domain.UserRepository backed by PostgreSQL.
type UserRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepositoryPG.
func NewUserRepository(pool *pgxpool.Pool) *UserRepositoryPG {
	return &UserRepositoryPG{pool: pool}
}

// GetOrCreate fetches a user, inserting a zero-balance row on first contact.
func (r *UserRepositoryPG) GetOrCreate(ctx context.Context, id int64) (*domain.User, error) {
	query := `
INSERT INTO users (user_id, credits, free_used, last_reset)
VALUES ($1, 0, 0, CURRENT_DATE)
ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING user_id, credits, free_used, last_reset, total_generated, created_at;
`
	row := r.pool.QueryRow(ctx, query, id)
	return scanUser(row)
}

// ResetDailyIfStale zeroes the free allowance when last_reset is before today.
func (r *UserRepositoryPG) ResetDailyIfStale(ctx context.Context, id int64, today time.Time) error {
	_, err := r.pool.Exec(ctx, `
UPDATE users
SET free_used = 0, last_reset = $2
WHERE user_id = $1 AND last_reset < $2;
`, id, today.Format("2006-01-02"))
	return err
}

// DebitFree consumes one unit of the daily free allowance. The WHERE clause
// makes two racing debits for the last unit resolve to a single winner.
func (r *UserRepositoryPG) DebitFree(ctx context.Context, id int64, dailyLimit int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE users
SET free_used = free_used + 1
WHERE user_id = $1 AND free_used < $2;
`, id, dailyLimit)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DebitCredit spends one paid credit, refusing to go below zero.
func (r *UserRepositoryPG) DebitCredit(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE users
SET credits = credits - 1
WHERE user_id = $1 AND credits >= 1;
`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreditFree returns one free unit, never going below zero used.
func (r *UserRepositoryPG) CreditFree(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
UPDATE users
SET free_used = free_used - 1
WHERE user_id = $1 AND free_used > 0;
`, id)
	return err
}

// CreditPaid returns one paid credit.
func (r *UserRepositoryPG) CreditPaid(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
UPDATE users
SET credits = credits + 1
WHERE user_id = $1;
`, id)
	return err
}

// IncrementGenerated bumps the lifetime generation counter.
func (r *UserRepositoryPG) IncrementGenerated(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
UPDATE users
SET total_generated = total_generated + 1
WHERE user_id = $1;
`, id)
	return err
}

// Count returns the number of known users.
func (r *UserRepositoryPG) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Credits, &u.FreeUsed, &u.LastReset, &u.TotalGenerated, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

var _ domain.UserRepository = (*UserRepositoryPG)(nil)
