package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelbot/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a new generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// Create inserts a new generation record and returns its id.
func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) (int64, error) {
	query := `
INSERT INTO generations (user_id, prompt, status, debit_kind)
VALUES ($1, $2, $3, $4)
RETURNING id;
`
	var id int64
	err := r.pool.QueryRow(ctx, query, gen.UserID, gen.Prompt, gen.Status, gen.DebitKind).Scan(&id)
	if err != nil {
		return 0, err
	}
	gen.ID = id
	return id, nil
}

// MarkSubmitted stores the backend handle and stamps submitted_at. Guarded so
// a status can never move backwards from a terminal state.
func (r *GenerationRepositoryPG) MarkSubmitted(ctx context.Context, id int64, handle string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE generations
SET status = $2, job_handle = $3, submitted_at = NOW()
WHERE id = $1 AND status = $4;
`, id, domain.StatusSubmitted, handle, domain.StatusQueued)
	return err
}

// MarkPolling advances a submitted generation into the polling state.
func (r *GenerationRepositoryPG) MarkPolling(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
UPDATE generations
SET status = $2
WHERE id = $1 AND status = $3;
`, id, domain.StatusPolling, domain.StatusSubmitted)
	return err
}

// Finish records a terminal status with completed_at and an optional error message.
func (r *GenerationRepositoryPG) Finish(ctx context.Context, id int64, status domain.GenerationStatus, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
UPDATE generations
SET status = $2,
    completed_at = NOW(),
    error_message = NULLIF($3, '')
WHERE id = $1 AND completed_at IS NULL;
`, id, status, errMsg)
	return err
}

// MarkRefunded claims the single refund slot for a generation.
func (r *GenerationRepositoryPG) MarkRefunded(ctx context.Context, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE generations
SET refunded_at = NOW()
WHERE id = $1 AND refunded_at IS NULL;
`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.Generation, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, user_id, prompt, status, COALESCE(job_handle, ''), debit_kind,
       COALESCE(error_message, ''), created_at, submitted_at, completed_at, refunded_at
FROM generations
WHERE id = $1;
`, id)
	return scanGeneration(row)
}

// ListUnsettled returns generations stranded mid-flight, oldest first.
func (r *GenerationRepositoryPG) ListUnsettled(ctx context.Context) ([]domain.Generation, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, user_id, prompt, status, COALESCE(job_handle, ''), debit_kind,
       COALESCE(error_message, ''), created_at, submitted_at, completed_at, refunded_at
FROM generations
WHERE status IN ($1, $2, $3)
ORDER BY created_at ASC;
`, domain.StatusQueued, domain.StatusSubmitted, domain.StatusPolling)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		gen, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *gen)
	}
	return out, rows.Err()
}

// CountByStatus aggregates generation counts per lifecycle state.
func (r *GenerationRepositoryPG) CountByStatus(ctx context.Context) (map[domain.GenerationStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM generations GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.GenerationStatus]int)
	for rows.Next() {
		var status domain.GenerationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var gen domain.Generation
	if err := row.Scan(
		&gen.ID,
		&gen.UserID,
		&gen.Prompt,
		&gen.Status,
		&gen.JobHandle,
		&gen.DebitKind,
		&gen.ErrorMessage,
		&gen.CreatedAt,
		&gen.SubmittedAt,
		&gen.CompletedAt,
		&gen.RefundedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &gen, nil
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
