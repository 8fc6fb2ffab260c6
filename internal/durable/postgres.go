// internal/durable/postgres.go
package durable

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores substrate state in the durable_* tables.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool}
}

func (b *PostgresBackend) GetStep(ctx context.Context, runID uuid.UUID, stepKey string) ([]byte, bool, error) {
	var output []byte
	err := b.pool.QueryRow(ctx,
		`SELECT output_json FROM durable_steps WHERE run_id = $1 AND step_key = $2`,
		runID, stepKey,
	).Scan(&output)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return output, true, nil
}

func (b *PostgresBackend) PutStep(ctx context.Context, runID uuid.UUID, stepKey string, output []byte) error {
	// DO NOTHING keeps the first committed result authoritative if a
	// concurrent replay raced us here.
	_, err := b.pool.Exec(ctx, `
		INSERT INTO durable_steps (run_id, step_key, output_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, step_key) DO NOTHING`,
		runID, stepKey, output)
	return err
}

func (b *PostgresBackend) GetRand(ctx context.Context, runID uuid.UUID, key string) (float64, bool, error) {
	var v float64
	err := b.pool.QueryRow(ctx,
		`SELECT value FROM durable_random WHERE run_id = $1 AND rand_key = $2`,
		runID, key,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (b *PostgresBackend) PutRand(ctx context.Context, runID uuid.UUID, key string, value float64) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO durable_random (run_id, rand_key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, rand_key) DO NOTHING`,
		runID, key, value)
	return err
}

func (b *PostgresBackend) GetActorState(ctx context.Context, actorKey string) ([]byte, bool, error) {
	var state []byte
	err := b.pool.QueryRow(ctx,
		`SELECT state FROM durable_actor_state WHERE actor_key = $1`, actorKey,
	).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

func (b *PostgresBackend) SetActorState(ctx context.Context, actorKey string, state []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO durable_actor_state (actor_key, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (actor_key) DO UPDATE
		SET state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		actorKey, state)
	return err
}

func (b *PostgresBackend) ClearActorState(ctx context.Context, actorKey string) error {
	_, err := b.pool.Exec(ctx,
		`DELETE FROM durable_actor_state WHERE actor_key = $1`, actorKey)
	return err
}

func (b *PostgresBackend) ScheduleTimer(ctx context.Context, t Timer) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO durable_timers (id, actor_key, handler, fire_at)
		VALUES ($1, $2, $3, $4)`,
		t.ID, t.ActorKey, t.Handler, t.FireAt)
	return err
}

func (b *PostgresBackend) CancelTimer(ctx context.Context, id uuid.UUID) error {
	// Only a still-pending timer can be cancelled; once claimed the
	// invocation's own state check decides whether it does anything.
	_, err := b.pool.Exec(ctx, `
		UPDATE durable_timers SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	return err
}

func (b *PostgresBackend) ClaimDueTimer(ctx context.Context, now time.Time) (*Timer, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The second arm reclaims a firing abandoned by a crashed worker once
	// its lease expires.
	var t Timer
	err = tx.QueryRow(ctx, `
		SELECT id, actor_key, handler, fire_at, attempts
		FROM durable_timers
		WHERE (status = 'pending' AND fire_at <= $1)
		   OR (status = 'firing' AND updated_at <= $2)
		ORDER BY fire_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, now, now.Add(-leaseTimeout),
	).Scan(&t.ID, &t.ActorKey, &t.Handler, &t.FireAt, &t.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE durable_timers
		SET status = 'firing', attempts = attempts + 1, updated_at = now()
		WHERE id = $1`, t.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	t.Attempts++
	return &t, nil
}

func (b *PostgresBackend) CompleteTimer(ctx context.Context, id uuid.UUID) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE durable_timers SET status = 'fired', updated_at = now()
		WHERE id = $1`, id)
	return err
}

func (b *PostgresBackend) RetryTimer(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE durable_timers SET status = 'pending', fire_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	return err
}

func (b *PostgresBackend) EnqueueRun(ctx context.Context, r Run) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO durable_runs (id, workflow, input_json)
		VALUES ($1, $2, $3)`,
		r.ID, r.Workflow, r.Input)
	return err
}

func (b *PostgresBackend) ClaimDueRun(ctx context.Context, now time.Time) (*Run, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The second arm reclaims a run abandoned by a crashed worker once its
	// lease expires; the memoized steps make the re-execution a replay.
	var r Run
	err = tx.QueryRow(ctx, `
		SELECT id, workflow, input_json, attempts
		FROM durable_runs
		WHERE (status = 'queued' AND next_run_at <= $1)
		   OR (status = 'running' AND updated_at <= $2)
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`, now, now.Add(-leaseTimeout),
	).Scan(&r.ID, &r.Workflow, &r.Input, &r.Attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE durable_runs
		SET status = 'running', attempts = attempts + 1, updated_at = now()
		WHERE id = $1`, r.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	r.Attempts++
	return &r, nil
}

func (b *PostgresBackend) CompleteRun(ctx context.Context, id uuid.UUID, output []byte) error {
	_, err := b.pool.Exec(ctx, `
		UPDATE durable_runs
		SET status = 'completed', output_json = $2, error_text = NULL, updated_at = now()
		WHERE id = $1`, id, output)
	return err
}

func (b *PostgresBackend) FailRun(ctx context.Context, id uuid.UUID, errText string, retryAt *time.Time) error {
	if retryAt == nil {
		_, err := b.pool.Exec(ctx, `
			UPDATE durable_runs
			SET status = 'failed', error_text = $2, updated_at = now()
			WHERE id = $1`, id, errText)
		return err
	}
	_, err := b.pool.Exec(ctx, `
		UPDATE durable_runs
		SET status = 'queued', error_text = $2, next_run_at = $3, updated_at = now()
		WHERE id = $1`, id, errText, *retryAt)
	return err
}
