// internal/durable/backend.go
package durable

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// leaseTimeout bounds how long a claimed timer or run may sit unacknowledged.
// A worker that crashes mid-execution abandons its claim; once the lease
// expires the item becomes claimable again and the replay re-enters at the
// last uncompleted step.
const leaseTimeout = 5 * time.Minute

// Timer is a pending delayed invocation of a named actor handler.
type Timer struct {
	ID       uuid.UUID
	ActorKey string
	Handler  string
	FireAt   time.Time
	Attempts int
}

// Run is one queued workflow invocation.
type Run struct {
	ID       uuid.UUID
	Workflow string
	Input    []byte
	Attempts int
}

// Backend is the persistence contract of the substrate. PostgresBackend is
// the production implementation; MemoryBackend backs tests.
//
// Claim operations hand out at most one due item per call and must be safe
// under concurrent callers (the Postgres implementation relies on
// FOR UPDATE SKIP LOCKED).
type Backend interface {
	// Memoized step results, keyed by (run id, step key).
	GetStep(ctx context.Context, runID uuid.UUID, stepKey string) ([]byte, bool, error)
	PutStep(ctx context.Context, runID uuid.UUID, stepKey string, output []byte) error

	// Persisted random draws in [0,1), keyed by (run id, key).
	GetRand(ctx context.Context, runID uuid.UUID, key string) (float64, bool, error)
	PutRand(ctx context.Context, runID uuid.UUID, key string, value float64) error

	// Per-key actor state. Get reports absence via the bool.
	GetActorState(ctx context.Context, actorKey string) ([]byte, bool, error)
	SetActorState(ctx context.Context, actorKey string, state []byte) error
	ClearActorState(ctx context.Context, actorKey string) error

	// Delayed invocations. Cancel on an already-fired timer is a no-op.
	// Claim also reclaims timers whose previous claim outlived the lease.
	ScheduleTimer(ctx context.Context, t Timer) error
	CancelTimer(ctx context.Context, id uuid.UUID) error
	ClaimDueTimer(ctx context.Context, now time.Time) (*Timer, error)
	CompleteTimer(ctx context.Context, id uuid.UUID) error
	RetryTimer(ctx context.Context, id uuid.UUID, at time.Time) error

	// Workflow runs. Claim also reclaims runs whose previous claim
	// outlived the lease.
	EnqueueRun(ctx context.Context, r Run) error
	ClaimDueRun(ctx context.Context, now time.Time) (*Run, error)
	CompleteRun(ctx context.Context, id uuid.UUID, output []byte) error
	// FailRun permanently fails the run when retryAt is nil, otherwise
	// requeues it for the given time.
	FailRun(ctx context.Context, id uuid.UUID, errText string, retryAt *time.Time) error
}
