// internal/durable/memory.go
package durable

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryTimer struct {
	Timer
	status    string
	claimedAt time.Time
}

type memoryRun struct {
	Run
	status    string
	nextRunAt time.Time
	createdAt time.Time
	claimedAt time.Time
	output    []byte
	errText   string
}

// MemoryBackend is an in-process Backend used by tests. All state lives in
// maps guarded by one mutex; claim semantics match the Postgres backend.
type MemoryBackend struct {
	mu     sync.Mutex
	steps  map[uuid.UUID]map[string][]byte
	rand   map[uuid.UUID]map[string]float64
	actors map[string][]byte
	timers map[uuid.UUID]*memoryTimer
	runs   map[uuid.UUID]*memoryRun
	seq    int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		steps:  map[uuid.UUID]map[string][]byte{},
		rand:   map[uuid.UUID]map[string]float64{},
		actors: map[string][]byte{},
		timers: map[uuid.UUID]*memoryTimer{},
		runs:   map[uuid.UUID]*memoryRun{},
	}
}

func (b *MemoryBackend) GetStep(_ context.Context, runID uuid.UUID, stepKey string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, ok := b.steps[runID][stepKey]
	return out, ok, nil
}

func (b *MemoryBackend) PutStep(_ context.Context, runID uuid.UUID, stepKey string, output []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.steps[runID] == nil {
		b.steps[runID] = map[string][]byte{}
	}
	if _, ok := b.steps[runID][stepKey]; !ok {
		b.steps[runID][stepKey] = output
	}
	return nil
}

func (b *MemoryBackend) GetRand(_ context.Context, runID uuid.UUID, key string) (float64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.rand[runID][key]
	return v, ok, nil
}

func (b *MemoryBackend) PutRand(_ context.Context, runID uuid.UUID, key string, value float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rand[runID] == nil {
		b.rand[runID] = map[string]float64{}
	}
	if _, ok := b.rand[runID][key]; !ok {
		b.rand[runID][key] = value
	}
	return nil
}

func (b *MemoryBackend) GetActorState(_ context.Context, actorKey string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.actors[actorKey]
	return state, ok, nil
}

func (b *MemoryBackend) SetActorState(_ context.Context, actorKey string, state []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actors[actorKey] = state
	return nil
}

func (b *MemoryBackend) ClearActorState(_ context.Context, actorKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.actors, actorKey)
	return nil
}

func (b *MemoryBackend) ScheduleTimer(_ context.Context, t Timer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timers[t.ID] = &memoryTimer{Timer: t, status: "pending"}
	return nil
}

func (b *MemoryBackend) CancelTimer(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[id]; ok && t.status == "pending" {
		t.status = "cancelled"
	}
	return nil
}

func (b *MemoryBackend) ClaimDueTimer(_ context.Context, now time.Time) (*Timer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stale := now.Add(-leaseTimeout)
	var due *memoryTimer
	for _, t := range b.timers {
		claimable := (t.status == "pending" && !t.FireAt.After(now)) ||
			(t.status == "firing" && !t.claimedAt.After(stale))
		if !claimable {
			continue
		}
		if due == nil || t.FireAt.Before(due.FireAt) {
			due = t
		}
	}
	if due == nil {
		return nil, nil
	}
	due.status = "firing"
	due.claimedAt = now
	due.Attempts++
	t := due.Timer
	return &t, nil
}

func (b *MemoryBackend) CompleteTimer(_ context.Context, id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[id]; ok {
		t.status = "fired"
	}
	return nil
}

func (b *MemoryBackend) RetryTimer(_ context.Context, id uuid.UUID, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[id]; ok {
		t.status = "pending"
		t.FireAt = at
	}
	return nil
}

func (b *MemoryBackend) EnqueueRun(_ context.Context, r Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.runs[r.ID] = &memoryRun{
		Run:       r,
		status:    "queued",
		createdAt: time.Unix(int64(b.seq), 0),
	}
	return nil
}

func (b *MemoryBackend) ClaimDueRun(_ context.Context, now time.Time) (*Run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stale := now.Add(-leaseTimeout)
	var due *memoryRun
	for _, r := range b.runs {
		claimable := (r.status == "queued" && !r.nextRunAt.After(now)) ||
			(r.status == "running" && !r.claimedAt.After(stale))
		if !claimable {
			continue
		}
		if due == nil || r.createdAt.Before(due.createdAt) {
			due = r
		}
	}
	if due == nil {
		return nil, nil
	}
	due.status = "running"
	due.claimedAt = now
	due.Attempts++
	r := due.Run
	return &r, nil
}

func (b *MemoryBackend) CompleteRun(_ context.Context, id uuid.UUID, output []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.runs[id]; ok {
		r.status = "completed"
		r.output = output
	}
	return nil
}

func (b *MemoryBackend) FailRun(_ context.Context, id uuid.UUID, errText string, retryAt *time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.runs[id]
	if !ok {
		return nil
	}
	r.errText = errText
	if retryAt == nil {
		r.status = "failed"
		return nil
	}
	r.status = "queued"
	r.nextRunAt = *retryAt
	return nil
}

// RunStatus reports a run's status and error text; test helper.
func (b *MemoryBackend) RunStatus(id uuid.UUID) (status, errText string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, found := b.runs[id]
	if !found {
		return "", "", false
	}
	return r.status, r.errText, true
}

// TimerStatus reports a timer's status; test helper.
func (b *MemoryBackend) TimerStatus(id uuid.UUID) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.timers[id]
	if !ok {
		return "", false
	}
	return t.status, true
}

// PendingTimers returns the ids of timers still pending; test helper.
func (b *MemoryBackend) PendingTimers() []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []uuid.UUID
	for id, t := range b.timers {
		if t.status == "pending" {
			ids = append(ids, id)
		}
	}
	return ids
}
