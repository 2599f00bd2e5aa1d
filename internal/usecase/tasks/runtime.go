// Package tasks implements TaskRuntime: a bounded worker pool that
// dispatches background work (sync runs, signing, space reclamation,
// pruning) subject to per-resource exclusive write reservations, so two
// tasks that touch the same repository or remote never run concurrently
// while unrelated tasks proceed in parallel. The reservation-acquire loop
// is grounded on the teacher's cron scheduler's atomic.Bool CompareAndSwap
// per-entry guard, generalized from a single "running" flag to a set of
// named resource locks held for the task's duration.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"

	"github.com/coreforge/registry/internal/domain"
)

// Job is the work a Task executes once its reservations are held.
type Job func(ctx context.Context) error

// Runtime dispatches Tasks onto a bounded worker pool, serializing tasks
// that share a ReservationKey.
type Runtime struct {
	workers   int
	log       zerowrap.Logger
	mu        sync.Mutex
	tasks     map[string]*domain.Task
	locks     map[domain.ReservationKey]chan struct{}
	sem       chan struct{}
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a TaskRuntime with workers concurrent execution slots.
func New(workers int, log zerowrap.Logger) *Runtime {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		workers: workers,
		log:     log,
		tasks:   make(map[string]*domain.Task),
		locks:   make(map[domain.ReservationKey]chan struct{}),
		sem:     make(chan struct{}, workers),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit registers a task and starts it asynchronously once its
// reservations and a worker slot are both available. It returns
// immediately with the task's assigned ID.
func (r *Runtime) Submit(kind domain.TaskKind, reservations []domain.ReservationKey, job Job) string {
	task := &domain.Task{
		ID:           uuid.NewString(),
		Kind:         kind,
		Reservations: reservations,
		Status:       domain.TaskStatusPending,
		CreatedAt:    time.Now(),
	}

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(task, job)

	return task.ID
}

// Get returns a snapshot of a submitted task's current state.
func (r *Runtime) Get(taskID string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return domain.Task{}, false
	}
	return *t, true
}

// Stop cancels the runtime's context and waits for in-flight tasks to
// observe cancellation and return.
func (r *Runtime) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runtime) run(task *domain.Task, job Job) {
	defer r.wg.Done()

	held, err := r.acquireReservations(task.Reservations)
	if err != nil {
		r.fail(task, err)
		return
	}
	defer r.releaseReservations(held)

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-r.ctx.Done():
		r.fail(task, r.ctx.Err())
		return
	}

	r.mu.Lock()
	task.Status = domain.TaskStatusRunning
	task.StartedAt = time.Now()
	r.mu.Unlock()

	err = job(r.ctx)

	r.mu.Lock()
	task.FinishedAt = time.Now()
	if err != nil {
		task.Status = domain.TaskStatusFailed
		task.Error = err.Error()
	} else {
		task.Status = domain.TaskStatusSucceeded
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Warn().
			Str(zerowrap.FieldLayer, "usecase").
			Str("task_id", task.ID).
			Str("kind", string(task.Kind)).
			Err(err).
			Msg("task failed")
	}
}

// acquireReservations blocks until every key in keys has been exclusively
// locked by this call, in a fixed sort order to avoid deadlocking against
// another task acquiring the same keys in a different order.
func (r *Runtime) acquireReservations(keys []domain.ReservationKey) ([]domain.ReservationKey, error) {
	sorted := sortedKeys(keys)
	held := make([]domain.ReservationKey, 0, len(sorted))

	for _, key := range sorted {
		lock := r.lockFor(key)
		select {
		case lock <- struct{}{}:
			held = append(held, key)
		case <-r.ctx.Done():
			r.releaseReservations(held)
			return nil, fmt.Errorf("runtime stopped while acquiring reservation %q", key)
		}
	}
	return held, nil
}

func (r *Runtime) releaseReservations(keys []domain.ReservationKey) {
	for _, key := range keys {
		lock := r.lockFor(key)
		select {
		case <-lock:
		default:
		}
	}
}

func (r *Runtime) lockFor(key domain.ReservationKey) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = make(chan struct{}, 1)
		r.locks[key] = lock
	}
	return lock
}

func (r *Runtime) fail(task *domain.Task, err error) {
	r.mu.Lock()
	task.Status = domain.TaskStatusFailed
	task.Error = err.Error()
	task.FinishedAt = time.Now()
	r.mu.Unlock()
}

func sortedKeys(keys []domain.ReservationKey) []domain.ReservationKey {
	out := make([]domain.ReservationKey, len(keys))
	copy(out, keys)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
