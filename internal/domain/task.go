package domain

import "time"

// ReservationKey names an exclusive resource a Task must hold before
// running, e.g. "repository:library/nginx" or "remote:docker-hub-mirror".
// TaskRuntime serializes tasks that share a ReservationKey and lets
// disjoint tasks run concurrently.
type ReservationKey string

// TaskKind enumerates the background work TaskRuntime dispatches.
type TaskKind string

const (
	TaskKindSync         TaskKind = "sync"
	TaskKindSign         TaskKind = "sign"
	TaskKindReclaimSpace TaskKind = "reclaim_space"
	TaskKindPrune        TaskKind = "prune"
)

// TaskStatus is the lifecycle state of a submitted Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// Task is a unit of background work submitted to TaskRuntime.
type Task struct {
	ID           string
	Kind         TaskKind
	Reservations []ReservationKey
	Status       TaskStatus
	Error        string
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
}
