// Package batch runs asynchronous verification jobs: Redis-queued
// batches processed by worker pools, with progress tracking, result
// retention and export.
package batch

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. Transitions only move forward:
// queued -> processing -> completed | failed.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Priority selects the worker pool a job is fed to. Single-address
// jobs get the wide pool; bulk uploads share the narrow one.
const (
	PrioritySingle = "single"
	PriorityBulk   = "bulk"
)

// Job is one queued verification batch. Counters hold the invariant
// Valid+Invalid == Processed <= Total.
type Job struct {
	ID       string `json:"batch_id" redis:"id"`
	Owner    string `json:"owner" redis:"owner"`
	Priority string `json:"priority" redis:"priority"`
	Status   string `json:"status" redis:"status"`

	Total     int `json:"total" redis:"total"`
	Processed int `json:"processed" redis:"processed"`
	Valid     int `json:"valid" redis:"valid"`
	Invalid   int `json:"invalid" redis:"invalid"`

	CreatedAt   time.Time `json:"created_at" redis:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty" redis:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty" redis:"completed_at"`

	Error string `json:"error,omitempty" redis:"error"`

	// Completion hooks, both optional
	CallbackURL string `json:"callback_url,omitempty" redis:"callback_url"`
	NotifyEmail string `json:"notify_email,omitempty" redis:"notify_email"`
}

// NewJob creates a queued job for the given addresses' owner.
func NewJob(owner, priority string, total int) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Owner:     owner,
		Priority:  priority,
		Status:    StatusQueued,
		Total:     total,
		CreatedAt: time.Now().UTC(),
	}
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Progress returns the processed ratio in [0,1].
func (j *Job) Progress() float64 {
	if j.Total == 0 {
		return 1
	}
	return float64(j.Processed) / float64(j.Total)
}
