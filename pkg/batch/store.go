package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned when a batch id has no record, either
// because it never existed or its retention window lapsed.
var ErrJobNotFound = errors.New("batch: job not found")

// Store persists jobs, queues and results in Redis.
//
// Key layout under the configured prefix:
//
//	{prefix}:job:{id}      hash, the job record
//	{prefix}:emails:{id}   list, the addresses to verify
//	{prefix}:queue:single  list, FIFO of job ids (wide pool)
//	{prefix}:queue:bulk    list, FIFO of job ids (narrow pool)
//	{prefix}:results:{id}  list, one JSON result per address
type Store struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewStore wraps the given client. retention bounds how long finished
// jobs and their results stay readable.
func NewStore(client *redis.Client, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "batch"
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Store{client: client, prefix: prefix, retention: retention}
}

func (s *Store) jobKey(id string) string     { return s.prefix + ":job:" + id }
func (s *Store) emailsKey(id string) string  { return s.prefix + ":emails:" + id }
func (s *Store) resultsKey(id string) string { return s.prefix + ":results:" + id }
func (s *Store) cancelKey(id string) string  { return s.prefix + ":cancel:" + id }
func (s *Store) queueKey(priority string) string {
	return s.prefix + ":queue:" + priority
}

// Create persists the job record with its address list and pushes the
// id onto the priority queue.
func (s *Store) Create(ctx context.Context, job *Job, emails []string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.jobKey(job.ID), jobFields(job))
	pipe.Expire(ctx, s.jobKey(job.ID), s.retention)
	if len(emails) > 0 {
		args := make([]interface{}, len(emails))
		for i, e := range emails {
			args[i] = e
		}
		pipe.RPush(ctx, s.emailsKey(job.ID), args...)
		pipe.Expire(ctx, s.emailsKey(job.ID), s.retention)
	}
	pipe.LPush(ctx, s.queueKey(job.Priority), job.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// Get loads a job record. A non-empty owner must match the record's
// owner; a mismatch reads as not-found so ids cannot be probed across
// accounts. Internal callers pass an empty owner.
func (s *Store) Get(ctx context.Context, id, owner string) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	job, err := jobFromFields(fields)
	if err != nil {
		return nil, err
	}
	if owner != "" && job.Owner != owner {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Update rewrites the mutable fields of the job record.
func (s *Store) Update(ctx context.Context, job *Job) error {
	return s.client.HSet(ctx, s.jobKey(job.ID), jobFields(job)).Err()
}

// Emails returns the job's address list.
func (s *Store) Emails(ctx context.Context, id string) ([]string, error) {
	return s.client.LRange(ctx, s.emailsKey(id), 0, -1).Result()
}

// Dequeue blocks up to timeout for the next job id on the priority
// queue. A nil error with empty id means the wait timed out.
func (s *Store) Dequeue(ctx context.Context, priority string, timeout time.Duration) (string, error) {
	vals, err := s.client.BRPop(ctx, timeout, s.queueKey(priority)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return vals[1], nil
}

// AppendResult stores one verification result on the job's result list.
func (s *Store) AppendResult(ctx context.Context, id string, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.resultsKey(id), raw)
	pipe.Expire(ctx, s.resultsKey(id), s.retention)
	_, err = pipe.Exec(ctx)
	return err
}

// Results returns the raw JSON results in processing order.
func (s *Store) Results(ctx context.Context, id string) ([]string, error) {
	return s.client.LRange(ctx, s.resultsKey(id), 0, -1).Result()
}

// Cancel flags a job for cancellation. Workers observe the flag at the
// next address boundary and finalise the job as failed/"cancelled".
func (s *Store) Cancel(ctx context.Context, id, owner string) error {
	if _, err := s.Get(ctx, id, owner); err != nil {
		return err
	}
	return s.client.Set(ctx, s.cancelKey(id), "1", s.retention).Err()
}

// IsCancelled reports whether the job has been flagged for cancellation.
func (s *Store) IsCancelled(ctx context.Context, id string) bool {
	n, err := s.client.Exists(ctx, s.cancelKey(id)).Result()
	return err == nil && n > 0
}

// Requeue pushes an interrupted job to the front of its queue so the
// next worker resumes it from the recorded progress.
func (s *Store) Requeue(ctx context.Context, job *Job) error {
	return s.client.RPush(ctx, s.queueKey(job.Priority), job.ID).Err()
}

// QueueDepth reports the number of jobs waiting on the priority queue.
func (s *Store) QueueDepth(ctx context.Context, priority string) (int64, error) {
	return s.client.LLen(ctx, s.queueKey(priority)).Result()
}

func jobFields(j *Job) map[string]interface{} {
	return map[string]interface{}{
		"id":           j.ID,
		"owner":        j.Owner,
		"priority":     j.Priority,
		"status":       j.Status,
		"total":        j.Total,
		"processed":    j.Processed,
		"valid":        j.Valid,
		"invalid":      j.Invalid,
		"created_at":   stamp(j.CreatedAt),
		"started_at":   stamp(j.StartedAt),
		"completed_at": stamp(j.CompletedAt),
		"error":        j.Error,
		"callback_url": j.CallbackURL,
		"notify_email": j.NotifyEmail,
	}
}

func jobFromFields(f map[string]string) (*Job, error) {
	j := &Job{
		ID:          f["id"],
		Owner:       f["owner"],
		Priority:    f["priority"],
		Status:      f["status"],
		Error:       f["error"],
		CallbackURL: f["callback_url"],
		NotifyEmail: f["notify_email"],
	}
	for name, dst := range map[string]*int{
		"total":     &j.Total,
		"processed": &j.Processed,
		"valid":     &j.Valid,
		"invalid":   &j.Invalid,
	} {
		if f[name] == "" {
			continue
		}
		n, err := strconv.Atoi(f[name])
		if err != nil {
			return nil, fmt.Errorf("batch: bad %s field: %w", name, err)
		}
		*dst = n
	}
	for name, dst := range map[string]*time.Time{
		"created_at":   &j.CreatedAt,
		"started_at":   &j.StartedAt,
		"completed_at": &j.CompletedAt,
	} {
		if f[name] == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, f[name])
		if err != nil {
			return nil, fmt.Errorf("batch: bad %s field: %w", name, err)
		}
		*dst = t
	}
	return j, nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
