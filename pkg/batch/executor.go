package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/verimail/engine/pkg/cache"
	"github.com/verimail/engine/pkg/config"
	"github.com/verimail/engine/pkg/metrics"
	"github.com/verimail/engine/pkg/verifier"
)

// Verifier is the slice of the engine the executor consumes.
type Verifier interface {
	Verify(ctx context.Context, email string, opts verifier.Options) verifier.Result
}

// CreditChecker gates job intake on the owner's balance. A nil checker
// means unlimited.
type CreditChecker interface {
	// Check returns an error when the owner cannot spend n credits.
	Check(ctx context.Context, owner string, n int) error
}

// Notifier delivers completion notices. Failures are logged, never
// retried; notification is best-effort.
type Notifier interface {
	Notify(ctx context.Context, job *Job) error
}

// Executor drains the batch queues with two worker pools and runs each
// job's addresses through the verification engine.
type Executor struct {
	store   *Store
	verify  Verifier
	usage   cache.Store
	credits CreditChecker
	notify  Notifier
	metrics *metrics.Metrics
	log     *zap.Logger

	opts verifier.Options

	singleWorkers int
	bulkWorkers   int
	flushEvery    int
	emailPause    time.Duration
	usageTTL      time.Duration

	enqueueRetries int
	enqueueBackoff time.Duration
	depthEvery     time.Duration
}

// ExecutorDeps wires the executor. Credits, Notify and Metrics are
// optional.
type ExecutorDeps struct {
	Store    *Store
	Verifier Verifier
	Usage    cache.Store
	Credits  CreditChecker
	Notify   Notifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Options  verifier.Options

	SingleWorkers int
	BulkWorkers   int
	Batch         config.BatchConfig
	UsageTTLSec   int
}

// NewExecutor builds the executor from its dependencies.
func NewExecutor(deps ExecutorDeps) *Executor {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	single := deps.SingleWorkers
	if single <= 0 {
		single = 20
	}
	bulk := deps.BulkWorkers
	if bulk <= 0 {
		bulk = 5
	}
	flush := deps.Batch.FlushEvery
	if flush <= 0 {
		flush = 50
	}
	retries := deps.Batch.EnqueueRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := time.Duration(deps.Batch.EnqueueBackoffSec) * time.Second
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	usageTTL := time.Duration(deps.UsageTTLSec) * time.Second
	if usageTTL <= 0 {
		usageTTL = time.Hour
	}
	return &Executor{
		store:          deps.Store,
		verify:         deps.Verifier,
		usage:          deps.Usage,
		credits:        deps.Credits,
		notify:         deps.Notify,
		metrics:        deps.Metrics,
		log:            log,
		opts:           deps.Options,
		singleWorkers:  single,
		bulkWorkers:    bulk,
		flushEvery:     flush,
		emailPause:     time.Duration(deps.Batch.EmailPauseMs) * time.Millisecond,
		usageTTL:       usageTTL,
		enqueueRetries: retries,
		enqueueBackoff: backoff,
		depthEvery:     30 * time.Second,
	}
}

// Submit creates a job for the addresses and enqueues it, retrying the
// enqueue with exponential backoff when Redis is unavailable.
func (e *Executor) Submit(ctx context.Context, owner, priority string, emails []string, callbackURL, notifyEmail string) (*Job, error) {
	if len(emails) == 0 {
		return nil, errors.New("batch: empty address list")
	}
	if priority != PrioritySingle && priority != PriorityBulk {
		return nil, fmt.Errorf("batch: unknown priority %q", priority)
	}
	if e.credits != nil {
		if err := e.credits.Check(ctx, owner, len(emails)); err != nil {
			return nil, err
		}
	}

	job := NewJob(owner, priority, len(emails))
	job.CallbackURL = callbackURL
	job.NotifyEmail = notifyEmail

	var err error
	backoff := e.enqueueBackoff
	for attempt := 0; attempt < e.enqueueRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = e.store.Create(ctx, job, emails); err == nil {
			e.log.Info("batch enqueued",
				zap.String("batch_id", job.ID),
				zap.String("priority", priority),
				zap.Int("total", job.Total))
			return job, nil
		}
		e.log.Warn("batch enqueue failed",
			zap.String("batch_id", job.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("batch: enqueue after %d attempts: %w", e.enqueueRetries, err)
}

// Run drains the queues until the context is cancelled. It blocks.
func (e *Executor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.singleWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx, PrioritySingle)
		}()
	}
	for i := 0; i < e.bulkWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx, PriorityBulk)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.watchDepth(ctx)
	}()
	wg.Wait()
}

// watchDepth periodically samples both queue backlogs for the logs and
// the gauge.
func (e *Executor) watchDepth(ctx context.Context) {
	ticker := time.NewTicker(e.depthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reportDepth(ctx)
		}
	}
}

func (e *Executor) reportDepth(ctx context.Context) {
	for _, queue := range []string{PrioritySingle, PriorityBulk} {
		depth, err := e.store.QueueDepth(ctx, queue)
		if err != nil {
			continue
		}
		e.metrics.ObserveQueueDepth(queue, depth)
		e.log.Debug("batch queue depth",
			zap.String("queue", queue),
			zap.Int64("depth", depth))
	}
}

func (e *Executor) worker(ctx context.Context, priority string) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, err := e.store.Dequeue(ctx, priority, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.log.Warn("batch dequeue failed", zap.String("queue", priority), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if id == "" {
			continue
		}
		e.process(ctx, id)
	}
}

// process runs one job to a terminal status, resuming from the recorded
// progress when the job was interrupted. Both administrative
// cancellation and worker shutdown are honored at address boundaries
// only; the in-flight verification finishes. Cancellation finalises the
// job as failed, shutdown requeues it for another worker.
func (e *Executor) process(ctx context.Context, id string) {
	job, err := e.store.Get(ctx, id, "")
	if err != nil {
		e.log.Warn("batch job load failed", zap.String("batch_id", id), zap.Error(err))
		return
	}
	if job.Done() {
		return
	}

	emails, err := e.store.Emails(ctx, id)
	if err != nil {
		e.fail(ctx, job, "address list unavailable")
		return
	}

	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	job.Status = StatusProcessing
	if err := e.store.Update(ctx, job); err != nil {
		e.log.Warn("batch progress flush failed", zap.String("batch_id", id), zap.Error(err))
	}
	e.log.Info("batch started",
		zap.String("batch_id", id),
		zap.String("owner", job.Owner),
		zap.Int("total", job.Total),
		zap.Int("resume_from", job.Processed))

	if job.Processed > len(emails) {
		e.fail(ctx, job, "progress ahead of address list")
		return
	}
	emails = emails[job.Processed:]

	for i, email := range emails {
		if e.store.IsCancelled(ctx, id) {
			e.fail(ctx, job, "cancelled")
			return
		}
		if ctx.Err() != nil {
			e.suspend(context.WithoutCancel(ctx), job)
			return
		}

		res := e.verify.Verify(ctx, email, e.opts)
		if err := e.store.AppendResult(ctx, id, res); err != nil {
			e.log.Warn("batch result append failed",
				zap.String("batch_id", id),
				zap.String("email", email),
				zap.Error(err))
		}

		job.Processed++
		if res.IsValid {
			job.Valid++
		} else {
			job.Invalid++
		}
		e.metrics.ObserveBatchEmail(res.IsValid)
		if e.usage != nil && job.Owner != "" {
			e.usage.Incr(ctx, cache.UsageKey(job.Owner), e.usageTTL)
		}

		if job.Processed%e.flushEvery == 0 {
			if err := e.store.Update(ctx, job); err != nil {
				e.log.Warn("batch progress flush failed", zap.String("batch_id", id), zap.Error(err))
			}
		}

		if e.emailPause > 0 && i < len(emails)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(e.emailPause):
			}
		}
	}

	job.Status = StatusCompleted
	job.CompletedAt = time.Now().UTC()
	if err := e.store.Update(ctx, job); err != nil {
		e.log.Warn("batch final flush failed", zap.String("batch_id", id), zap.Error(err))
	}
	e.log.Info("batch completed",
		zap.String("batch_id", id),
		zap.Int("valid", job.Valid),
		zap.Int("invalid", job.Invalid))

	e.sendNotice(ctx, job)
}

// suspend flushes progress and puts the job back at the front of its
// queue so a routine shutdown never fails an in-flight batch.
func (e *Executor) suspend(ctx context.Context, job *Job) {
	if err := e.store.Update(ctx, job); err != nil {
		e.log.Warn("batch progress flush failed", zap.String("batch_id", job.ID), zap.Error(err))
	}
	if err := e.store.Requeue(ctx, job); err != nil {
		e.log.Warn("batch requeue failed", zap.String("batch_id", job.ID), zap.Error(err))
		return
	}
	e.log.Info("batch suspended for restart",
		zap.String("batch_id", job.ID),
		zap.Int("processed", job.Processed))
}

func (e *Executor) fail(ctx context.Context, job *Job, reason string) {
	job.Status = StatusFailed
	job.Error = reason
	job.CompletedAt = time.Now().UTC()
	if err := e.store.Update(ctx, job); err != nil {
		e.log.Warn("batch final flush failed", zap.String("batch_id", job.ID), zap.Error(err))
	}
	e.log.Warn("batch failed",
		zap.String("batch_id", job.ID),
		zap.String("reason", reason))
	e.sendNotice(ctx, job)
}

func (e *Executor) sendNotice(ctx context.Context, job *Job) {
	if e.notify == nil || (job.CallbackURL == "" && job.NotifyEmail == "") {
		return
	}
	if err := e.notify.Notify(ctx, job); err != nil {
		e.log.Warn("batch notification failed",
			zap.String("batch_id", job.ID),
			zap.Error(err))
	}
}
