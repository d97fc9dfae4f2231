// Package queue runs transcription work through a bounded in-memory
// queue with a fixed worker pool, bounded retries, and a retry staging
// channel so transient failures don't starve fresh uploads.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/sq-engine/internal/database"
)

// ErrQueueFull is returned by Enqueue when the main queue is at capacity.
var ErrQueueFull = errors.New("queue full")

// Task statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRetrying   = "retrying"
)

// Task is one unit of transcription work.
type Task struct {
	ID        uuid.UUID                 `json:"id"`
	Call      *database.RadioCallCreate `json:"call"`
	AudioPath string                    `json:"audio_path"`

	Status      string     `json:"status"`
	Retries     int        `json:"retries"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	nextAttempt time.Time
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	TotalEnqueued         int64   `json:"total_enqueued"`
	TotalProcessed        int64   `json:"total_processed"`
	TotalFailed           int64   `json:"total_failed"`
	TotalRetries          int64   `json:"total_retries"`
	AverageProcessingTime float64 `json:"average_processing_time"`
	QueueFullRejections   int64   `json:"queue_full_rejections"`
	QueueSize             int     `json:"queue_size"`
	RetryQueueSize        int     `json:"retry_queue_size"`
	ActiveTasks           int     `json:"active_tasks"`
	CompletedTasks        int     `json:"completed_tasks"`
	FailedTasks           int     `json:"failed_tasks"`
	WorkersRunning        int     `json:"workers_running"`
	IsRunning             bool    `json:"is_running"`
}

// ProcessFunc performs the actual transcription work for one task.
type ProcessFunc func(ctx context.Context, task *Task) error

// Options tunes queue behavior. Zero values take defaults.
type Options struct {
	Size       int
	Workers    int
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = 10000
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}

// Queue dispatches tasks to a worker pool. Failed tasks cycle through a
// retry channel with linear backoff until MaxRetries is exhausted.
type Queue struct {
	opts    Options
	process ProcessFunc
	log     zerolog.Logger

	tasks chan *Task
	retry chan *Task

	ctx     context.Context
	cancel  context.CancelFunc
	workCtx context.Context
	wg      sync.WaitGroup

	// OnPermanentFailure runs after a task exhausts its retries. Used
	// to mark the call failed and release its temp file.
	OnPermanentFailure func(task *Task)

	// backoff computes the delay before retry attempt n. Overridable
	// in tests.
	backoff func(retries int) time.Duration

	mu        sync.Mutex
	active    map[uuid.UUID]*Task
	completed map[uuid.UUID]*Task
	failed    map[uuid.UUID]*Task
	running   bool
	workers   int

	totalEnqueued       int64
	totalProcessed      int64
	totalFailed         int64
	totalRetries        int64
	queueFullRejections int64
	avgProcessing       float64
	haveSample          bool
}

func New(opts Options, process ProcessFunc, log zerolog.Logger) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		opts:      opts,
		process:   process,
		log:       log,
		tasks:     make(chan *Task, opts.Size),
		retry:     make(chan *Task, opts.Size/2),
		backoff:   defaultBackoff,
		active:    make(map[uuid.UUID]*Task),
		completed: make(map[uuid.UUID]*Task),
		failed:    make(map[uuid.UUID]*Task),
	}
}

// Linear backoff capped at 30s: 5s, 10s, 15s, ...
func defaultBackoff(retries int) time.Duration {
	d := time.Duration(retries) * 5 * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Start launches the worker pool and retry shuffler.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	// Stop cancels the loop context only; the task in hand runs to
	// completion on workCtx.
	q.workCtx = context.WithoutCancel(q.ctx)

	q.mu.Lock()
	q.running = true
	q.workers = q.opts.Workers
	q.mu.Unlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.retryShuffler()

	q.log.Info().
		Int("workers", q.opts.Workers).
		Int("queue_size", q.opts.Size).
		Int("max_retries", q.opts.MaxRetries).
		Msg("transcription queue started")
}

// Stop requests shutdown and waits for each worker to finish the task
// it has in hand. Tasks still queued are not processed further.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	q.workers = 0
	q.mu.Unlock()
	q.log.Info().Msg("transcription queue stopped")
}

// Enqueue adds a task without blocking. When the queue is at capacity it
// counts the rejection and returns ErrQueueFull so the caller can fall
// back to inline processing.
func (q *Queue) Enqueue(task *Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.Status = StatusPending
	task.EnqueuedAt = time.Now()

	select {
	case q.tasks <- task:
		q.mu.Lock()
		q.totalEnqueued++
		q.mu.Unlock()
		return nil
	default:
		q.mu.Lock()
		q.queueFullRejections++
		q.mu.Unlock()
		return ErrQueueFull
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log := q.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.tasks:
			q.run(log, task)
		}
	}
}

func (q *Queue) run(log zerolog.Logger, task *Task) {
	now := time.Now()
	task.Status = StatusProcessing
	task.StartedAt = &now

	q.mu.Lock()
	q.active[task.ID] = task
	q.mu.Unlock()

	err := q.process(q.workCtx, task)
	elapsed := time.Since(now)

	q.mu.Lock()
	delete(q.active, task.ID)
	q.mu.Unlock()

	if err == nil {
		done := time.Now()
		task.Status = StatusCompleted
		task.CompletedAt = &done

		q.mu.Lock()
		q.totalProcessed++
		q.observeProcessingTime(elapsed.Seconds())
		q.completed[task.ID] = task
		q.mu.Unlock()

		log.Debug().
			Str("task_id", task.ID.String()).
			Dur("elapsed", elapsed).
			Msg("task completed")
		return
	}

	task.LastError = err.Error()
	task.Retries++

	if task.Retries > q.opts.MaxRetries {
		q.fail(task)
		log.Error().Err(err).
			Str("task_id", task.ID.String()).
			Int("retries", task.Retries-1).
			Msg("task failed permanently")
		return
	}

	task.Status = StatusRetrying
	task.nextAttempt = time.Now().Add(q.backoff(task.Retries))

	q.mu.Lock()
	q.totalRetries++
	q.mu.Unlock()

	select {
	case q.retry <- task:
		log.Warn().Err(err).
			Str("task_id", task.ID.String()).
			Int("retry", task.Retries).
			Msg("task scheduled for retry")
	default:
		// Retry channel full: give up rather than block a worker.
		q.fail(task)
		log.Error().Err(err).
			Str("task_id", task.ID.String()).
			Msg("retry queue full, task failed")
	}
}

func (q *Queue) fail(task *Task) {
	done := time.Now()
	task.Status = StatusFailed
	task.CompletedAt = &done

	q.mu.Lock()
	q.totalFailed++
	q.failed[task.ID] = task
	q.mu.Unlock()

	if q.OnPermanentFailure != nil {
		q.OnPermanentFailure(task)
	}
}

// retryShuffler moves due tasks from the retry channel back onto the
// main queue. It waits out each task's backoff, then allows 5s for a
// slot on the main queue; if none opens it requeues the task, and if
// the retry channel is also full the task fails.
func (q *Queue) retryShuffler() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task := <-q.retry:
			if wait := time.Until(task.nextAttempt); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-q.ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}

			task.Status = StatusPending
			timer := time.NewTimer(5 * time.Second)
			select {
			case <-q.ctx.Done():
				timer.Stop()
				return
			case q.tasks <- task:
				timer.Stop()
			case <-timer.C:
				select {
				case q.retry <- task:
				default:
					q.fail(task)
					q.log.Error().
						Str("task_id", task.ID.String()).
						Msg("queues full, retrying task failed")
				}
			}
		}
	}
}

// observeProcessingTime folds one sample into the EMA. Caller holds mu.
func (q *Queue) observeProcessingTime(seconds float64) {
	if !q.haveSample {
		q.avgProcessing = seconds
		q.haveSample = true
		return
	}
	q.avgProcessing = 0.9*q.avgProcessing + 0.1*seconds
}

// TaskStatus looks up a task by ID across the active, completed, and
// failed sets.
func (q *Queue) TaskStatus(id uuid.UUID) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.active[id]; ok {
		return t, true
	}
	if t, ok := q.completed[id]; ok {
		return t, true
	}
	if t, ok := q.failed[id]; ok {
		return t, true
	}
	return nil, false
}

// Stats snapshots current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		TotalEnqueued:         q.totalEnqueued,
		TotalProcessed:        q.totalProcessed,
		TotalFailed:           q.totalFailed,
		TotalRetries:          q.totalRetries,
		AverageProcessingTime: q.avgProcessing,
		QueueFullRejections:   q.queueFullRejections,
		QueueSize:             len(q.tasks),
		RetryQueueSize:        len(q.retry),
		ActiveTasks:           len(q.active),
		CompletedTasks:        len(q.completed),
		FailedTasks:           len(q.failed),
		WorkersRunning:        q.workers,
		IsRunning:             q.running,
	}
}

// QueueSizes reports live depths for the metrics collector.
func (q *Queue) QueueSizes() (main, retry, active int) {
	q.mu.Lock()
	active = len(q.active)
	q.mu.Unlock()
	return len(q.tasks), len(q.retry), active
}

// CleanupOld drops completed and failed task records older than maxAge
// and returns how many were removed.
func (q *Queue) CleanupOld(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, t := range q.completed {
		if t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(q.completed, id)
			removed++
		}
	}
	for id, t := range q.failed {
		if t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(q.failed, id)
			removed++
		}
	}
	return removed
}
