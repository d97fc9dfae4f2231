// Package engine ties the long-running pieces together: the
// transcription queue, its maintenance loops, and the API key watcher.
package engine

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/sq-engine/internal/auth"
	"github.com/snarg/sq-engine/internal/database"
	"github.com/snarg/sq-engine/internal/metrics"
	"github.com/snarg/sq-engine/internal/queue"
	"github.com/snarg/sq-engine/internal/transcribe"
)

// Options wires an Engine.
type Options struct {
	DB          *database.DB
	Transcriber transcribe.Transcriber
	KeysWatcher *auth.KeysWatcher // optional

	QueueSize       int
	QueueWorkers    int
	QueueMaxRetries int
	TaskRetention   time.Duration
}

// Engine owns the background machinery around the upload endpoint.
type Engine struct {
	queue       *queue.Queue
	db          *database.DB
	keysWatcher *auth.KeysWatcher
	retention   time.Duration
	log         zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Engine {
	e := &Engine{
		db:          opts.DB,
		keysWatcher: opts.KeysWatcher,
		retention:   opts.TaskRetention,
		log:         log,
	}
	if e.retention <= 0 {
		e.retention = 24 * time.Hour
	}

	process := func(ctx context.Context, task *queue.Task) error {
		start := time.Now()
		err := opts.Transcriber.Transcribe(ctx, task.AudioPath, task.Call)
		if err != nil {
			metrics.TranscriptionsTotal.WithLabelValues("retried").Inc()
			return err
		}
		metrics.TranscriptionsTotal.WithLabelValues("completed").Inc()
		metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
		return nil
	}

	e.queue = queue.New(queue.Options{
		Size:       opts.QueueSize,
		Workers:    opts.QueueWorkers,
		MaxRetries: opts.QueueMaxRetries,
	}, process, log.With().Str("component", "queue").Logger())
	e.queue.OnPermanentFailure = e.onPermanentFailure
	return e
}

// Queue exposes the transcription queue for the upload handler and API.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Run starts the queue and maintenance loops, blocking until ctx is
// cancelled or a component fails.
func (e *Engine) Run(ctx context.Context) error {
	e.queue.Start(ctx)
	defer e.queue.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.reaper(ctx)
	})

	if e.keysWatcher != nil {
		g.Go(func() error {
			return e.keysWatcher.Run(ctx)
		})
	}

	return g.Wait()
}

// reaper periodically drops old finished task records.
func (e *Engine) reaper(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := e.queue.CleanupOld(e.retention); removed > 0 {
				e.log.Debug().Int("removed", removed).Msg("cleaned up old task records")
			}
		}
	}
}

// onPermanentFailure marks the call failed and releases its temp file
// once a task has exhausted its retries.
func (e *Engine) onPermanentFailure(task *queue.Task) {
	metrics.TranscriptionsTotal.WithLabelValues("failed").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.db.UpdateCallStatus(ctx, task.Call.CallID, database.StatusFailed); err != nil {
		e.log.Error().Err(err).
			Str("call_id", task.Call.CallID.String()).
			Msg("failed to mark call failed")
	}
	if err := os.Remove(task.AudioPath); err != nil && !os.IsNotExist(err) {
		e.log.Warn().Err(err).Str("path", task.AudioPath).Msg("temp file cleanup failed")
	}
}
