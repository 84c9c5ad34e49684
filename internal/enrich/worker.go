package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reviewpulse/api/internal/classifier"
	"reviewpulse/api/internal/queue"
)

type annotationStore interface {
	SetRevisionAnnotations(ctx context.Context, revisionID int64, tone, sentiment string) error
}

type labeler interface {
	Classify(ctx context.Context, text string, stars int) (classifier.Result, error)
}

// Worker consumes enrichment units. Per unit: classify, parse, write
// back. Every failure mode (transport, bad status, malformed labels,
// store error) retries with exponential backoff until maxAttempts, then
// the unit is dead-lettered and the revision keeps unset annotations.
type Worker struct {
	queue       jobQueue
	classifier  labeler
	store       annotationStore
	logger      *zap.Logger
	maxAttempts int
	baseBackoff time.Duration
	callTimeout time.Duration
}

type WorkerOptions struct {
	MaxAttempts int
	BaseBackoff time.Duration
	CallTimeout time.Duration
}

func NewWorker(q jobQueue, c labeler, s annotationStore, logger *zap.Logger, opts WorkerOptions) *Worker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 2 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return &Worker{
		queue:       q,
		classifier:  c,
		store:       s,
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
		baseBackoff: opts.BaseBackoff,
		callTimeout: opts.CallTimeout,
	}
}

// Run drains the queue until ctx is cancelled. Multiple Run loops may
// share one queue; at-least-once delivery plus the idempotent write make
// racing consumers safe.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("enrichment worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("enrichment worker stopped")
			return
		default:
		}

		job, ok, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) {
	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	result, err := w.classifier.Classify(callCtx, job.Text, job.Stars)
	cancel()
	if err != nil {
		w.retry(ctx, job, err)
		return
	}

	if err := w.store.SetRevisionAnnotations(ctx, job.RevisionID, result.Tone, result.Sentiment); err != nil {
		w.retry(ctx, job, err)
		return
	}

	w.logger.Debug("revision annotated",
		zap.Int64("revision_id", job.RevisionID),
		zap.String("tone", result.Tone),
		zap.String("sentiment", result.Sentiment))
}

// retry re-enqueues the unit after an exponential backoff, or
// dead-letters it once attempts are exhausted. The backoff wait happens
// in this worker; siblings keep draining the queue meanwhile.
func (w *Worker) retry(ctx context.Context, job queue.Job, cause error) {
	job.Attempt++
	if job.Attempt >= w.maxAttempts {
		w.logger.Error("enrichment unit dead-lettered",
			zap.Int64("revision_id", job.RevisionID),
			zap.Int("attempts", job.Attempt),
			zap.Error(cause))
		if err := w.queue.DeadLetter(ctx, job); err != nil {
			w.logger.Error("dead-letter failed", zap.Int64("revision_id", job.RevisionID), zap.Error(err))
		}
		return
	}

	delay := w.baseBackoff << (job.Attempt - 1)
	w.logger.Warn("enrichment attempt failed, retrying",
		zap.Int64("revision_id", job.RevisionID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("backoff", delay),
		zap.Error(cause))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		// Shutting down: requeue immediately so the unit survives restart.
	case <-timer.C:
	}
	if err := w.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		w.logger.Error("requeue failed, unit lost until next listing",
			zap.Int64("revision_id", job.RevisionID),
			zap.Error(err))
	}
}
