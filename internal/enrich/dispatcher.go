// Package enrich fills in missing tone/sentiment annotations
// asynchronously: a dispatcher feeds work units into the queue from the
// read path, a worker pool drains them, calls the classifier and writes
// results back. Nothing here ever blocks or fails a read request.
package enrich

import (
	"context"

	"go.uber.org/zap"

	"reviewpulse/api/internal/queue"
	"reviewpulse/api/internal/store"
)

type jobQueue interface {
	Enqueue(ctx context.Context, job queue.Job) error
	Dequeue(ctx context.Context) (queue.Job, bool, error)
	DeadLetter(ctx context.Context, job queue.Job) error
}

// Dispatcher enqueues one work unit per revision still missing an
// annotation. It does not deduplicate; the worker's write is idempotent,
// so a revision listed twice before the worker catches up just costs a
// redundant classification.
type Dispatcher struct {
	queue  jobQueue
	logger *zap.Logger
}

func NewDispatcher(q jobQueue, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{queue: q, logger: logger}
}

// DispatchMissing is fire-and-forget: enqueue failures (including a full
// queue) are logged and dropped, never surfaced to the caller. A dropped
// unit is re-dispatched the next time the revision is listed.
func (d *Dispatcher) DispatchMissing(ctx context.Context, revisions []store.Revision) {
	for _, rev := range revisions {
		if rev.Annotated() {
			continue
		}
		job := queue.Job{RevisionID: rev.ID, Text: rev.Text, Stars: rev.Stars}
		if err := d.queue.Enqueue(ctx, job); err != nil {
			d.logger.Warn("enrichment unit dropped",
				zap.Int64("revision_id", rev.ID),
				zap.Error(err))
		}
	}
}
