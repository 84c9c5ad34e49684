package enrich

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"reviewpulse/api/internal/queue"
	"reviewpulse/api/internal/store"
)

type rejectingQueue struct {
	memQueue
	failAfter int
}

func (r *rejectingQueue) Enqueue(ctx context.Context, job queue.Job) error {
	r.mu.Lock()
	full := len(r.jobs) >= r.failAfter
	r.mu.Unlock()
	if full {
		return queue.ErrFull
	}
	return r.memQueue.Enqueue(ctx, job)
}

func strptr(s string) *string { return &s }

func TestDispatchMissingSkipsAnnotated(t *testing.T) {
	q := &memQueue{}
	d := NewDispatcher(q, zap.NewNop())

	d.DispatchMissing(context.Background(), []store.Revision{
		{ID: 1, Text: "no labels yet", Stars: 7},
		{ID: 2, Text: "fully labelled", Stars: 8, Tone: strptr("calm"), Sentiment: strptr("positive")},
		{ID: 3, Text: "half labelled", Stars: 6, Tone: strptr("calm")},
	})

	if len(q.jobs) != 2 {
		t.Fatalf("expected 2 units enqueued, got %d: %v", len(q.jobs), q.jobs)
	}
	if q.jobs[0].RevisionID != 1 || q.jobs[1].RevisionID != 3 {
		t.Fatalf("wrong revisions enqueued: %v", q.jobs)
	}
	if q.jobs[0].Attempt != 0 {
		t.Fatalf("fresh units must start at attempt 0, got %d", q.jobs[0].Attempt)
	}
}

func TestDispatchMissingSwallowsFullQueue(t *testing.T) {
	q := &rejectingQueue{failAfter: 1}
	d := NewDispatcher(q, zap.NewNop())

	d.DispatchMissing(context.Background(), []store.Revision{
		{ID: 1, Text: "a", Stars: 5},
		{ID: 2, Text: "b", Stars: 5},
		{ID: 3, Text: "c", Stars: 5},
	})

	if len(q.jobs) != 1 {
		t.Fatalf("expected 1 accepted unit, got %d", len(q.jobs))
	}
}

func TestDispatchMissingEmptyPage(t *testing.T) {
	q := &memQueue{}
	NewDispatcher(q, zap.NewNop()).DispatchMissing(context.Background(), nil)
	if len(q.jobs) != 0 {
		t.Fatalf("expected no units, got %d", len(q.jobs))
	}
}
