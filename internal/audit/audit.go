// Package audit records invoked operations into access_log, decoupled
// from the request path by a Redis list. Recording is best-effort in both
// directions: a failed publish and a failed insert are logged and
// swallowed, never reported to the caller.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKey   = "audit:access"
	drainBlock   = time.Second
	capacitySlop = 10000
)

// Recorder publishes access-log lines. It is safe for concurrent use by
// all request handlers.
type Recorder struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

func NewRecorder(client *redis.Client, logger *zap.Logger) *Recorder {
	return &Recorder{client: client, key: defaultKey, logger: logger}
}

// Record enqueues one entry, fire-and-forget. The list is capped so a
// stalled drainer cannot grow Redis without bound; overflow drops the
// entry.
func (r *Recorder) Record(ctx context.Context, text string) {
	length, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		r.logger.Warn("access log publish failed", zap.Error(err))
		return
	}
	if length >= capacitySlop {
		r.logger.Warn("access log channel full, entry dropped", zap.String("text", text))
		return
	}
	if err := r.client.LPush(ctx, r.key, text).Err(); err != nil {
		r.logger.Warn("access log publish failed", zap.Error(err))
	}
}

type accessLogStore interface {
	InsertAccessLog(ctx context.Context, text string) error
}

// Drainer moves published entries into the access_log table.
type Drainer struct {
	client *redis.Client
	key    string
	store  accessLogStore
	logger *zap.Logger
}

func NewDrainer(client *redis.Client, store accessLogStore, logger *zap.Logger) *Drainer {
	return &Drainer{client: client, key: defaultKey, store: store, logger: logger}
}

// Run drains until ctx is cancelled. An entry whose insert fails is
// dropped; audit records are not worth retry machinery.
func (d *Drainer) Run(ctx context.Context) {
	d.logger.Info("access log drainer started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("access log drainer stopped")
			return
		default:
		}

		result, err := d.client.BRPop(ctx, drainBlock, d.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Warn("access log pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(result) != 2 {
			continue
		}

		if err := d.store.InsertAccessLog(ctx, result[1]); err != nil {
			d.logger.Warn("access log insert failed", zap.String("text", result[1]), zap.Error(err))
		}
	}
}
