// Package worker runs the orphan sweeper: it drains batches of object keys
// left behind by failed multi-unit uploads and deletes them.
package worker

import (
	"context"
	"time"

	"relecloud/internal/pkg/logger"
	"relecloud/internal/ports"
	"relecloud/internal/worker/queue"
)

func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("sweeper")

	timeout := d.PopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := queue.NewRedisQueue(d.RDB, d.QueueName)
	log.Info("orphan sweeper started", "queue", d.QueueName, "backend", d.Store.Provider())

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper context canceled, stopping")
			return ctx.Err()
		default:
		}

		batch, err := q.Pop(ctx, timeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("sweeper stopping due to context cancellation")
				return ctx.Err()
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if batch == nil {
			continue
		}

		Sweep(ctx, d.Store, log, batch)
	}
}

// Sweep deletes every key of batch and returns how many deletions failed.
// Failures are logged and dropped.
func Sweep(ctx context.Context, store ports.ObjectStore, log *logger.Logger, batch *queue.OrphanBatch) int {
	start := time.Now()
	failed := 0
	for _, key := range batch.Keys {
		if err := store.DeleteObject(ctx, key); err != nil {
			failed++
			log.WithObjectKey(key).LogError(ctx, "orphan delete failed", err, "name", batch.Name)
			continue
		}
		log.WithObjectKey(key).Debug("orphan deleted", "name", batch.Name)
	}

	log.Info("orphan batch swept",
		"name", batch.Name,
		"keys", len(batch.Keys),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return failed
}
