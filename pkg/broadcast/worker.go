package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// popTimeout bounds one BRPOP so workers notice shutdown promptly.
const popTimeout = 2 * time.Second

// Worker pops broadcast IDs off the queue and runs their deliveries.
type Worker struct {
	id   string
	pool *Pool
}

// NewWorker creates a queue worker owned by pool.
func NewWorker(id string, pool *Pool) *Worker {
	return &Worker{id: id, pool: pool}
}

func (w *Worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id)
	log.Info("Broadcast worker started")

	for {
		if ctx.Err() != nil {
			log.Info("Broadcast worker stopped")
			return
		}

		result, err := w.pool.rdb.BRPop(ctx, popTimeout, QueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				log.Info("Broadcast worker stopped")
				return
			}
			log.Warn("Failed to pop broadcast queue", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if len(result) != 2 {
			continue
		}

		broadcastID := result[1]
		log.Info("Processing broadcast", "broadcast_id", broadcastID)
		if err := w.pool.deliver(ctx, broadcastID); err != nil {
			if ctx.Err() != nil {
				// Shutdown mid-broadcast: status stays running for resume.
				log.Info("Broadcast interrupted by shutdown", "broadcast_id", broadcastID)
				return
			}
			log.Error("Broadcast delivery failed", "broadcast_id", broadcastID, "error", err)
		}
	}
}
