// Package broadcast delivers operator-authored messages to a bot's audience:
// a Redis-fed worker pool fans each broadcast out under a per-second shaper,
// records one delivery row per recipient and survives process restarts by
// resuming from the first recipient without a row.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/botfabrik/botfabrik/pkg/database"
	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/i18n"
	"github.com/botfabrik/botfabrik/pkg/metrics"
	"github.com/botfabrik/botfabrik/pkg/telegram"
)

// QueueKey is the Redis list carrying broadcast IDs awaiting delivery.
const QueueKey = "broadcast_queue"

// Broadcast statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Pool manages the broadcast delivery workers.
type Pool struct {
	db      *database.Client
	rdb     *redis.Client
	sender  telegram.Sender
	i18n    *i18n.Resolver
	events  *events.Logger
	metrics *metrics.Recorder

	workerCount int
	workers     []*Worker
	cancel      context.CancelFunc
	stopOnce    sync.Once
	wg          sync.WaitGroup
	started     bool
}

// NewPool creates the delivery pool. workerCount bounds concurrent
// broadcasts, not concurrent messages; one worker owns one broadcast.
func NewPool(workerCount int, db *database.Client, rdb *redis.Client, sender telegram.Sender,
	resolver *i18n.Resolver, ev *events.Logger, rec *metrics.Recorder) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		db:          db,
		rdb:         rdb,
		sender:      sender,
		i18n:        resolver,
		events:      ev,
		metrics:     rec,
		workerCount: workerCount,
		workers:     make([]*Worker, 0, workerCount),
	}
}

// Start requeues interrupted broadcasts and spawns the workers. It is safe
// to call multiple times; subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Broadcast pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.requeueInterrupted(ctx); err != nil {
		slog.Warn("Failed to requeue interrupted broadcasts", "error", err)
	}

	slog.Info("Starting broadcast pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		worker := NewWorker(fmt.Sprintf("broadcast-worker-%d", i), p)
		p.workers = append(p.workers, worker)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			worker.run(ctx)
		}()
	}
	return nil
}

// Stop cancels in-flight deliveries and waits for the workers. Interrupted
// broadcasts stay in running status and resume on the next Start.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		slog.Info("Stopping broadcast pool")
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		slog.Info("Broadcast pool stopped")
	})
}

// Enqueue hands a broadcast to the pool.
func (p *Pool) Enqueue(ctx context.Context, broadcastID string) error {
	if err := p.rdb.LPush(ctx, QueueKey, broadcastID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue broadcast: %w", err)
	}
	return nil
}

// requeueInterrupted pushes every unfinished broadcast back onto the queue.
// Delivery rows are unique per recipient, so a double enqueue costs a scan,
// never a duplicate message.
func (p *Pool) requeueInterrupted(ctx context.Context) error {
	rows, err := p.db.DB().QueryContext(ctx,
		`SELECT id FROM broadcasts WHERE status IN ($1, $2)`, StatusPending, StatusRunning)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if err := p.rdb.LPush(ctx, QueueKey, id).Err(); err != nil {
			return err
		}
		slog.Info("Requeued interrupted broadcast", "broadcast_id", id)
	}
	return nil
}
