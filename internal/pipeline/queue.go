package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Queue is a bounded task queue of message IDs with per-ID
// deduplication: an ID already waiting is not enqueued twice.
type Queue struct {
	tasks   chan uint
	mu      sync.Mutex
	pending map[uint]struct{}
	logger  *slog.Logger
}

// NewQueue creates a queue holding at most size waiting tasks.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		tasks:   make(chan uint, size),
		pending: make(map[uint]struct{}),
		logger:  logger.With("component", "queue"),
	}
}

// Enqueue submits an ID for processing without blocking. It reports
// whether the ID is now queued: true for newly queued and for IDs
// already waiting, false when the queue is full.
func (q *Queue) Enqueue(id uint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, waiting := q.pending[id]; waiting {
		return true
	}

	select {
	case q.tasks <- id:
		q.pending[id] = struct{}{}
		return true
	default:
		return false
	}
}

// Len returns the number of waiting tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run drains the queue with the given number of workers until ctx ends.
// Handler errors are logged, not propagated: one bad message must not
// stop the workers.
func (q *Queue) Run(ctx context.Context, workers int, handle func(ctx context.Context, id uint) error) error {
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case id := <-q.tasks:
					q.mu.Lock()
					delete(q.pending, id)
					q.mu.Unlock()

					if err := handle(ctx, id); err != nil {
						q.logger.ErrorContext(ctx, "Task handler failed",
							"worker", worker, "message_id", id, "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}
