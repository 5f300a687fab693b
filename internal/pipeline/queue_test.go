package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueueDeduplicatesWaitingIDs(t *testing.T) {
	t.Parallel()

	q := NewQueue(10, nil)

	if !q.Enqueue(1) {
		t.Fatal("Enqueue(1) = false, want true")
	}
	if !q.Enqueue(1) {
		t.Error("Enqueue(1) again = false, want true (already waiting)")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after duplicate enqueue", q.Len())
	}
}

func TestQueueRejectsWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(2, nil)

	if !q.Enqueue(1) || !q.Enqueue(2) {
		t.Fatal("Enqueue() rejected with capacity available")
	}
	if q.Enqueue(3) {
		t.Error("Enqueue(3) = true, want false when full")
	}
}

func TestQueueRunProcessesTasks(t *testing.T) {
	t.Parallel()

	q := NewQueue(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := make(map[uint]int)
	done := make(chan struct{})

	go func() {
		_ = q.Run(ctx, 3, func(_ context.Context, id uint) error {
			mu.Lock()
			seen[id]++
			if len(seen) == 5 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	for id := uint(1); id <= 5; id++ {
		if !q.Enqueue(id) {
			t.Fatalf("Enqueue(%d) = false", id)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tasks to be processed")
	}

	mu.Lock()
	defer mu.Unlock()
	for id := uint(1); id <= 5; id++ {
		if seen[id] != 1 {
			t.Errorf("task %d processed %d times, want 1", id, seen[id])
		}
	}
}

func TestQueueReenqueueAfterDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	go func() {
		_ = q.Run(ctx, 1, func(_ context.Context, id uint) error {
			once.Do(func() {
				close(started)
				<-release
			})
			return nil
		})
	}()

	if !q.Enqueue(1) {
		t.Fatal("Enqueue(1) = false")
	}
	<-started

	// The ID was dequeued, so it can be enqueued again while its first
	// run is still in flight.
	if !q.Enqueue(1) {
		t.Error("Enqueue(1) during processing = false, want true")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	close(release)
}
