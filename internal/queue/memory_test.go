package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	if err := q.Enqueue(ctx, map[string]string{"key": "value"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.DequeueWithTimeout(ctx, 1, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}

	var got map[string]string
	if err := json.Unmarshal(items[0], &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got["key"] != "value" {
		t.Errorf("Expected value, got %v", got)
	}
}

func TestMemoryQueue_Batches(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 5
	q := NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, i); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if n, _ := q.Length(ctx); n != 10 {
		t.Errorf("Expected length 10, got %d", n)
	}

	items, err := q.DequeueWithTimeout(ctx, 5, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}

	items, err = q.DequeueWithTimeout(ctx, 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}
}

func TestMemoryQueue_DequeueTimesOut(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	start := time.Now()
	items, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Errorf("Dequeue returned before timeout")
	}
}

func TestMemoryQueue_ContextCancelled(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.DequeueWithTimeout(ctx, 1, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	ctx := context.Background()

	if err := q.Enqueue(ctx, 1); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	q.Close()

	if err := q.Enqueue(ctx, 2); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}

	// Buffered items drain after close.
	items, err := q.DequeueWithTimeout(ctx, 10, 50*time.Millisecond)
	if err != nil || len(items) != 1 {
		t.Fatalf("Expected 1 drained item, got %d (err=%v)", len(items), err)
	}

	if _, err := q.DequeueWithTimeout(ctx, 10, 50*time.Millisecond); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed once drained, got %v", err)
	}
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = q.Enqueue(ctx, i)
			}
		}()
	}
	wg.Wait()

	total := 0
	for {
		items, err := q.DequeueWithTimeout(ctx, 25, 20*time.Millisecond)
		if err != nil {
			t.Fatalf("Dequeue failed: %v", err)
		}
		if len(items) == 0 {
			break
		}
		total += len(items)
	}
	if total != 100 {
		t.Errorf("Expected 100 items, got %d", total)
	}
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()

	ctx := context.Background()

	if err := dlq.Add(ctx, json.RawMessage(`{"n":1}`), errors.New("boom")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := dlq.Add(ctx, json.RawMessage(`{"n":2}`), errors.New("bang")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Error != "boom" || string(items[0].Payload) != `{"n":1}` {
		t.Errorf("Unexpected first item: %+v", items[0])
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := dlq.Remove(ctx, items[0].ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	items, _ = dlq.List(ctx, 1)
	if len(items) != 1 || items[0].Error != "bang" {
		t.Errorf("Unexpected remaining items: %+v", items)
	}
}
