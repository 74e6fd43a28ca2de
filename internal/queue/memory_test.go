package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	if err := q.Enqueue(ctx, "audit-1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.Dequeue(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].(string) != "audit-1" {
		t.Errorf("Expected audit-1, got %v", items[0])
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

	items, err := q.Dequeue(ctx, 5)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}
	if items[0].(int) != 0 || items[4].(int) != 4 {
		t.Errorf("Expected FIFO order, got %v", items)
	}

	items, err = q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	start := time.Now()
	items, err := q.DequeueWithTimeout(ctx, 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected 0 items, got %d", len(items))
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Errorf("Returned before timeout elapsed")
	}

	if err := q.Enqueue(ctx, "late"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	items, err = q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 item, got %d", len(items))
	}
}

func TestMemoryQueue_ContextCancel(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	ctx := context.Background()
	if err := q.Enqueue(ctx, 1); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue on closed queue: expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Dequeue(ctx, 1); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Dequeue on closed queue: expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Length(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Length on closed queue: expected ErrQueueClosed, got %v", err)
	}
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 100
	q := NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := q.Enqueue(ctx, i); err != nil {
					t.Errorf("Enqueue failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 200 {
		t.Errorf("Expected 200 items, got %d", length)
	}
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()

	ctx := context.Background()

	if err := dlq.Add(ctx, "charge-1", errors.New("ledger down")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := dlq.Add(ctx, "charge-2", errors.New("ledger down")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Error != "ledger down" {
		t.Errorf("Expected error message to be kept, got %q", items[0].Error)
	}
	if items[0].ID == items[1].ID {
		t.Errorf("Expected distinct ids")
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := dlq.Remove(ctx, "missing"); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	items, _ = dlq.List(ctx, 10)
	if len(items) != 1 || items[0].Item != "charge-2" {
		t.Errorf("Expected only charge-2 to remain, got %v", items)
	}
}

func TestConfigBackoff(t *testing.T) {
	config := DefaultConfig("test")
	config.RetryBackoff = 10 * time.Millisecond

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := config.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDecode(t *testing.T) {
	type charge struct {
		UserID  string `json:"user_id"`
		Credits int64  `json:"credits"`
	}

	inputs := map[string]interface{}{
		"raw":    []byte(`{"user_id":"u1","credits":3}`),
		"string": `{"user_id":"u1","credits":3}`,
		"struct": charge{UserID: "u1", Credits: 3},
		"ptr":    &charge{UserID: "u1", Credits: 3},
	}

	for name, item := range inputs {
		t.Run(name, func(t *testing.T) {
			var got charge
			if err := Decode(item, &got); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got.UserID != "u1" || got.Credits != 3 {
				t.Errorf("Decode = %+v", got)
			}
		})
	}

	var got charge
	if err := Decode([]byte("not json"), &got); err == nil {
		t.Errorf("Expected error for malformed item")
	}
}
