package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	mr, client := setupRedis(t)

	q, err := NewRedisQueue(client, DefaultConfig("audit"))
	if err != nil {
		t.Fatalf("NewRedisQueue failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, map[string]int{"n": i}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if !mr.Exists("paywall:queue:audit") {
		t.Fatalf("Expected list key paywall:queue:audit")
	}

	length, err := q.Length(ctx)
	if err != nil || length != 3 {
		t.Fatalf("Length = %d, %v; want 3", length, err)
	}

	items, err := q.Dequeue(ctx, 2)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}

	raw, ok := items[0].(json.RawMessage)
	if !ok {
		t.Fatalf("Expected json.RawMessage, got %T", items[0])
	}
	var first map[string]int
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if first["n"] != 0 {
		t.Errorf("Expected FIFO order, got %v", first)
	}

	items, err = q.DequeueWithTimeout(ctx, 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 remaining item, got %d", len(items))
	}
}

func TestRedisQueue_DequeueWithTimeoutEmpty(t *testing.T) {
	_, client := setupRedis(t)

	q, err := NewRedisQueue(client, DefaultConfig("empty"))
	if err != nil {
		t.Fatalf("NewRedisQueue failed: %v", err)
	}

	items, err := q.DequeueWithTimeout(context.Background(), 10, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected 0 items, got %d", len(items))
	}
}

func TestRedisQueue_RequiresClientAndConfig(t *testing.T) {
	_, client := setupRedis(t)

	if _, err := NewRedisQueue(nil, DefaultConfig("x")); err == nil {
		t.Errorf("Expected error without client")
	}
	if _, err := NewRedisQueue(client, nil); err == nil {
		t.Errorf("Expected error without config")
	}
	if _, err := NewRedisDeadLetterQueue(nil, DefaultConfig("x")); err == nil {
		t.Errorf("Expected error without client")
	}
}

func TestRedisDeadLetterQueue(t *testing.T) {
	mr, client := setupRedis(t)

	dlq, err := NewRedisDeadLetterQueue(client, DefaultConfig("charges"))
	if err != nil {
		t.Fatalf("NewRedisDeadLetterQueue failed: %v", err)
	}

	ctx := context.Background()
	if err := dlq.Add(ctx, map[string]string{"user_id": "u1"}, errors.New("ledger down")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := dlq.Add(ctx, map[string]string{"user_id": "u2"}, errors.New("timeout")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if !mr.Exists("paywall:dlq:charges") {
		t.Fatalf("Expected hash key paywall:dlq:charges")
	}

	items, err := dlq.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Error != "ledger down" || items[1].Error != "timeout" {
		t.Errorf("Expected oldest first, got %q then %q", items[0].Error, items[1].Error)
	}

	limited, err := dlq.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("List(1) = %d items, %v", len(limited), err)
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := dlq.Remove(ctx, items[0].ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}
