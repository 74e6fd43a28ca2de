package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"paywall_gateway/internal/metrics"
	"paywall_gateway/internal/queue"
	"paywall_gateway/internal/storage"
)

// mockChargeService records charges per user and can fail on demand.
type mockChargeService struct {
	mu        sync.Mutex
	charged   map[string]int64
	calls     int
	failCount int
	maxFails  int
	err       error
}

func newMockChargeService() *mockChargeService {
	return &mockChargeService{charged: make(map[string]int64)}
}

func (m *mockChargeService) Charge(ctx context.Context, userID string, credits int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return m.err
	}
	if m.failCount < m.maxFails {
		m.failCount++
		return errors.New("ledger unavailable")
	}
	m.charged[userID] += credits
	return nil
}

func (m *mockChargeService) getCharged(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charged[userID]
}

func (m *mockChargeService) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testConfig(name string) *queue.Config {
	config := queue.DefaultConfig(name)
	config.BatchSize = 5
	config.BatchTimeout = 20 * time.Millisecond
	config.MaxRetries = 2
	config.RetryBackoff = time.Millisecond
	return config
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestChargeQueueWorker_ProcessesCharges(t *testing.T) {
	config := testConfig("test-charges")
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	service := newMockChargeService()
	m := metrics.NewPrometheusMetrics("test")

	worker := NewChargeQueueWorker(q, dlq, service, m, config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	users := []string{"u1", "u2", "u3"}
	for _, user := range users {
		for i := 0; i < 4; i++ {
			if err := worker.Enqueue(ctx, NewChargeRequest(user, 2, "/api/solve")); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
		}
	}

	waitFor(t, func() bool {
		return service.getCharged("u1") == 8 && service.getCharged("u2") == 8 && service.getCharged("u3") == 8
	})

	if got := testutil.ToFloat64(m.CreditsCharged()); got != 24 {
		t.Errorf("Expected 24 credits observed, got %v", got)
	}
}

func TestChargeQueueWorker_SkipsEmptyCharges(t *testing.T) {
	config := testConfig("test-empty")
	q := queue.NewMemoryQueue(config)
	worker := NewChargeQueueWorker(q, nil, newMockChargeService(), nil, config)

	ctx := context.Background()
	if err := worker.Enqueue(ctx, nil); err != nil {
		t.Fatalf("Enqueue(nil) failed: %v", err)
	}
	if err := worker.Enqueue(ctx, NewChargeRequest("u1", 0, "/api")); err != nil {
		t.Fatalf("Enqueue(0 credits) failed: %v", err)
	}

	length, err := worker.GetQueueLength(ctx)
	if err != nil {
		t.Fatalf("GetQueueLength failed: %v", err)
	}
	if length != 0 {
		t.Errorf("Expected empty queue, got %d", length)
	}
}

func TestChargeQueueWorker_RetryThenSucceed(t *testing.T) {
	config := testConfig("test-retry")
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	service := newMockChargeService()
	service.maxFails = 2

	worker := NewChargeQueueWorker(q, dlq, service, nil, config)
	ctx := context.Background()
	worker.Start(ctx)
	defer worker.Stop()

	if err := worker.Enqueue(ctx, NewChargeRequest("u1", 5, "/api/solve")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, func() bool { return service.getCharged("u1") == 5 })

	if calls := service.getCalls(); calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	items, _ := dlq.List(ctx, 0)
	if len(items) != 0 {
		t.Errorf("Expected empty DLQ, got %d items", len(items))
	}
}

func TestChargeQueueWorker_TransientFailureGoesToDLQ(t *testing.T) {
	config := testConfig("test-dlq")
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	service := newMockChargeService()
	service.maxFails = 100

	worker := NewChargeQueueWorker(q, dlq, service, nil, config)
	ctx := context.Background()
	worker.Start(ctx)

	if err := worker.Enqueue(ctx, NewChargeRequest("u1", 5, "/api/solve")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, func() bool {
		items, _ := dlq.List(ctx, 0)
		return len(items) == 1
	})
	worker.Stop()

	if calls := service.getCalls(); calls != config.MaxRetries+1 {
		t.Errorf("Expected %d attempts, got %d", config.MaxRetries+1, calls)
	}

	items, err := worker.GetDeadLetterItems(ctx, 0)
	if err != nil {
		t.Fatalf("GetDeadLetterItems failed: %v", err)
	}
	if items[0].Error != "ledger unavailable" {
		t.Errorf("Unexpected DLQ error: %q", items[0].Error)
	}

	if err := worker.RetryDeadLetterItem(ctx, items[0].ID); err != nil {
		t.Fatalf("RetryDeadLetterItem failed: %v", err)
	}
	if length, _ := worker.GetQueueLength(ctx); length != 1 {
		t.Errorf("Expected requeued charge, queue length %d", length)
	}
	if err := worker.RetryDeadLetterItem(ctx, "missing"); !errors.Is(err, queue.ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
}

func TestChargeQueueWorker_PermanentFailureSkipsRetries(t *testing.T) {
	config := testConfig("test-permanent")
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	service := newMockChargeService()
	service.err = storage.ErrInsufficientCredits

	worker := NewChargeQueueWorker(q, dlq, service, nil, config)
	ctx := context.Background()
	worker.Start(ctx)
	defer worker.Stop()

	if err := worker.Enqueue(ctx, NewChargeRequest("u1", 5, "/api/solve")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, func() bool {
		items, _ := dlq.List(ctx, 0)
		return len(items) == 1
	})

	if calls := service.getCalls(); calls != 1 {
		t.Errorf("Expected a single attempt, got %d", calls)
	}
}

func TestChargeQueueWorker_StopDrains(t *testing.T) {
	config := testConfig("test-drain")
	config.BatchTimeout = time.Hour
	q := queue.NewMemoryQueue(config)
	service := newMockChargeService()

	worker := NewChargeQueueWorker(q, nil, service, nil, config)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if err := worker.Enqueue(ctx, NewChargeRequest("u1", 1, "/api/solve")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	worker.Start(ctx)
	worker.Stop()

	if got := service.getCharged("u1"); got != 12 {
		t.Errorf("Expected 12 credits charged after drain, got %d", got)
	}
}
