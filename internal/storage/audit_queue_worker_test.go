package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paywall_gateway/internal/models"
	"paywall_gateway/internal/queue"
)

// mockAuditWriter records batches and fails the first maxFails calls.
type mockAuditWriter struct {
	mu        sync.Mutex
	batches   [][]*models.AuditRecord
	calls     int
	failCount int
	maxFails  int
}

func (m *mockAuditWriter) WriteAudit(ctx context.Context, records []*models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failCount < m.maxFails {
		m.failCount++
		return errors.New("simulated write error")
	}
	m.batches = append(m.batches, records)
	return nil
}

func (m *mockAuditWriter) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func (m *mockAuditWriter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testQueueConfig() *queue.Config {
	config := queue.DefaultConfig("audit-test")
	config.BatchSize = 10
	config.BatchTimeout = 20 * time.Millisecond
	config.MaxRetries = 2
	config.RetryBackoff = time.Millisecond
	return config
}

func auditRecord(endpoint string, preview bool) *models.AuditRecord {
	percent := 100
	if preview {
		percent = 30
	}
	return &models.AuditRecord{
		Timestamp:      time.Now(),
		Authenticated:  true,
		Endpoint:       endpoint,
		IsPreview:      preview,
		PreviewPercent: percent,
		OriginalBytes:  100,
		SentBytes:      100,
	}
}

func TestAuditQueueWorker_WritesToEveryWriter(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	db := &mockAuditWriter{}
	archive := &mockAuditWriter{}

	worker := NewAuditQueueWorker(q, dlq, config, db, archive)
	ctx := context.Background()
	worker.Start(ctx)

	for i := 0; i < 25; i++ {
		require.NoError(t, worker.Enqueue(ctx, auditRecord("/api/solve", i%2 == 0)))
	}

	assert.Eventually(t, func() bool {
		return db.recordCount() == 25 && archive.recordCount() == 25
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, worker.Stop())

	items, err := worker.GetDeadLetterItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAuditQueueWorker_RetriesThenSucceeds(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	writer := &mockAuditWriter{maxFails: 2}

	worker := NewAuditQueueWorker(q, dlq, config, writer)
	ctx := context.Background()
	worker.Start(ctx)
	defer worker.Stop()

	require.NoError(t, worker.Enqueue(ctx, auditRecord("/api/solve", true)))

	assert.Eventually(t, func() bool {
		return writer.recordCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, writer.callCount())

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAuditQueueWorker_DeadLettersAfterMaxRetries(t *testing.T) {
	config := testQueueConfig()
	q := queue.NewMemoryQueue(config)
	dlq := queue.NewMemoryDeadLetterQueue()
	writer := &mockAuditWriter{maxFails: 100}

	worker := NewAuditQueueWorker(q, dlq, config, writer)
	ctx := context.Background()
	worker.Start(ctx)

	require.NoError(t, worker.Enqueue(ctx, auditRecord("/api/a", true)))
	require.NoError(t, worker.Enqueue(ctx, auditRecord("/api/b", false)))

	assert.Eventually(t, func() bool {
		items, _ := dlq.List(ctx, 0)
		return len(items) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, worker.Stop())

	items, err := worker.GetDeadLetterItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "simulated write error", items[0].Error)

	// Fix the writer and replay one item.
	writer.mu.Lock()
	writer.maxFails = 0
	writer.mu.Unlock()

	require.NoError(t, worker.RetryDeadLetterItem(ctx, items[0].ID))
	length, err := worker.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, length)

	remaining, _ := dlq.List(ctx, 0)
	assert.Len(t, remaining, 1)

	assert.ErrorIs(t, worker.RetryDeadLetterItem(ctx, "missing"), queue.ErrItemNotFound)
}

func TestAuditQueueWorker_StopDrainsQueue(t *testing.T) {
	config := testQueueConfig()
	config.BatchTimeout = time.Hour
	q := queue.NewMemoryQueue(config)
	writer := &mockAuditWriter{}

	worker := NewAuditQueueWorker(q, nil, config, writer)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		require.NoError(t, q.Enqueue(ctx, auditRecord("/api/solve", false)))
	}

	worker.Start(ctx)
	require.NoError(t, worker.Stop())

	assert.Equal(t, 15, writer.recordCount())
}

func TestAuditQueueWorker_NoDLQConfigured(t *testing.T) {
	worker := NewAuditQueueWorker(queue.NewMemoryQueue(nil), nil, nil)

	_, err := worker.GetDeadLetterItems(context.Background(), 10)
	assert.Error(t, err)
	assert.Error(t, worker.RetryDeadLetterItem(context.Background(), "x"))
}
