package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paywall_gateway/internal/models"
	"paywall_gateway/internal/queue"
	"paywall_gateway/internal/utils"
)

// AuditWriter is a durable destination for audit batches.
// AuditRepository and logging.S3Writer both satisfy it.
type AuditWriter interface {
	WriteAudit(ctx context.Context, records []*models.AuditRecord) error
}

// AuditQueueWorker drains the audit queue in batches and hands every batch
// to each writer, retrying with exponential backoff. Records a writer
// cannot accept after MaxRetries go to the dead letter queue.
type AuditQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	writers     []AuditWriter
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

func NewAuditQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, config *queue.Config, writers ...AuditWriter) *AuditQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("audit")
	}

	return &AuditQueueWorker{
		queue:       q,
		dlq:         dlq,
		writers:     writers,
		config:      config,
		logger:      utils.NewLogger("audit-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *AuditQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop finishes the batch in flight and stops the worker
func (w *AuditQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds an audit record to the queue
func (w *AuditQueueWorker) Enqueue(ctx context.Context, record *models.AuditRecord) error {
	return w.queue.Enqueue(ctx, record)
}

func (w *AuditQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	// dequeueCtx ends a blocked dequeue as soon as Stop is called; writes
	// keep using ctx so an in-flight batch can finish.
	dequeueCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-dequeueCtx.Done():
		}
	}()

	for {
		select {
		case <-w.stopChan:
			w.drain(ctx)
			w.logger.Info("Audit worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Audit worker context cancelled")
			return
		default:
			w.processBatch(ctx, dequeueCtx, w.config.BatchTimeout)
		}
	}
}

// drain flushes whatever is still queued when the worker is stopped.
func (w *AuditQueueWorker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if w.processBatch(ctx, ctx, 10*time.Millisecond) == 0 {
			return
		}
	}
}

// processBatch handles one batch and returns how many items it dequeued.
func (w *AuditQueueWorker) processBatch(ctx, dequeueCtx context.Context, timeout time.Duration) int {
	items, err := w.queue.DequeueWithTimeout(dequeueCtx, w.config.BatchSize, timeout)
	if err != nil {
		if dequeueCtx.Err() != nil {
			return 0
		}
		if errors.Is(err, queue.ErrQueueClosed) {
			w.sleep(ctx, 100*time.Millisecond)
			return 0
		}
		w.logger.Error("Failed to dequeue audit records", "error", err)
		w.sleep(ctx, time.Second)
		return 0
	}

	if len(items) == 0 {
		return 0
	}

	records := make([]*models.AuditRecord, 0, len(items))
	for _, item := range items {
		var record models.AuditRecord
		if err := queue.Decode(item, &record); err != nil {
			w.logger.Error("Failed to decode audit record", "error", err)
			continue
		}
		records = append(records, &record)
	}

	if len(records) == 0 {
		return len(items)
	}

	w.logger.Debug("Processing audit batch", "count", len(records))

	for i, writer := range w.writers {
		if err := w.writeWithRetry(ctx, writer, records); err != nil {
			w.logger.Error("Audit writer failed", "writer", i, "count", len(records), "error", err)
		}
	}
	return len(items)
}

// writeWithRetry writes a batch to one writer, dead-lettering the batch
// once retries are exhausted.
func (w *AuditQueueWorker) writeWithRetry(ctx context.Context, writer AuditWriter, records []*models.AuditRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.Backoff(attempt)
			w.logger.Debug("Retrying audit batch", "attempt", attempt, "backoff", backoff)
			if !w.sleep(ctx, backoff) {
				break
			}
		}

		if err := writer.WriteAudit(ctx, records); err != nil {
			lastErr = err
			w.logger.Warn("Failed to write audit batch", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	if w.dlq != nil {
		// The request context may already be gone; the DLQ write must not be.
		dlqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, record := range records {
			if err := w.dlq.Add(dlqCtx, record, lastErr); err != nil {
				w.logger.Error("Failed to add to dead letter queue", "error", err)
			}
		}
		w.logger.Warn("Audit batch moved to DLQ", "count", len(records), "error", lastErr)
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// sleep waits for d or until ctx is done or the worker stops. It reports
// whether the full duration elapsed.
func (w *AuditQueueWorker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	}
}

// GetQueueLength returns the current queue length
func (w *AuditQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *AuditQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem moves one dead-lettered record back onto the queue
func (w *AuditQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
