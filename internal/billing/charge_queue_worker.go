package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paywall_gateway/internal/metrics"
	"paywall_gateway/internal/queue"
	"paywall_gateway/internal/utils"
)

// ChargeRequest is one debit owed for content delivered in full.
type ChargeRequest struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Credits   int64     `json:"credits"`
	Endpoint  string    `json:"endpoint"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChargeRequest stamps a charge with an id and the current time.
func NewChargeRequest(userID string, credits int64, endpoint string) *ChargeRequest {
	return &ChargeRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		Credits:   credits,
		Endpoint:  endpoint,
		Timestamp: time.Now().UTC(),
	}
}

// ChargeQueueWorker applies queued charges to a Service with retries.
// Permanent failures skip the retries and go straight to the DLQ.
type ChargeQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	service     Service
	metrics     metrics.Metrics
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

func NewChargeQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, service Service, m metrics.Metrics, config *queue.Config) *ChargeQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("charges")
	}
	if m == nil {
		m = metrics.NewNoopMetrics()
	}

	return &ChargeQueueWorker{
		queue:       q,
		dlq:         dlq,
		service:     service,
		metrics:     m,
		config:      config,
		logger:      utils.NewLogger("charge-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *ChargeQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop drains the queue and stops the worker
func (w *ChargeQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds a charge to the queue
func (w *ChargeQueueWorker) Enqueue(ctx context.Context, req *ChargeRequest) error {
	if req == nil || req.Credits <= 0 {
		return nil
	}
	return w.queue.Enqueue(ctx, req)
}

func (w *ChargeQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

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
			w.logger.Info("Charge worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("Charge worker context cancelled")
			return
		default:
			w.processBatch(ctx, dequeueCtx, w.config.BatchTimeout)
		}
	}
}

// drain applies whatever is still queued when the worker is stopped.
func (w *ChargeQueueWorker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		if w.processBatch(ctx, ctx, 10*time.Millisecond) == 0 {
			return
		}
	}
}

func (w *ChargeQueueWorker) processBatch(ctx, dequeueCtx context.Context, timeout time.Duration) int {
	items, err := w.queue.DequeueWithTimeout(dequeueCtx, w.config.BatchSize, timeout)
	if err != nil {
		if dequeueCtx.Err() != nil {
			return 0
		}
		if !errors.Is(err, queue.ErrQueueClosed) {
			w.logger.Error("Failed to dequeue charges", "error", err)
		}
		w.sleep(ctx, time.Second)
		return 0
	}

	if len(items) == 0 {
		return 0
	}

	w.logger.Debug("Processing charge batch", "count", len(items))

	for _, item := range items {
		var req ChargeRequest
		if err := queue.Decode(item, &req); err != nil {
			w.logger.Error("Failed to decode charge", "error", err)
			continue
		}
		if err := w.processItem(ctx, &req); err != nil {
			w.logger.Error("Failed to apply charge", "id", req.ID, "error", err)
		}
	}
	return len(items)
}

func (w *ChargeQueueWorker) processItem(ctx context.Context, req *ChargeRequest) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.Backoff(attempt)
			w.logger.Debug("Retrying charge", "id", req.ID, "attempt", attempt, "backoff", backoff)
			if !w.sleep(ctx, backoff) {
				break
			}
		}

		err := w.service.Charge(ctx, req.UserID, req.Credits)
		if err == nil {
			w.metrics.ObserveCharge(req.Credits)
			w.logger.Debug("Charge applied", "id", req.ID, "user", req.UserID, "credits", req.Credits)
			return nil
		}

		lastErr = err
		if IsPermanent(err) {
			w.logger.Warn("Charge cannot succeed", "id", req.ID, "user", req.UserID, "error", err)
			break
		}
		w.logger.Warn("Failed to apply charge", "id", req.ID, "attempt", attempt, "error", err)
	}

	if w.dlq != nil {
		dlqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.dlq.Add(dlqCtx, req, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Charge moved to DLQ", "id", req.ID, "user", req.UserID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

func (w *ChargeQueueWorker) sleep(ctx context.Context, d time.Duration) bool {
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
func (w *ChargeQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *ChargeQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem moves one dead-lettered charge back onto the queue
func (w *ChargeQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
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
