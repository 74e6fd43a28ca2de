// Package logging carries paywall audit records from the decision engine to
// their sinks: the process log, rotating JSON Lines files, the audit queue
// and the S3 archive.
package logging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paywall_gateway/internal/models"
	"paywall_gateway/internal/queue"
	"paywall_gateway/internal/utils"
)

// Sink receives audit records. Enqueue must be safe for concurrent use and
// must not block the request path for long.
type Sink interface {
	Enqueue(rec *models.AuditRecord) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards audit records.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *models.AuditRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}

// LogSink writes one PAYWALL AUDIT line per record to a logger.
type LogSink struct {
	logger *utils.Logger
}

func NewLogSink(logger *utils.Logger) *LogSink {
	if logger == nil {
		logger = utils.NewLogger("paywall-audit")
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Enqueue(rec *models.AuditRecord) error {
	if rec == nil {
		return nil
	}

	requester := "anonymous"
	if rec.Authenticated {
		requester = "authenticated"
	}

	s.logger.Info("PAYWALL AUDIT",
		"user", requester,
		"endpoint", rec.Endpoint,
		"isPreview", rec.IsPreview,
		"percent", rec.PreviewPercent,
		"originalBytes", rec.OriginalBytes,
		"sentBytes", rec.SentBytes,
		"reason", fmt.Sprintf("%q", rec.Reason),
	)
	return nil
}

func (s *LogSink) Shutdown(ctx context.Context) error {
	return nil
}

// QueueSink hands records to the audit queue, where an AuditQueueWorker
// batches them into durable storage. A full queue is given enqueueTimeout
// before the record is dropped.
type QueueSink struct {
	queue          queue.Queue
	enqueueTimeout time.Duration
}

func NewQueueSink(q queue.Queue, enqueueTimeout time.Duration) *QueueSink {
	if enqueueTimeout <= 0 {
		enqueueTimeout = 100 * time.Millisecond
	}
	return &QueueSink{queue: q, enqueueTimeout: enqueueTimeout}
}

func (s *QueueSink) Enqueue(rec *models.AuditRecord) error {
	if rec == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.enqueueTimeout)
	defer cancel()

	if err := s.queue.Enqueue(ctx, rec); err != nil {
		return fmt.Errorf("failed to enqueue audit record: %w", err)
	}
	return nil
}

// Shutdown is a no-op; the queue is owned and closed by its worker.
func (s *QueueSink) Shutdown(ctx context.Context) error {
	return nil
}

// MultiSink fans records out to several sinks. Every sink is attempted;
// errors are joined.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Enqueue(rec *models.AuditRecord) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Enqueue(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *MultiSink) Shutdown(ctx context.Context) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
