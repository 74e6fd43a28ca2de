package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paywall_gateway/internal/models"
	"paywall_gateway/internal/queue"
	"paywall_gateway/internal/utils"
)

func previewRecord() *models.AuditRecord {
	return &models.AuditRecord{
		Timestamp:      time.Now(),
		Authenticated:  false,
		Endpoint:       "/api/solve",
		IsPreview:      true,
		PreviewPercent: 30,
		OriginalBytes:  1000,
		SentBytes:      420,
		Reason:         "No user authentication",
	}
}

type failingSink struct {
	calls int
}

func (s *failingSink) Enqueue(rec *models.AuditRecord) error {
	s.calls++
	return errors.New("sink down")
}

func (s *failingSink) Shutdown(ctx context.Context) error {
	return errors.New("shutdown failed")
}

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()
	assert.NoError(t, sink.Enqueue(previewRecord()))
	assert.NoError(t, sink.Shutdown(context.Background()))
}

func TestLogSink_WritesAuditLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(utils.NewLoggerWithWriter(&buf, "paywall-audit", utils.Info))

	require.NoError(t, sink.Enqueue(previewRecord()))

	line := buf.String()
	assert.Contains(t, line, "PAYWALL AUDIT")
	assert.Contains(t, line, "user=anonymous")
	assert.Contains(t, line, "endpoint=/api/solve")
	assert.Contains(t, line, "isPreview=true")
	assert.Contains(t, line, "percent=30")
	assert.Contains(t, line, "originalBytes=1000")
	assert.Contains(t, line, "sentBytes=420")
	assert.Contains(t, line, `reason="No user authentication"`)
}

func TestLogSink_Authenticated(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(utils.NewLoggerWithWriter(&buf, "paywall-audit", utils.Info))

	rec := previewRecord()
	rec.Authenticated = true
	require.NoError(t, sink.Enqueue(rec))
	assert.Contains(t, buf.String(), "user=authenticated")

	buf.Reset()
	require.NoError(t, sink.Enqueue(nil))
	assert.Empty(t, buf.String())
}

func TestQueueSink(t *testing.T) {
	q := queue.NewMemoryQueue(queue.DefaultConfig("audit"))
	defer q.Close()

	sink := NewQueueSink(q, 0)
	require.NoError(t, sink.Enqueue(previewRecord()))

	items, err := q.Dequeue(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var got models.AuditRecord
	require.NoError(t, queue.Decode(items[0], &got))
	assert.Equal(t, "/api/solve", got.Endpoint)
	assert.True(t, got.IsPreview)
}

func TestQueueSink_ClosedQueue(t *testing.T) {
	q := queue.NewMemoryQueue(queue.DefaultConfig("audit"))
	require.NoError(t, q.Close())

	sink := NewQueueSink(q, 10*time.Millisecond)
	err := sink.Enqueue(previewRecord())
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}

func TestMultiSink_AttemptsEverySink(t *testing.T) {
	var buf bytes.Buffer
	failing := &failingSink{}
	logSink := NewLogSink(utils.NewLoggerWithWriter(&buf, "paywall-audit", utils.Info))

	multi := NewMultiSink(failing, logSink)
	err := multi.Enqueue(previewRecord())

	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Contains(t, buf.String(), "PAYWALL AUDIT")
	assert.Error(t, multi.Shutdown(context.Background()))
}
