package logging

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paywall_gateway/internal/models"
)

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Writer_ObjectKey(t *testing.T) {
	w := NewS3WriterWithClient(&fakeS3{}, "bucket", "audit", "gateway-0")
	ts := time.Date(2025, 11, 30, 14, 30, 22, 123456789, time.UTC)

	assert.Equal(t, "audit/2025/11/30/gateway-0-20251130-143022-123456789.jsonl", w.ObjectKey(ts))
}

func TestS3Writer_WriteBatch(t *testing.T) {
	client := &fakeS3{}
	w := NewS3WriterWithClient(client, "audit-bucket", "audit/", "")
	w.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC) }

	records := []*models.AuditRecord{previewRecord(), nil, previewRecord()}
	key, err := w.WriteBatch(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, "audit/2025/01/02/gateway-20250102-030405-000000006.jsonl", key)
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "audit-bucket", aws.ToString(client.inputs[0].Bucket))
	assert.Equal(t, "application/x-ndjson", aws.ToString(client.inputs[0].ContentType))

	scanner := bufio.NewScanner(bytes.NewReader(client.bodies[0]))
	lines := 0
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestS3Writer_EmptyBatch(t *testing.T) {
	client := &fakeS3{}
	w := NewS3WriterWithClient(client, "bucket", "audit", "pod")

	require.NoError(t, w.WriteAudit(context.Background(), nil))
	assert.Empty(t, client.inputs)
}

func TestS3Writer_UploadError(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	w := NewS3WriterWithClient(client, "bucket", "audit", "pod")

	err := w.WriteAudit(context.Background(), []*models.AuditRecord{previewRecord()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
