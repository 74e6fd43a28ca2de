package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"paywall_gateway/internal/models"
	"paywall_gateway/internal/utils"
)

// PutObjectAPI is the subset of the S3 client the writer needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer archives batches of audit records to S3 as JSON Lines objects.
// It satisfies storage.AuditWriter.
type S3Writer struct {
	client  PutObjectAPI
	bucket  string
	prefix  string
	podName string
	now     func() time.Time
	logger  *utils.Logger
}

// NewS3Writer builds a writer from the default AWS credential chain.
func NewS3Writer(ctx context.Context, bucket, region, prefix, podName string) (*S3Writer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3WriterWithClient(s3.NewFromConfig(cfg), bucket, prefix, podName), nil
}

func NewS3WriterWithClient(client PutObjectAPI, bucket, prefix, podName string) *S3Writer {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if podName == "" {
		podName = "gateway"
	}
	return &S3Writer{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		podName: podName,
		now:     time.Now,
		logger:  utils.NewLogger("s3-audit"),
	}
}

// ObjectKey returns the key for a batch written at t, e.g.
// audit/2025/11/30/gateway-0-20251130-143022-123456789.jsonl
func (w *S3Writer) ObjectKey(t time.Time) string {
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%09d.jsonl",
		w.prefix,
		t.Year(),
		t.Month(),
		t.Day(),
		w.podName,
		t.Format("20060102-150405"),
		t.Nanosecond(),
	)
}

// WriteAudit uploads one object per batch.
func (w *S3Writer) WriteAudit(ctx context.Context, records []*models.AuditRecord) error {
	_, err := w.WriteBatch(ctx, records)
	return err
}

// WriteBatch uploads records and returns the object key. An empty batch
// writes nothing and returns an empty key.
func (w *S3Writer) WriteBatch(ctx context.Context, records []*models.AuditRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if record == nil {
			continue
		}
		if err := encoder.Encode(record); err != nil {
			w.logger.Error("Failed to encode audit record", "error", err)
			continue
		}
	}

	key := w.ObjectKey(w.now().UTC())
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Debug("Wrote audit batch to S3", "key", key, "count", len(records), "bytes", buf.Len())
	return key, nil
}
