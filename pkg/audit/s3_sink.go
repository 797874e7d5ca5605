package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tally/pkg/observability"
)

// DefaultS3Prefix is the object key prefix used by S3Sink
const DefaultS3Prefix = "audits/"

// maxDeleteBatch is the DeleteObjects limit per request
const maxDeleteBatch = 1000

// S3API is the subset of the S3 client used by S3Sink
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Sink writes one object per record under
// {prefix}{type}/{id}/{created_at unix nanos, 19 digits}-{record id}.json,
// so lexical key order is created_at order. Pruning is not transactional:
// concurrent writers converge once every prune has run.
type S3Sink struct {
	client S3API
	bucket string
	opts   sinkOptions
	tracer trace.Tracer
}

// NewS3Sink creates an S3 sink writing to bucket
func NewS3Sink(client S3API, bucket string, opts ...SinkOption) (*S3Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	return &S3Sink{
		client: client,
		bucket: bucket,
		opts:   newSinkOptions(DefaultS3Prefix, opts),
		tracer: observability.Tracer(),
	}, nil
}

func (s *S3Sink) entityPrefix(key EntityKey) string {
	return s.opts.prefix + url.PathEscape(key.Type) + "/" + url.PathEscape(key.ID) + "/"
}

func (s *S3Sink) objectKey(r Record) string {
	return fmt.Sprintf("%s%019d-%s.json", s.entityPrefix(r.Key()), r.createdAt.UnixNano(), r.id)
}

func (s *S3Sink) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("s3.operation", op),
		attribute.String("s3.bucket", s.bucket),
	)
	return s.tracer.Start(ctx, "S3Sink."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Store implements Sink. A single PutObject is atomic.
func (s *S3Sink) Store(ctx context.Context, record Record) (err error) {
	key := s.objectKey(record)
	ctx, span := s.startSpan(ctx, "Store", attribute.String("s3.key", key))
	start := time.Now()
	defer func() {
		s.opts.observe("store", DriverS3, start, err)
		endSpan(span, err)
	}()

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	span.SetAttributes(attribute.Int("content.size", len(body)))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"event":          string(record.event),
			"auditable-type": record.auditableType,
			"auditable-id":   record.auditableID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload audit record: %w", err)
	}
	return nil
}

// listKeys returns every object key under prefix in lexical order
func (s *S3Sink) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list audit objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Sink) deleteKeys(ctx context.Context, keys []string) (int64, error) {
	var deleted int64
	for len(keys) > 0 {
		n := len(keys)
		if n > maxDeleteBatch {
			n = maxDeleteBatch
		}
		batch := keys[:n]
		keys = keys[n:]

		ids := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete audit objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return deleted + int64(len(batch)-len(out.Errors)),
				fmt.Errorf("failed to delete %d audit objects, first %s: %s",
					len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
		deleted += int64(len(batch))
	}
	return deleted, nil
}

// Prune implements Pruner
func (s *S3Sink) Prune(ctx context.Context, key EntityKey, keep int) (deleted int64, err error) {
	ctx, span := s.startSpan(ctx, "Prune", attribute.String("audit.entity", key.String()))
	start := time.Now()
	defer func() {
		s.opts.observe("prune", DriverS3, start, err)
		endSpan(span, err)
	}()

	keys, err := s.listKeys(ctx, s.entityPrefix(key))
	if err != nil {
		return 0, err
	}
	excess := len(keys) - keep
	if excess <= 0 {
		return 0, nil
	}
	return s.deleteKeys(ctx, keys[:excess])
}

// List implements Querier
func (s *S3Sink) List(ctx context.Context, key EntityKey) (records []Record, err error) {
	ctx, span := s.startSpan(ctx, "List", attribute.String("audit.entity", key.String()))
	start := time.Now()
	defer func() {
		s.opts.observe("list", DriverS3, start, err)
		endSpan(span, err)
	}()

	keys, err := s.listKeys(ctx, s.entityPrefix(key))
	if err != nil {
		return nil, err
	}

	records = make([]Record, 0, len(keys))
	for _, k := range keys {
		r, err := s.get(ctx, k)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (s *S3Sink) get(ctx context.Context, key string) (Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to get audit object %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read audit object %s: %w", key, err)
	}
	var r Record
	if err := json.Unmarshal(body, &r); err != nil {
		return Record{}, fmt.Errorf("failed to decode audit object %s: %w", key, err)
	}
	return r, nil
}

// PurgeBefore implements Expirer using the timestamp embedded in each key
func (s *S3Sink) PurgeBefore(ctx context.Context, cutoff time.Time) (deleted int64, err error) {
	ctx, span := s.startSpan(ctx, "PurgeBefore")
	start := time.Now()
	defer func() {
		s.opts.observe("purge", DriverS3, start, err)
		endSpan(span, err)
	}()

	keys, err := s.listKeys(ctx, s.opts.prefix)
	if err != nil {
		return 0, err
	}

	limit := cutoff.UnixNano()
	var expired []string
	for _, k := range keys {
		ts, ok := objectTimestamp(k)
		if ok && ts < limit {
			expired = append(expired, k)
		}
	}
	return s.deleteKeys(ctx, expired)
}

// objectTimestamp extracts the created_at nanos from an object key
func objectTimestamp(key string) (int64, bool) {
	base := path.Base(key)
	i := strings.IndexByte(base, '-')
	if i <= 0 {
		return 0, false
	}
	ts, err := strconv.ParseInt(base[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
