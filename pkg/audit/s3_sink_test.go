package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory S3API with paginated listing
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	pageSize int
	putErr   error
	deletes  int
}

func newFakeS3(pageSize int) *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
		pageSize: pageSize,
	}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	f.metadata[aws.ToString(in.Key)] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	offset := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		offset, _ = strconv.Atoi(token)
	}
	end := len(keys)
	if f.pageSize > 0 && offset+f.pageSize < end {
		end = offset + f.pageSize
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[offset:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestNewS3Sink_Validation(t *testing.T) {
	_, err := NewS3Sink(nil, "bucket")
	assert.Error(t, err)

	_, err = NewS3Sink(newFakeS3(0), "")
	assert.Error(t, err)
}

func TestS3Sink_StoreAndList(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3(2)
	sink, err := NewS3Sink(client, "audit-bucket")
	require.NoError(t, err)

	key := EntityKey{Type: "Article", ID: "a/1"}
	r1 := testRecord(key, EventCreated, 0)
	r2 := testRecord(key, EventUpdated, time.Second)
	r3 := testRecord(key, EventDeleted, 2*time.Second)
	for _, r := range []Record{r3, r1, r2} {
		require.NoError(t, sink.Store(ctx, r))
	}

	keys := client.keys()
	require.Len(t, keys, 3)
	assert.True(t, strings.HasPrefix(keys[0], "audits/Article/a%2F1/"))
	assert.True(t, strings.HasSuffix(keys[0], r1.ID().String()+".json"))
	assert.Equal(t, "created", client.metadata[keys[0]]["event"])

	records, err := sink.List(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, r1.ID(), records[0].ID())
	assert.Equal(t, r2.ID(), records[1].ID())
	assert.Equal(t, r3.ID(), records[2].ID())
}

func TestS3Sink_Prune(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3(2)
	sink, err := NewS3Sink(client, "audit-bucket", WithPrefix("tenant-a/"))
	require.NoError(t, err)

	key := EntityKey{Type: "Article", ID: "1"}
	var last Record
	for i := 0; i < 5; i++ {
		last = testRecord(key, EventUpdated, time.Duration(i)*time.Second)
		require.NoError(t, sink.Store(ctx, last))
	}
	require.NoError(t, sink.Store(ctx, testRecord(EntityKey{Type: "Article", ID: "2"}, EventCreated, 0)))

	deleted, err := sink.Prune(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	records, err := sink.List(ctx, key)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, last.ID(), records[0].ID())
	assert.Len(t, client.keys(), 2)

	deleted, err = sink.Prune(ctx, key, 1)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestS3Sink_PurgeBefore(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3(0)
	sink, err := NewS3Sink(client, "audit-bucket")
	require.NoError(t, err)

	require.NoError(t, sink.Store(ctx, testRecord(EntityKey{Type: "Article", ID: "1"}, EventCreated, 0)))
	require.NoError(t, sink.Store(ctx, testRecord(EntityKey{Type: "Comment", ID: "1"}, EventCreated, time.Minute)))
	require.NoError(t, sink.Store(ctx, testRecord(EntityKey{Type: "Article", ID: "1"}, EventUpdated, 2*time.Hour)))

	deleted, err := sink.PurgeBefore(ctx, testBaseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Len(t, client.keys(), 1)
	assert.Equal(t, 1, client.deletes)
}

func TestS3Sink_StoreError(t *testing.T) {
	client := newFakeS3(0)
	client.putErr = errors.New("access denied")
	sink, err := NewS3Sink(client, "audit-bucket")
	require.NoError(t, err)

	err = sink.Store(context.Background(), testRecord(EntityKey{Type: "Article", ID: "1"}, EventCreated, 0))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload audit record")
}

func TestObjectTimestamp(t *testing.T) {
	ts, ok := objectTimestamp("audits/Article/1/1714557600000000000-abc.json")
	assert.True(t, ok)
	assert.Equal(t, int64(1714557600000000000), ts)

	_, ok = objectTimestamp("audits/Article/1/readme.json")
	assert.False(t, ok)
}
