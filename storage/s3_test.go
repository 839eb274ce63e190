package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryBucket is an in-memory ObjectAPI for a single bucket.
type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
	failPut string
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: make(map[string][]byte)}
}

func (b *memoryBucket) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (b *memoryBucket) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	if b.failPut != "" && strings.HasSuffix(key, b.failPut) {
		return nil, errors.New("access denied")
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.puts = append(b.puts, key)
	return &s3.PutObjectOutput{}, nil
}

func (b *memoryBucket) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *memoryBucket) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (b *memoryBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for key := range b.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func newS3Store(bucket *memoryBucket) *S3Store {
	s := NewS3Store(bucket, "transcripts", "cache", quietLogger())
	s.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestS3StorePutThenPayload(t *testing.T) {
	ctx := context.Background()
	bucket := newMemoryBucket()
	s := newS3Store(bucket)
	tr := sampleTranscript("dQw4w9WgXcQ", "hello world")

	entry, err := s.Put(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, "s3://transcripts/cache/dQw4w9WgXcQ.json", entry.Path)
	assert.Equal(t, "s3://transcripts/cache/", s.Location())

	// Payload lands before the manifest.
	assert.Equal(t, []string{"cache/dQw4w9WgXcQ.json", "cache/manifest.json"}, bucket.puts)

	got, err := s.Payload(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, tr, got)

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	stored, ok := m.Get("dQw4w9WgXcQ")
	require.True(t, ok)
	assert.Equal(t, tr.TotalChars, stored.TotalChars)
}

func TestS3StoreMissingObjects(t *testing.T) {
	ctx := context.Background()
	s := newS3Store(newMemoryBucket())

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	_, err = s.Payload(ctx, "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestS3StoreCorruptPayload(t *testing.T) {
	bucket := newMemoryBucket()
	bucket.objects["cache/dQw4w9WgXcQ.json"] = []byte(`{"video_id":"9bZkp7q19f0","segments":[]}`)
	s := newS3Store(bucket)

	_, err := s.Payload(context.Background(), "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestS3StoreFailedPayloadUploadLeavesManifestAlone(t *testing.T) {
	ctx := context.Background()
	bucket := newMemoryBucket()
	s := newS3Store(bucket)
	_, err := s.Put(ctx, sampleTranscript("dQw4w9WgXcQ", "first"))
	require.NoError(t, err)

	bucket.failPut = "9bZkp7q19f0.json"
	_, err = s.Put(ctx, sampleTranscript("9bZkp7q19f0", "second"))
	require.Error(t, err)

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Get("9bZkp7q19f0")
	assert.False(t, ok)
}

func TestS3StoreClearOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	bucket := newMemoryBucket()
	bucket.objects["other/keep.json"] = []byte("{}")
	s := newS3Store(bucket)

	for _, id := range []string{"dQw4w9WgXcQ", "9bZkp7q19f0", "jNQXAC9IVRw"} {
		_, err := s.Put(ctx, sampleTranscript(id, "x"))
		require.NoError(t, err)
	}

	count, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{"other/keep.json"}, bucket.keys())
}

func TestS3StorePutRebuildsUnreadableManifest(t *testing.T) {
	ctx := context.Background()
	bucket := newMemoryBucket()
	s := newS3Store(bucket)

	for _, id := range []string{"dQw4w9WgXcQ", "9bZkp7q19f0"} {
		_, err := s.Put(ctx, sampleTranscript(id, "earlier"))
		require.NoError(t, err)
	}
	bucket.objects["cache/manifest.json"] = []byte("{not json")

	_, err := s.Put(ctx, sampleTranscript("jNQXAC9IVRw", "fresh"))
	require.NoError(t, err)

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	entry, ok := m.Get("9bZkp7q19f0")
	require.True(t, ok)
	assert.Equal(t, "s3://transcripts/cache/9bZkp7q19f0.json", entry.Path)

	bucket.objects["cache/manifest.json"] = []byte("{not json")
	count, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
