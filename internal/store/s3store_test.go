package store

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patteg21/pigeon-evals/internal/logging"
)

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	raw, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = raw
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	raw, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(raw))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
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

func TestS3TextStore_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	s := newS3TextStoreWithClient(fake, "evals", "chunks", logging.Discard())
	ctx := context.Background()

	require.NoError(t, s.StoreDocumentChunk(ctx, testChunk("a", "alpha", []float32{1, 2})))
	require.NoError(t, s.StoreDocumentChunk(ctx, testChunk("b", "beta", nil)))

	got, err := s.RetrieveDocument(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alpha", got.Text)
	assert.Equal(t, []float32{1, 2}, got.Embedding)

	missing, err := s.RetrieveDocument(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	docs, err := s.RetrieveDocuments(ctx, []string{"b", "nope", "a"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)

	count, err := s.GetDocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestS3TextStore_DeleteAndClear(t *testing.T) {
	fake := newFakeS3()
	s := newS3TextStoreWithClient(fake, "evals", "chunks", logging.Discard())
	ctx := context.Background()

	require.NoError(t, s.StoreDocumentChunk(ctx, testChunk("a", "alpha", nil)))
	require.NoError(t, s.StoreDocumentChunk(ctx, testChunk("b", "beta", nil)))

	require.NoError(t, s.DeleteDocument(ctx, "a"))
	count, err := s.GetDocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, s.ClearAll(ctx))
	count, err = s.GetDocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
