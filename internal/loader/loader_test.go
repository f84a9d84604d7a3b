package loader

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/logging"
)

func localCfg(path string) *config.DatasetConfig {
	return &config.DatasetConfig{
		Provider:     "local",
		Path:         path,
		AllowedTypes: []string{".txt"},
	}
}

func TestLocalLoader_WalksInLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	files := map[string]string{
		"b.txt":        "second",
		"a.txt":        "first",
		"sub/c.txt":    "third",
		"ignored.json": "{}",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	l := NewLocalLoader(localCfg(dir), logging.Discard())
	docs, err := l.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, docs, 3)
	assert.Equal(t, "a.txt", docs[0].Name)
	assert.Equal(t, "b.txt", docs[1].Name)
	assert.Equal(t, "c.txt", docs[2].Name)
	assert.Equal(t, "first", docs[0].Text)
}

func TestLocalLoader_SingleFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(file, []byte("body"), 0o644))

	docs, err := NewLocalLoader(localCfg(file), logging.Discard()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc.txt", docs[0].Name)
}

func TestLocalLoader_SingleFileWrongExtension(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "doc.csv")
	require.NoError(t, os.WriteFile(file, []byte("a,b"), 0o644))

	docs, err := NewLocalLoader(localCfg(file), logging.Discard()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLocalLoader_MissingRootIsFatal(t *testing.T) {
	l := NewLocalLoader(localCfg(filepath.Join(t.TempDir(), "absent")), logging.Discard())
	_, err := l.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePathNotFound, apperrors.GetCode(err))
}

func TestLocalLoader_EmptyDirectory(t *testing.T) {
	docs, err := NewLocalLoader(localCfg(t.TempDir()), logging.Discard()).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLocalLoader_LossyUTF8(t *testing.T) {
	dir := t.TempDir()
	// 0xff is not valid UTF-8.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.txt"), []byte{'o', 'k', 0xff}, 0o644))

	docs, err := NewLocalLoader(localCfg(dir), logging.Discard()).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].Text, "ok")
	assert.True(t, len(docs[0].Text) > 2)
}

func TestLocalLoader_StableDocumentIDs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("same"), 0o644))

	l := NewLocalLoader(localCfg(dir), logging.Discard())
	first, err := l.Load(context.Background())
	require.NoError(t, err)
	second, err := l.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
}

type fakeS3 struct {
	objects map[string]string
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key := range f.objects {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body := f.objects[aws.ToString(in.Key)]
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(body))}, nil
}

func TestS3Loader_SortsKeysAndFilters(t *testing.T) {
	client := &fakeS3{objects: map[string]string{
		"filings/b.txt":  "beta",
		"filings/a.txt":  "alpha",
		"filings/z.json": "{}",
	}}
	cfg := &config.DatasetConfig{
		Provider:     "s3",
		Bucket:       "corpus",
		Prefix:       "filings/",
		AllowedTypes: []string{".txt"},
	}

	l := newS3LoaderWithClient(cfg, client, logging.Discard())
	docs, err := l.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[0].Name)
	assert.Equal(t, "alpha", docs[0].Text)
	assert.Equal(t, "b.txt", docs[1].Name)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(&config.DatasetConfig{Provider: "gcs"}, logging.Discard())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConfigInvalid, apperrors.GetCode(err))
}
