package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// s3API is the subset of the S3 client the text store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3TextStore keeps one JSON object per record under a bucket prefix.
type S3TextStore struct {
	client s3API
	bucket string
	prefix string
	logger *slog.Logger
}

var _ TextStore = (*S3TextStore)(nil)

// NewS3TextStore creates the store using the ambient AWS credential chain.
func NewS3TextStore(ctx context.Context, cfg *config.TextStoreConfig, logger *slog.Logger) (*S3TextStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"cannot load AWS configuration", err)
	}
	return &S3TextStore{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// newS3TextStoreWithClient wires a custom client. Used by tests.
func newS3TextStoreWithClient(client s3API, bucket, prefix string, logger *slog.Logger) *S3TextStore {
	return &S3TextStore{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (s *S3TextStore) key(id string) string {
	return path.Join(s.prefix, id+".json")
}

func (s *S3TextStore) put(ctx context.Context, record *StoredDocument) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(record.ID)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError, "s3 put failed", err)
	}
	return nil
}

// StoreDocument upserts a whole document.
func (s *S3TextStore) StoreDocument(ctx context.Context, doc models.Document) error {
	d := doc
	return s.put(ctx, &StoredDocument{
		ID:        doc.ID,
		Text:      doc.Text,
		Document:  &d,
		CreatedAt: time.Now().UTC(),
	})
}

// StoreDocumentChunk upserts one chunk record.
func (s *S3TextStore) StoreDocumentChunk(ctx context.Context, chunk models.DocumentChunk) error {
	d := chunk.Document
	return s.put(ctx, &StoredDocument{
		ID:        chunk.ID,
		Text:      chunk.Text,
		Document:  &d,
		Embedding: chunk.Embedding,
		CreatedAt: time.Now().UTC(),
	})
}

// RetrieveDocument returns the stored record, nil when absent.
func (s *S3TextStore) RetrieveDocument(ctx context.Context, id string) (*StoredDocument, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "s3 get failed", err)
	}
	defer func() { _ = out.Body.Close() }()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "s3 read failed", err)
	}
	var record StoredDocument
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeStoreError, "s3 record corrupt", err)
	}
	return &record, nil
}

// RetrieveDocuments returns records for the ids, skipping missing ones.
func (s *S3TextStore) RetrieveDocuments(ctx context.Context, ids []string) ([]*StoredDocument, error) {
	out := make([]*StoredDocument, 0, len(ids))
	for _, id := range ids {
		record, err := s.RetrieveDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if record != nil {
			out = append(out, record)
		}
	}
	return out, nil
}

// DeleteDocument removes one record.
func (s *S3TextStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return apperrors.New(apperrors.ErrCodeStoreError, "s3 delete failed", err)
	}
	return nil
}

// GetDocumentCount counts records under the prefix.
func (s *S3TextStore) GetDocumentCount(ctx context.Context) (int, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ClearAll deletes every record under the prefix.
func (s *S3TextStore) ClearAll(ctx context.Context) error {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return apperrors.New(apperrors.ErrCodeStoreError, "s3 delete failed", err)
		}
	}
	return nil
}

// Close is a no-op; the S3 client holds no local state.
func (s *S3TextStore) Close() error { return nil }

func (s *S3TextStore) listKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeStoreError, "s3 list failed", err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}
