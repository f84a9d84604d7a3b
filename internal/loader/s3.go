package loader

import (
	"context"
	"io"
	"log/slog"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// s3API is the subset of the S3 client used by the loader.
type s3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads documents from an S3 bucket prefix.
type S3Loader struct {
	cfg    *config.DatasetConfig
	client s3API
	logger *slog.Logger
}

var _ Loader = (*S3Loader)(nil)

// NewS3Loader creates an S3 loader using the ambient AWS credential chain.
func NewS3Loader(cfg *config.DatasetConfig, logger *slog.Logger) (*S3Loader, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
			"cannot load AWS configuration", err)
	}
	return &S3Loader{cfg: cfg, client: s3.NewFromConfig(awsCfg), logger: logger}, nil
}

// newS3LoaderWithClient wires a custom client. Used by tests.
func newS3LoaderWithClient(cfg *config.DatasetConfig, client s3API, logger *slog.Logger) *S3Loader {
	return &S3Loader{cfg: cfg, client: client, logger: logger}
}

// Load lists the configured prefix, filters keys by extension, and fetches
// each object body. Keys are sorted so document order is stable. Objects
// that fail to download are logged and skipped.
func (l *S3Loader) Load(ctx context.Context) ([]models.Document, error) {
	keys, err := l.listKeys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	var docs []models.Document
	for _, key := range keys {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			l.logger.Warn("unreadable object skipped", "key", key, "error", err)
			continue
		}
		raw, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			l.logger.Warn("unreadable object skipped", "key", key, "error", err)
			continue
		}
		docs = append(docs, models.NewDocument(path.Base(key), key, decodeText(raw)))
	}

	l.logger.Info("dataset loaded", "bucket", l.cfg.Bucket, "prefix", l.cfg.Prefix,
		"documents", len(docs))
	return docs, nil
}

func (l *S3Loader) listKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := l.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(l.cfg.Bucket),
			Prefix:            aws.String(l.cfg.Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodePathNotFound,
				"cannot list dataset objects", err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if allowedExt(key, l.cfg.AllowedTypes) {
				keys = append(keys, key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}
