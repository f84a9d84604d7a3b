// Package loader enumerates a dataset into documents.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// Loader enumerates a dataset path into Document values. Documents are
// emitted in a stable order so ids derived from content are reproducible.
type Loader interface {
	Load(ctx context.Context) ([]models.Document, error)
}

// New builds a loader for the configured dataset provider.
func New(cfg *config.DatasetConfig, logger *slog.Logger) (Loader, error) {
	switch cfg.Provider {
	case "local":
		return NewLocalLoader(cfg, logger), nil
	case "s3":
		return NewS3Loader(cfg, logger)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"unknown dataset provider: %q", cfg.Provider)
	}
}

// allowedExt reports whether name carries one of the allowed extensions.
// Extensions match case-insensitively and with or without a leading dot
// in the config.
func allowedExt(name string, allowed []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range allowed {
		e := strings.ToLower(ext)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.HasSuffix(lower, e) {
			return true
		}
	}
	return false
}

// decodeText interprets raw bytes as UTF-8 with lossy replacement on
// invalid sequences.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}

func pathNotFound(path string) error {
	return apperrors.New(apperrors.ErrCodePathNotFound,
		fmt.Sprintf("dataset path not found: %s", path), nil)
}
