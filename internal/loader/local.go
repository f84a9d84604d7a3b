package loader

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/patteg21/pigeon-evals/internal/config"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// LocalLoader reads documents from the local filesystem.
type LocalLoader struct {
	cfg    *config.DatasetConfig
	logger *slog.Logger
}

var _ Loader = (*LocalLoader)(nil)

// NewLocalLoader creates a filesystem loader.
func NewLocalLoader(cfg *config.DatasetConfig, logger *slog.Logger) *LocalLoader {
	return &LocalLoader{cfg: cfg, logger: logger}
}

// Load walks the dataset path and yields one document per matching file.
// A regular-file path yields at most a single document. Files are visited
// in lexicographic order by full path. Unreadable files are logged and
// skipped; a missing root is fatal.
func (l *LocalLoader) Load(ctx context.Context) ([]models.Document, error) {
	root := l.cfg.Path
	info, err := os.Stat(root)
	if err != nil {
		return nil, pathNotFound(root)
	}

	if !info.IsDir() {
		if !allowedExt(root, l.cfg.AllowedTypes) {
			return nil, nil
		}
		doc, ok := l.readFile(root)
		if !ok {
			return nil, nil
		}
		return []models.Document{doc}, nil
	}

	var docs []models.Document
	// WalkDir visits entries in lexical order within each directory, which
	// gives a stable full-path ordering for the whole tree.
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			l.logger.Warn("unreadable entry skipped", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !allowedExt(path, l.cfg.AllowedTypes) {
			return nil
		}
		if doc, ok := l.readFile(path); ok {
			docs = append(docs, doc)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	l.logger.Info("dataset loaded", "path", root, "documents", len(docs))
	return docs, nil
}

func (l *LocalLoader) readFile(path string) (models.Document, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn("unreadable file skipped", "path", path, "error", err)
		return models.Document{}, false
	}
	return models.NewDocument(filepath.Base(path), path, decodeText(raw)), true
}
