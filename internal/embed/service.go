package embed

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/models"
	"github.com/patteg21/pigeon-evals/internal/reduce"
)

// DefaultMaxWorkers bounds fan-out when threading is on but no worker
// count is configured.
const DefaultMaxWorkers = 4

// Service embeds chunk lists, applying the fitted reducer when configured.
type Service struct {
	embedder Embedder
	reducer  reduce.Reducer
	cfg      *config.Config
	logger   *slog.Logger
}

// NewService wires the embedder and optional reducer.
func NewService(embedder Embedder, reducer reduce.Reducer, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{embedder: embedder, reducer: reducer, cfg: cfg, logger: logger}
}

// EmbedChunks sets the embedding on every chunk in place. With threading
// enabled the chunk list is partitioned into shards embedded concurrently;
// the join preserves input order so the reducer and the stores see one
// consistent sequence.
func (s *Service) EmbedChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var raw [][]float32
	var err error
	if s.useThreading() && len(chunks) > 1 {
		raw, err = s.embedSharded(ctx, texts)
	} else {
		raw, err = s.embedder.EmbedBatch(ctx, texts)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return apperrors.New(apperrors.ErrCodeCancelled, "embedding cancelled", err)
		}
		return err
	}

	vectors := raw
	if s.reducer != nil {
		vectors, err = s.reduceVectors(raw)
		if err != nil {
			return err
		}
	}

	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	s.logger.Info("chunks embedded",
		"chunks", len(chunks), "dimensions", len(vectors[0]), "reduced", s.reducer != nil)
	return nil
}

// embedSharded partitions texts into max_workers shards, embeds them
// concurrently, and joins the results back in input order.
func (s *Service) embedSharded(ctx context.Context, texts []string) ([][]float32, error) {
	workers := s.maxWorkers()
	if workers > len(texts) {
		workers = len(texts)
	}

	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)

	shardSize := (len(texts) + workers - 1) / workers
	for start := 0; start < len(texts); start += shardSize {
		end := start + shardSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			vecs, err := s.embedder.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			// Each shard writes a disjoint slice range, so the global
			// order equals the input order after the join.
			copy(results[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// reduceVectors loads the artifact when present, otherwise fits on this
// run's raw vectors and persists the artifact for later runs and queries.
func (s *Service) reduceVectors(raw [][]float32) ([][]float32, error) {
	drCfg := s.cfg.Embedding.DimensionReduction
	path := drCfg.Path

	if _, err := os.Stat(path); err == nil {
		if err := s.reducer.Load(path); err != nil {
			return nil, err
		}
		s.logger.Info("reducer artifact loaded", "path", path, "target_dim", s.reducer.TargetDim())
		return s.reducer.Transform(raw)
	}

	vectors, err := s.reducer.FitTransform(raw)
	if err != nil {
		return nil, err
	}
	if s.cfg.DryRun {
		// Dry-run writes nothing outside the report directory.
		return vectors, nil
	}
	if err := s.reducer.Save(path); err != nil {
		return nil, err
	}
	s.logger.Info("reducer fitted and persisted", "path", path,
		"vectors", len(raw), "target_dim", s.reducer.TargetDim())
	return vectors, nil
}

func (s *Service) useThreading() bool {
	if s.cfg.Embedding != nil && s.cfg.Embedding.UseThreading {
		return true
	}
	return s.cfg.Threading != nil && s.cfg.Threading.UseThreading
}

func (s *Service) maxWorkers() int {
	if s.cfg.Threading != nil && s.cfg.Threading.MaxWorkers > 0 {
		return s.cfg.Threading.MaxWorkers
	}
	return DefaultMaxWorkers
}
