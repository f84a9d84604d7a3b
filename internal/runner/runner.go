// Package runner orchestrates the pipeline: load, parse, embed, store,
// evaluate. Stages whose configuration is absent are skipped.
package runner

import (
	"context"
	"log/slog"
	"os"

	"github.com/patteg21/pigeon-evals/internal/config"
	"github.com/patteg21/pigeon-evals/internal/embed"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/eval"
	"github.com/patteg21/pigeon-evals/internal/loader"
	"github.com/patteg21/pigeon-evals/internal/models"
	"github.com/patteg21/pigeon-evals/internal/reduce"
	"github.com/patteg21/pigeon-evals/internal/retrieval"
	"github.com/patteg21/pigeon-evals/internal/splitter"
	"github.com/patteg21/pigeon-evals/internal/store"
)

// Result summarizes one run. Partial means the run finished but some chunks
// failed to store or the two stores disagree; callers still exit zero.
type Result struct {
	Documents   int
	Chunks      int
	StoreErrors []error
	Partial     bool
}

// Runner executes one configured run end to end.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger

	embedder embed.Embedder
	reducer  reduce.Reducer

	// Store overrides for tests.
	vectorOverride store.VectorStore
	textOverride   store.TextStore
}

// New creates a runner for the given config.
func New(cfg *config.Config, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// Run drives the stages in order. Stage failures come back with the stage
// name attached; per-chunk store failures accumulate in the result instead.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	docs, err := r.load(ctx)
	if err != nil {
		return nil, apperrors.WithStage(err, "load")
	}
	result.Documents = len(docs)

	chunks, err := r.parse(docs)
	if err != nil {
		return nil, apperrors.WithStage(err, "parse")
	}
	result.Chunks = len(chunks)

	if err := r.embed(ctx, chunks); err != nil {
		return nil, apperrors.WithStage(err, "embed")
	}

	vectors, texts, err := r.openStores(ctx)
	if err != nil {
		return nil, apperrors.WithStage(err, "store")
	}
	if vectors != nil {
		defer func() {
			if err := vectors.Close(); err != nil {
				r.logger.Warn("vector store close failed", "error", err)
			}
		}()
	}
	if texts != nil {
		defer func() {
			if err := texts.Close(); err != nil {
				r.logger.Warn("text store close failed", "error", err)
			}
		}()
	}

	if r.cfg.Storage != nil {
		if err := r.store(ctx, chunks, vectors, texts, result); err != nil {
			return nil, apperrors.WithStage(err, "store")
		}
	}

	if r.cfg.Eval != nil {
		if err := r.evaluate(ctx, vectors, texts); err != nil {
			return nil, apperrors.WithStage(err, "eval")
		}
	} else {
		outDir := r.cfg.OutputDir()
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, apperrors.WithStage(apperrors.Wrap(apperrors.ErrCodeStoreError, err), "report")
		}
		if err := r.cfg.WriteReports(outDir); err != nil {
			return nil, apperrors.WithStage(err, "report")
		}
	}

	r.logger.Info("run finished",
		"run_id", r.cfg.RunID,
		"documents", result.Documents,
		"chunks", result.Chunks,
		"store_errors", len(result.StoreErrors),
		"partial", result.Partial)
	return result, nil
}

// load reads the dataset. Absent dataset config means an empty corpus. A
// dry run against a remote provider synthesizes documents instead of
// touching the network.
func (r *Runner) load(ctx context.Context) ([]models.Document, error) {
	if r.cfg.Dataset == nil {
		return nil, nil
	}
	if r.cfg.DryRun && r.cfg.Dataset.Provider == "s3" {
		return mockDocuments(), nil
	}
	if r.cfg.DryRun && r.cfg.Dataset.Provider != "s3" {
		if _, err := os.Stat(r.cfg.Dataset.Path); err != nil {
			return mockDocuments(), nil
		}
	}

	l, err := loader.New(r.cfg.Dataset, r.logger)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx)
}

// mockDocuments is the deterministic dry-run corpus.
func mockDocuments() []models.Document {
	texts := map[string]string{
		"filing_a.txt": "Item 7. Management's discussion of results. Net revenue increased year over year.\n\nOperating expenses grew more slowly than revenue.",
		"filing_b.txt": "Item 1A. Risk Factors. Supply chain disruption could materially affect operations.\n\nLiquidity remains sufficient for the next twelve months.",
	}
	docs := make([]models.Document, 0, len(texts))
	for _, name := range []string{"filing_a.txt", "filing_b.txt"} {
		docs = append(docs, models.NewDocument(name, name, texts[name]))
	}
	return docs
}

// parse splits documents into chunks. Without a parser section each
// document passes through as a single chunk.
func (r *Runner) parse(docs []models.Document) ([]models.DocumentChunk, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if r.cfg.Parser == nil {
		chunks := make([]models.DocumentChunk, 0, len(docs))
		for _, doc := range docs {
			chunks = append(chunks, models.NewChunk(doc, doc.Text))
		}
		return chunks, nil
	}
	return splitter.New(r.cfg.Parser, r.logger).SplitAll(docs)
}

// embed attaches vectors. Skipped without an embedding section.
func (r *Runner) embed(ctx context.Context, chunks []models.DocumentChunk) error {
	if r.cfg.Embedding == nil || len(chunks) == 0 {
		return nil
	}

	embedder, reducer, err := r.embedStack()
	if err != nil {
		return err
	}
	return embed.NewService(embedder, reducer, r.cfg, r.logger).EmbedChunks(ctx, chunks)
}

// embedStack builds (once) the embedder and reducer shared by ingest and
// retrieval so queries land in the same vector space as stored chunks.
func (r *Runner) embedStack() (embed.Embedder, reduce.Reducer, error) {
	if r.embedder != nil {
		return r.embedder, r.reducer, nil
	}
	if r.cfg.Embedding == nil && !r.cfg.DryRun {
		return nil, nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid,
			"an embedding section is required to embed queries")
	}

	embedder, err := embed.New(r.cfg, r.logger)
	if err != nil {
		return nil, nil, err
	}
	var reducer reduce.Reducer
	if r.cfg.Embedding != nil && r.cfg.Embedding.DimensionReduction != nil {
		reducer, err = reduce.New(r.cfg.Embedding.DimensionReduction)
		if err != nil {
			return nil, nil, err
		}
	}
	r.embedder = embedder
	r.reducer = reducer
	return embedder, reducer, nil
}

// openStores builds the stores when storage or evaluation needs them.
func (r *Runner) openStores(ctx context.Context) (store.VectorStore, store.TextStore, error) {
	if r.cfg.Storage == nil && r.cfg.Eval == nil {
		return nil, nil, nil
	}
	if r.vectorOverride != nil || r.textOverride != nil {
		return r.vectorOverride, r.textOverride, nil
	}
	vectors, err := store.NewVectorStore(r.cfg, r.logger)
	if err != nil {
		return nil, nil, err
	}
	texts, err := store.NewTextStore(ctx, r.cfg, r.logger)
	if err != nil {
		_ = vectors.Close()
		return nil, nil, err
	}
	return vectors, texts, nil
}

// store writes every embedded chunk to both stores. Per-chunk failures are
// collected rather than aborting; the index is cleared exactly once before
// the first upload when clear=true.
func (r *Runner) store(ctx context.Context, chunks []models.DocumentChunk, vectors store.VectorStore, texts store.TextStore, result *Result) error {
	uploadVectors := r.cfg.Storage.Vector != nil &&
		(r.cfg.Storage.Vector.Upload == nil || *r.cfg.Storage.Vector.Upload)
	uploadTexts := r.cfg.Storage.TextStore != nil &&
		(r.cfg.Storage.TextStore.Upload == nil || *r.cfg.Storage.TextStore.Upload)

	if r.cfg.Storage.Vector != nil && r.cfg.Storage.Vector.Clear {
		if err := vectors.Clear(ctx); err != nil {
			return err
		}
	}

	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return apperrors.New(apperrors.ErrCodeCancelled, "storage cancelled", err)
		}
		chunk := chunks[i]

		if uploadVectors {
			if err := vectors.Upload(ctx, chunk); err != nil {
				r.logger.Error("vector upload failed", "chunk_id", chunk.ID, "error", err)
				result.StoreErrors = append(result.StoreErrors, err)
				result.Partial = true
			}
		}
		if uploadTexts {
			if err := texts.StoreDocumentChunk(ctx, chunk); err != nil {
				r.logger.Error("text store write failed", "chunk_id", chunk.ID, "error", err)
				result.StoreErrors = append(result.StoreErrors, err)
				result.Partial = true
			}
		}
	}

	if uploadVectors && uploadTexts {
		r.reconcile(ctx, chunks, vectors, texts, result)
	}

	r.logger.Info("chunks stored",
		"chunks", len(chunks), "errors", len(result.StoreErrors),
		"vectors", uploadVectors, "texts", uploadTexts)
	return nil
}

// reconcile cross-checks both stores for every chunk of this run. A chunk
// present on one side only marks the run partial.
func (r *Runner) reconcile(ctx context.Context, chunks []models.DocumentChunk, vectors store.VectorStore, texts store.TextStore, result *Result) {
	for i := range chunks {
		id := chunks[i].ID
		meta, metaErr := vectors.RetrieveFromID(ctx, id)
		row, rowErr := texts.RetrieveDocument(ctx, id)
		if metaErr != nil || rowErr != nil {
			continue
		}
		if (meta == nil) != (row == nil) {
			err := apperrors.Newf(apperrors.ErrCodeInconsistencyDetected,
				"chunk %s present in one store only (vector=%t, text=%t)",
				id, meta != nil, row != nil)
			r.logger.Warn("store inconsistency", "chunk_id", id, "error", err)
			result.Partial = true
		}
	}
}

// evaluate runs the test suite against the freshly written stores.
func (r *Runner) evaluate(ctx context.Context, vectors store.VectorStore, texts store.TextStore) error {
	embedder, reducer, err := r.embedStack()
	if err != nil {
		return err
	}
	reranker, err := retrieval.NewReranker(r.cfg, r.logger)
	if err != nil {
		return err
	}

	retriever := retrieval.NewService(embedder, reducer, vectors, texts, reranker, r.cfg, r.logger)
	driver, err := eval.NewDriver(retriever, r.cfg, r.logger)
	if err != nil {
		return err
	}
	return driver.Run(ctx)
}
