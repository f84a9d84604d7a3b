// Package splitter turns documents into ordered chunk lists via chained
// splitting steps.
//
// A parser config holds one or more processes. Each process runs
// independently against the whole document and their outputs are
// concatenated in process order. Within a process, every step consumes the
// chunk list produced by the previous step; the initial list is the whole
// document as a single chunk.
package splitter

import (
	"log/slog"

	"github.com/patteg21/pigeon-evals/internal/config"
	"github.com/patteg21/pigeon-evals/internal/models"
)

// Splitter executes a parser config against documents.
type Splitter struct {
	cfg    *config.ParserConfig
	logger *slog.Logger
}

// New creates a splitter. Step regexes are compiled lazily at split time;
// an invalid pattern fails the run there.
func New(cfg *config.ParserConfig, logger *slog.Logger) *Splitter {
	return &Splitter{cfg: cfg, logger: logger}
}

// SplitAll splits every document and returns the combined chunk list in
// document order. Adjacency links are filled per document.
func (s *Splitter) SplitAll(docs []models.Document) ([]models.DocumentChunk, error) {
	var all []models.DocumentChunk
	for _, doc := range docs {
		chunks, err := s.Split(doc)
		if err != nil {
			return nil, err
		}
		models.LinkChunks(chunks)
		all = append(all, chunks...)
	}
	s.logger.Info("documents split", "documents", len(docs), "chunks", len(all))
	return all, nil
}

// Split runs every process against the document and concatenates their
// outputs in process order. Empty input yields an empty chunk list.
func (s *Splitter) Split(doc models.Document) ([]models.DocumentChunk, error) {
	var out []models.DocumentChunk
	for _, proc := range s.cfg.Processes {
		chunks, err := s.runProcess(doc, proc)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func (s *Splitter) runProcess(doc models.Document, proc config.ProcessConfig) ([]models.DocumentChunk, error) {
	chunks := []models.DocumentChunk{models.NewChunk(doc, doc.Text)}
	for _, step := range proc.Steps {
		next, err := applyStep(doc, chunks, step)
		if err != nil {
			return nil, err
		}
		chunks = next
	}
	return chunks, nil
}

// applyStep splits every input chunk with the step's strategy, preserving
// input order, then applies the common trim / empty-drop post-processing.
func applyStep(doc models.Document, chunks []models.DocumentChunk, step config.StepConfig) ([]models.DocumentChunk, error) {
	split, err := strategyFunc(step)
	if err != nil {
		return nil, err
	}

	var out []models.DocumentChunk
	for _, parent := range chunks {
		for _, text := range postprocess(split(parent.Text), step) {
			c := models.NewChunk(doc, text)
			if step.TypeChunk != "" {
				c.TypeChunk = step.TypeChunk
			} else {
				c.TypeChunk = parent.TypeChunk
			}
			out = append(out, c)
		}
	}
	return out, nil
}
