// Package models defines the core pipeline entities.
package models

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Document is a single dataset file. Immutable after load.
type Document struct {
	// ID is a stable opaque identifier derived from path and content.
	ID string `json:"id" yaml:"id"`
	// Name is the file name without directory components.
	Name string `json:"name" yaml:"name"`
	// Path is the source path (filesystem path or object key).
	Path string `json:"path" yaml:"path"`
	// Text is the raw UTF-8 content.
	Text string `json:"text" yaml:"text"`
}

// DocumentChunk is a contiguous piece of a document produced by the splitter.
// The embedder is the only stage that mutates a chunk (it sets Embedding);
// after that the chunk is read-only.
type DocumentChunk struct {
	// ID is a fresh opaque identifier generated at creation.
	ID string `json:"id" yaml:"id"`
	// Text is the chunk content.
	Text string `json:"text" yaml:"text"`
	// Document is the owning document. Chunks carry a value copy with the
	// full text dropped so the reference stays acyclic and cheap.
	Document Document `json:"document" yaml:"document"`
	// Embedding is nil until the embed stage runs. All chunks in one run
	// share the same dimensionality once set.
	Embedding []float32 `json:"embedding,omitempty" yaml:"embedding,omitempty"`
	// TypeChunk is an optional tag set by a splitter step.
	TypeChunk string `json:"type_chunk,omitempty" yaml:"type_chunk,omitempty"`
	// PrevChunkID and NextChunkID record adjacency within the owning
	// document's chunk sequence. Plain string fields, never pointers.
	PrevChunkID string `json:"prev_chunk_id,omitempty" yaml:"prev_chunk_id,omitempty"`
	NextChunkID string `json:"next_chunk_id,omitempty" yaml:"next_chunk_id,omitempty"`
}

// NewDocument builds a Document with a content-addressed id so reruns over
// the same dataset produce the same ids.
func NewDocument(name, path, text string) Document {
	return Document{
		ID:   DocumentID(path, text),
		Name: name,
		Path: path,
		Text: text,
	}
}

// NewChunk creates a chunk of the given document with a fresh id.
func NewChunk(doc Document, text string) DocumentChunk {
	return DocumentChunk{
		ID:       uuid.NewString(),
		Text:     text,
		Document: doc.withoutText(),
	}
}

// DocumentID derives a stable id from a document's path and content.
func DocumentID(path, text string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// withoutText returns a copy with Text cleared. Chunk metadata only needs
// the document identity, not the full body.
func (d Document) withoutText() Document {
	d.Text = ""
	return d
}

// LinkChunks fills PrevChunkID/NextChunkID over an ordered chunk sequence.
func LinkChunks(chunks []DocumentChunk) {
	for i := range chunks {
		if i > 0 {
			chunks[i].PrevChunkID = chunks[i-1].ID
		}
		if i < len(chunks)-1 {
			chunks[i].NextChunkID = chunks[i+1].ID
		}
	}
}
