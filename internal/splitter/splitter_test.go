package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
	"github.com/patteg21/pigeon-evals/internal/logging"
	"github.com/patteg21/pigeon-evals/internal/models"
)

func intPtr(v int) *int { return &v }

func doc(text string) models.Document {
	return models.NewDocument("doc.txt", "doc.txt", text)
}

func singleStep(step config.StepConfig) *config.ParserConfig {
	return &config.ParserConfig{
		Processes: []config.ProcessConfig{{Steps: []config.StepConfig{step}}},
	}
}

func texts(chunks []models.DocumentChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestCharacter_Windowing(t *testing.T) {
	// 500 characters, size 200, overlap 50: starts 0, 150, 300, 450.
	text := strings.Repeat("a", 500)
	s := New(singleStep(config.StepConfig{
		Strategy:     "character",
		ChunkSize:    intPtr(200),
		ChunkOverlap: intPtr(50),
	}), logging.Discard())

	chunks, err := s.Split(doc(text))
	require.NoError(t, err)

	require.Len(t, chunks, 4)
	assert.Len(t, chunks[0].Text, 200)
	assert.Len(t, chunks[1].Text, 200)
	assert.Len(t, chunks[2].Text, 200)
	assert.Len(t, chunks[3].Text, 50)
}

func TestCharacter_IdentityWithZeroOverlap(t *testing.T) {
	// Concatenating a zero-overlap, keep-empty, no-trim character split
	// reproduces the document text exactly.
	inputs := []string{
		"",
		"short",
		strings.Repeat("abc def\nghi ", 40),
		"unicode: héllo wörld ünïcode ™ 漢字テスト",
	}
	for _, text := range inputs {
		s := New(singleStep(config.StepConfig{
			Strategy:     "character",
			ChunkSize:    intPtr(7),
			ChunkOverlap: intPtr(0),
			KeepEmpty:    true,
		}), logging.Discard())

		chunks, err := s.Split(doc(text))
		require.NoError(t, err)
		assert.Equal(t, text, strings.Join(texts(chunks), ""))
	}
}

func TestCharacter_NoChunkSizeIsNoOp(t *testing.T) {
	s := New(singleStep(config.StepConfig{Strategy: "character"}), logging.Discard())
	chunks, err := s.Split(doc("whole document"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "whole document", chunks[0].Text)
}

func TestWord_WindowRejoinsWithSpaces(t *testing.T) {
	s := New(singleStep(config.StepConfig{
		Strategy:     "word",
		ChunkSize:    intPtr(3),
		ChunkOverlap: intPtr(1),
	}), logging.Discard())

	chunks, err := s.Split(doc("one  two\nthree four five"))
	require.NoError(t, err)

	assert.Equal(t, []string{"one two three", "three four five", "five"}, texts(chunks))
}

func TestSentence_RejoinsWithPeriods(t *testing.T) {
	s := New(singleStep(config.StepConfig{
		Strategy:     "sentence",
		ChunkSize:    intPtr(2),
		ChunkOverlap: intPtr(0),
	}), logging.Discard())

	chunks, err := s.Split(doc("First one. Second here! Third now? Fourth."))
	require.NoError(t, err)

	assert.Equal(t, []string{"First one. Second here.", "Third now. Fourth."}, texts(chunks))
}

func TestParagraph_DiscardsEmpty(t *testing.T) {
	s := New(singleStep(config.StepConfig{Strategy: "paragraph"}), logging.Discard())
	chunks, err := s.Split(doc("para one\n\n\n\npara two\n\npara three"))
	require.NoError(t, err)

	assert.Equal(t, []string{"para one", "para two", "para three"}, texts(chunks))
}

func TestSeparator_LiteralSplit(t *testing.T) {
	s := New(singleStep(config.StepConfig{
		Strategy:  "separator",
		Separator: "---",
	}), logging.Discard())
	chunks, err := s.Split(doc("a---b---c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, texts(chunks))
}

func TestRegex_KeepSeparator(t *testing.T) {
	s := New(singleStep(config.StepConfig{
		Strategy:       "regex",
		RegexPattern:   `Item \d+\.`,
		KeepSeparator:  true,
		TrimWhitespace: true,
	}), logging.Discard())

	chunks, err := s.Split(doc("Intro Item 1. Business Item 2. Risks"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Intro Item 1.", "Business Item 2.", "Risks"}, texts(chunks))
}

func TestRegex_IgnoreCase(t *testing.T) {
	s := New(singleStep(config.StepConfig{
		Strategy:       "regex",
		RegexPattern:   `item`,
		IgnoreCase:     true,
		TrimWhitespace: true,
	}), logging.Discard())

	chunks, err := s.Split(doc("a ITEM b Item c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, texts(chunks))
}

func TestRegex_InvalidPatternFails(t *testing.T) {
	s := New(singleStep(config.StepConfig{
		Strategy:     "regex",
		RegexPattern: `([unclosed`,
	}), logging.Discard())

	_, err := s.Split(doc("text"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeRegexInvalid, apperrors.GetCode(err))
}

func TestStepChaining_ParagraphThenCharacter(t *testing.T) {
	cfg := &config.ParserConfig{
		Processes: []config.ProcessConfig{{
			Steps: []config.StepConfig{
				{Strategy: "paragraph"},
				{Strategy: "character", ChunkSize: intPtr(5), ChunkOverlap: intPtr(0)},
			},
		}},
	}
	s := New(cfg, logging.Discard())

	chunks, err := s.Split(doc("abcdefgh\n\nxyz"))
	require.NoError(t, err)
	assert.Equal(t, []string{"abcde", "fgh", "xyz"}, texts(chunks))
}

func TestProcessConcatenation_StableOrder(t *testing.T) {
	cfg := &config.ParserConfig{
		Processes: []config.ProcessConfig{
			{
				Name:  "paragraphs",
				Steps: []config.StepConfig{{Strategy: "paragraph", TypeChunk: "para"}},
			},
			{
				Name:  "sections",
				Steps: []config.StepConfig{{Strategy: "separator", Separator: "|", TypeChunk: "section"}},
			},
		},
	}
	s := New(cfg, logging.Discard())

	chunks, err := s.Split(doc("p1\n\np2|p3"))
	require.NoError(t, err)

	require.Len(t, chunks, 4)
	// First process output precedes the second in full.
	assert.Equal(t, "para", chunks[0].TypeChunk)
	assert.Equal(t, "para", chunks[1].TypeChunk)
	assert.Equal(t, "section", chunks[2].TypeChunk)
	assert.Equal(t, "section", chunks[3].TypeChunk)
}

func TestSplit_Deterministic(t *testing.T) {
	cfg := singleStep(config.StepConfig{
		Strategy:     "character",
		ChunkSize:    intPtr(40),
		ChunkOverlap: intPtr(10),
	})
	d := doc(strings.Repeat("deterministic input text ", 30))

	a, err := New(cfg, logging.Discard()).Split(d)
	require.NoError(t, err)
	b, err := New(cfg, logging.Discard()).Split(d)
	require.NoError(t, err)

	// Identical text in identical order; ids are fresh but unique.
	assert.Equal(t, texts(a), texts(b))
	seen := map[string]bool{}
	for _, c := range a {
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}
}

func TestSplitAll_LinksAdjacency(t *testing.T) {
	cfg := singleStep(config.StepConfig{Strategy: "paragraph"})
	s := New(cfg, logging.Discard())

	chunks, err := s.SplitAll([]models.Document{doc("a\n\nb\n\nc")})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, chunks[1].ID, chunks[0].NextChunkID)
	assert.Equal(t, chunks[0].ID, chunks[1].PrevChunkID)
}

func TestTrimWhitespace_Idempotent(t *testing.T) {
	cfg := singleStep(config.StepConfig{
		Strategy:       "separator",
		Separator:      ",",
		TrimWhitespace: true,
	})
	s := New(cfg, logging.Discard())

	chunks, err := s.Split(doc("  a , b ,  "))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts(chunks))
}
