package splitter

import (
	"regexp"
	"strings"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// splitFunc maps one text to its split pieces, in order.
type splitFunc func(text string) []string

// strategyFunc resolves a step to its split function. Regex patterns are
// compiled here; a compile failure is fatal.
func strategyFunc(step config.StepConfig) (splitFunc, error) {
	switch step.Strategy {
	case "character":
		return characterSplit(step), nil
	case "word":
		return wordSplit(step), nil
	case "sentence":
		return sentenceSplit(step), nil
	case "paragraph":
		return paragraphSplit, nil
	case "separator":
		return separatorSplit(step), nil
	case "regex":
		return regexSplit(step)
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput,
			"unknown split strategy: %q", step.Strategy)
	}
}

// characterSplit slides a window over characters (runes). Each window starts
// chunk_size - chunk_overlap after the previous start, so consecutive windows
// share chunk_overlap characters and the start never regresses. Without a
// chunk_size the step passes text through unchanged.
func characterSplit(step config.StepConfig) splitFunc {
	return func(text string) []string {
		if step.ChunkSize == nil {
			return []string{text}
		}
		runes := []rune(text)
		return window(len(runes), *step.ChunkSize, *step.ChunkOverlap, func(start, end int) string {
			return string(runes[start:end])
		})
	}
}

// wordSplit windows over whitespace-split tokens, re-joined with single
// spaces.
func wordSplit(step config.StepConfig) splitFunc {
	return func(text string) []string {
		words := strings.Fields(text)
		if step.ChunkSize == nil {
			if len(words) == 0 {
				return []string{""}
			}
			return []string{strings.Join(words, " ")}
		}
		return window(len(words), *step.ChunkSize, *step.ChunkOverlap, func(start, end int) string {
			return strings.Join(words[start:end], " ")
		})
	}
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+`)

// sentenceSplit windows over sentences. Input is split on any run of
// terminal punctuation; windows are re-joined with ". " and a trailing
// period.
func sentenceSplit(step config.StepConfig) splitFunc {
	return func(text string) []string {
		var sentences []string
		for _, s := range sentenceBoundary.Split(text, -1) {
			s = strings.TrimSpace(s)
			if s != "" {
				sentences = append(sentences, s)
			}
		}
		join := func(start, end int) string {
			return strings.Join(sentences[start:end], ". ") + "."
		}
		if step.ChunkSize == nil {
			if len(sentences) == 0 {
				return []string{""}
			}
			return []string{join(0, len(sentences))}
		}
		return window(len(sentences), *step.ChunkSize, *step.ChunkOverlap, join)
	}
}

// paragraphSplit splits on blank lines and discards empty paragraphs.
func paragraphSplit(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// separatorSplit splits on a literal separator and discards empty pieces.
func separatorSplit(step config.StepConfig) splitFunc {
	return func(text string) []string {
		var out []string
		for _, p := range strings.Split(text, step.Separator) {
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}
}

// regexSplit splits on a pattern. With keep_separator the matched text is
// appended to the piece that precedes it.
func regexSplit(step config.StepConfig) (splitFunc, error) {
	pattern := step.RegexPattern
	if step.IgnoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeRegexInvalid,
			"invalid regex pattern: "+step.RegexPattern, err)
	}

	return func(text string) []string {
		matches := re.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			return []string{text}
		}
		var out []string
		prev := 0
		for _, m := range matches {
			piece := text[prev:m[0]]
			if step.KeepSeparator {
				piece += text[m[0]:m[1]]
			}
			out = append(out, piece)
			prev = m[1]
		}
		out = append(out, text[prev:])
		return out
	}, nil
}

// window produces [start, end) index pairs over n items. The first window
// starts at 0; each subsequent start advances by size - overlap. Validation
// guarantees overlap < size so the start never regresses.
func window(n, size, overlap int, slice func(start, end int) string) []string {
	if n == 0 {
		return []string{slice(0, 0)}
	}
	step := size - overlap
	var out []string
	for start := 0; start < n; start += step {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, slice(start, end))
	}
	return out
}

// postprocess applies the per-step trim and empty-drop rules.
func postprocess(pieces []string, step config.StepConfig) []string {
	out := pieces[:0:0]
	for _, p := range pieces {
		if step.TrimWhitespace {
			p = strings.TrimSpace(p)
		}
		if p == "" && !step.KeepEmpty {
			continue
		}
		out = append(out, p)
	}
	return out
}
