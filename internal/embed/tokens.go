package embed

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizer     *tiktoken.Tiktoken
	tokenizerOnce sync.Once
	tokenizerErr  error
)

// getTokenizer returns a cached tiktoken encoder.
// Uses cl100k_base encoding (GPT-4, GPT-3.5-turbo, text-embedding-3-*).
func getTokenizer() (*tiktoken.Tiktoken, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding("cl100k_base")
	})
	return tokenizer, tokenizerErr
}

// CountTokens returns the token count for text using tiktoken.
// Falls back to a ~4 chars per token heuristic if tiktoken fails.
func CountTokens(text string) int {
	enc, err := getTokenizer()
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// tokenWindows splits text into windows of at most maxTokens tokens with
// overlap tokens shared between consecutive windows. Returns the decoded
// window texts and each window's token count. The token counts feed the
// weighted pooling strategy.
func tokenWindows(text string, maxTokens, overlap int) ([]string, []int) {
	enc, err := getTokenizer()
	if err != nil {
		// Heuristic character windows at 4 chars per token.
		return charWindows(text, maxTokens*4, overlap*4)
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return []string{text}, []int{len(tokens)}
	}

	var texts []string
	var counts []int
	start := 0
	for start < len(tokens) {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		texts = append(texts, enc.Decode(window))
		counts = append(counts, len(window))
		if end == len(tokens) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return texts, counts
}

func charWindows(text string, size, overlap int) ([]string, []int) {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}, []int{(len(text) + 3) / 4}
	}
	var texts []string
	var counts []int
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		piece := string(runes[start:end])
		texts = append(texts, piece)
		counts = append(counts, (len(piece)+3)/4)
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return texts, counts
}
