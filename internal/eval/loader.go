package eval

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/patteg21/pigeon-evals/internal/config"
	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// LoadTests reads test cases from a JSON file. The file is either a bare
// array or an object; for objects the first of the keys "test_cases" and
// "tests" wins, then any other list-valued key in sorted order.
func LoadTests(path string) ([]config.TestCase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeTestLoadFailed,
			"cannot read test file "+path, err)
	}

	var direct []config.TestCase
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeTestLoadFailed,
			"test file is neither a list nor an object: "+path, err)
	}

	for _, key := range candidateKeys(doc) {
		var cases []config.TestCase
		if err := json.Unmarshal(doc[key], &cases); err == nil {
			return cases, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrCodeTestLoadFailed,
		"no list-valued test key found in %s", path)
}

// candidateKeys orders keys by preference: test_cases, tests, then the rest
// sorted so the pick is deterministic.
func candidateKeys(doc map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(doc))
	for _, preferred := range []string{"test_cases", "tests"} {
		if _, ok := doc[preferred]; ok {
			keys = append(keys, preferred)
		}
	}
	var rest []string
	for key := range doc {
		if key == "test_cases" || key == "tests" {
			continue
		}
		rest = append(rest, key)
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
