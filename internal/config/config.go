// Package config defines the run configuration model for pigeon-evals.
//
// A single YAML document describes a full run: where the dataset lives, how
// documents are split, which embedding provider to use, where vectors and
// text are stored, and which evaluation tests to execute. Unset optional
// sections disable the corresponding pipeline stage.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	apperrors "github.com/patteg21/pigeon-evals/internal/errors"
)

// Config is the root run configuration.
type Config struct {
	// RunID identifies the run; report output lands under output/<run_id>/.
	// Defaults to a fresh UUID when absent.
	RunID string `yaml:"run_id" json:"run_id"`
	// Task is a free-form label describing the run.
	Task string `yaml:"task,omitempty" json:"task,omitempty"`

	Dataset   *DatasetConfig   `yaml:"dataset,omitempty" json:"dataset,omitempty"`
	Threading *ThreadingConfig `yaml:"threading,omitempty" json:"threading,omitempty"`
	Parser    *ParserConfig    `yaml:"parser,omitempty" json:"parser,omitempty"`
	Embedding *EmbeddingConfig `yaml:"embedding,omitempty" json:"embedding,omitempty"`
	Storage   *StorageConfig   `yaml:"storage,omitempty" json:"storage,omitempty"`
	Eval      *EvalConfig      `yaml:"eval,omitempty" json:"eval,omitempty"`

	// DryRun short-circuits all external collaborators with deterministic
	// mocks. Set from the CLI flag or the DRY_RUN env var, never from YAML.
	DryRun bool `yaml:"-" json:"-"`
}

// DatasetConfig describes the document source.
type DatasetConfig struct {
	// Provider selects the loader: local (default) or s3.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	// Path is the local file or directory root.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// AllowedTypes filters files by extension. Default [.txt].
	AllowedTypes []string `yaml:"allowed_types,omitempty" json:"allowed_types,omitempty"`

	// S3 settings.
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
}

// ThreadingConfig bounds embedding fan-out.
type ThreadingConfig struct {
	UseThreading bool `yaml:"use_threading" json:"use_threading"`
	// MaxWorkers is the shard count for concurrent embedding. Default 4.
	MaxWorkers int `yaml:"max_workers,omitempty" json:"max_workers,omitempty"`
}

// ParserConfig owns an ordered list of independent processes. Each process
// runs against the whole document and their outputs are concatenated in
// process order.
type ParserConfig struct {
	Processes []ProcessConfig `yaml:"processes" json:"processes"`
}

// ProcessConfig is an ordered pipeline of splitting steps.
type ProcessConfig struct {
	Name  string       `yaml:"name,omitempty" json:"name,omitempty"`
	Steps []StepConfig `yaml:"steps" json:"steps"`
}

// StepConfig describes one splitting step.
type StepConfig struct {
	// Strategy is one of character, word, sentence, paragraph, separator, regex.
	Strategy string `yaml:"strategy" json:"strategy"`

	// ChunkSize/ChunkOverlap drive the windowed strategies. ChunkOverlap is
	// required whenever ChunkSize is set; no default is injected.
	ChunkSize    *int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`
	ChunkOverlap *int `yaml:"chunk_overlap,omitempty" json:"chunk_overlap,omitempty"`

	// Separator is the literal separator for the separator strategy.
	// Default "\n\n".
	Separator string `yaml:"separator,omitempty" json:"separator,omitempty"`

	// Regex strategy settings.
	RegexPattern  string `yaml:"regex_pattern,omitempty" json:"regex_pattern,omitempty"`
	IgnoreCase    bool   `yaml:"ignore_case,omitempty" json:"ignore_case,omitempty"`
	KeepSeparator bool   `yaml:"keep_separator,omitempty" json:"keep_separator,omitempty"`

	// Post-processing applied to every step's output.
	KeepEmpty      bool `yaml:"keep_empty,omitempty" json:"keep_empty,omitempty"`
	TrimWhitespace bool `yaml:"trim_whitespace,omitempty" json:"trim_whitespace,omitempty"`

	// TypeChunk tags the produced chunks.
	TypeChunk string `yaml:"type_chunk,omitempty" json:"type_chunk,omitempty"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is one of openai, huggingface.
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Endpoint overrides the provider base URL (huggingface local server,
	// OpenAI-compatible gateways).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	// BatchSize bounds sub-batch size for API calls. -1 means unbounded.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	// PoolingStrategy is used only when a chunk exceeds the model context:
	// mean, max, weighted, smooth_decay.
	PoolingStrategy string `yaml:"pooling_strategy,omitempty" json:"pooling_strategy,omitempty"`
	// ChunkMaxTokens/OverlapTokens drive the oversize token-window protocol.
	ChunkMaxTokens int `yaml:"chunk_max_tokens,omitempty" json:"chunk_max_tokens,omitempty"`
	OverlapTokens  int `yaml:"overlap_tokens,omitempty" json:"overlap_tokens,omitempty"`
	// Normalize L2-normalizes output vectors. Default true.
	Normalize *bool `yaml:"normalize,omitempty" json:"normalize,omitempty"`

	DimensionReduction *DimensionReductionConfig `yaml:"dimension_reduction,omitempty" json:"dimension_reduction,omitempty"`

	UseThreading bool `yaml:"use_threading,omitempty" json:"use_threading,omitempty"`
}

// DimensionReductionConfig configures the fitted reducer.
type DimensionReductionConfig struct {
	// Type names the reducer. Only pca is implemented; umap and t-sne are
	// reserved.
	Type string `yaml:"type" json:"type"`
	Dims int    `yaml:"dims" json:"dims"`
	Seed int64  `yaml:"seed,omitempty" json:"seed,omitempty"`
	// Path to the persisted artifact. Default data/artifacts/pca_<dims>.gob.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// StorageConfig groups the two stores. Either, both, or neither may be set.
type StorageConfig struct {
	Vector    *VectorConfig    `yaml:"vector,omitempty" json:"vector,omitempty"`
	TextStore *TextStoreConfig `yaml:"text_store,omitempty" json:"text_store,omitempty"`
}

// VectorConfig configures the vector index.
type VectorConfig struct {
	// Provider selects the index backend. Default hnsw (local index).
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	// Path is the index file location. Default data/.hnsw/index.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Index is an alternate name for managed providers.
	Index string `yaml:"index,omitempty" json:"index,omitempty"`
	// Dimension of stored vectors. 0 means adopt the first upload's length.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	// Clear wipes the index before the first write of the run.
	Clear bool `yaml:"clear,omitempty" json:"clear,omitempty"`
	// Upload=false disables vector writes.
	Upload *bool `yaml:"upload,omitempty" json:"upload,omitempty"`
}

// TextStoreConfig configures full-text persistence.
type TextStoreConfig struct {
	// Client is one of sqlite, postgres, s3, file, memory.
	Client string `yaml:"client" json:"client"`
	Upload *bool  `yaml:"upload,omitempty" json:"upload,omitempty"`
	// Path is the sqlite database file or the file-store directory.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	// S3 settings.
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region string `yaml:"region,omitempty" json:"region,omitempty"`
}

// EvalConfig configures retrieval evaluation.
type EvalConfig struct {
	// TopK is the retrieval depth. Default 10.
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	// Evaluations toggles metric computation over ground-truth labels.
	Evaluations bool `yaml:"evaluations,omitempty" json:"evaluations,omitempty"`
	// Metrics is a subset of precision, recall, hit-rate, mrr, ndcg.
	Metrics []string `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	Rerank *RerankConfig `yaml:"rerank,omitempty" json:"rerank,omitempty"`
	LLM    *LLMConfig    `yaml:"llm,omitempty" json:"llm,omitempty"`
	Test   *TestConfig   `yaml:"test,omitempty" json:"test,omitempty"`
}

// RerankConfig configures the second-stage cross-encoder.
type RerankConfig struct {
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	// TopK may shrink the result set after reranking.
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty"`
}

// LLMConfig configures the judge / agent model.
type LLMConfig struct {
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	Model    string `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// TestConfig holds the test cases to run.
type TestConfig struct {
	// LoadTest is a JSON file of test cases, merged before inline Tests.
	LoadTest string `yaml:"load_test,omitempty" json:"load_test,omitempty"`
	// Tests are inline test cases.
	Tests []TestCase `yaml:"tests,omitempty" json:"tests,omitempty"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	return LoadForRun(path, false)
}

// LoadForRun reads a config file with the dry-run flag applied before
// validation, so dry runs skip environment checks such as dataset paths.
func LoadForRun(path string, dryRun bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", path), err)
		}
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("cannot read config: %s", path), err)
	}
	return parse(data, dryRun)
}

// Parse decodes YAML bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	return parse(data, false)
}

func parse(data []byte, dryRun bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid config YAML: %v", err), err)
	}
	cfg.DryRun = dryRun
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills zero values with documented defaults.
func (c *Config) applyDefaults() {
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Dataset != nil {
		if c.Dataset.Provider == "" {
			c.Dataset.Provider = "local"
		}
		if len(c.Dataset.AllowedTypes) == 0 {
			c.Dataset.AllowedTypes = []string{".txt"}
		}
	}
	if c.Threading != nil && c.Threading.MaxWorkers <= 0 {
		c.Threading.MaxWorkers = 4
	}
	if c.Parser != nil {
		for i := range c.Parser.Processes {
			for j := range c.Parser.Processes[i].Steps {
				s := &c.Parser.Processes[i].Steps[j]
				if s.Strategy == "separator" && s.Separator == "" {
					s.Separator = "\n\n"
				}
			}
		}
	}
	if c.Embedding != nil {
		if c.Embedding.BatchSize == 0 {
			c.Embedding.BatchSize = -1
		}
		if c.Embedding.PoolingStrategy == "" {
			c.Embedding.PoolingStrategy = "mean"
		}
		if c.Embedding.ChunkMaxTokens == 0 {
			c.Embedding.ChunkMaxTokens = 2048
		}
		if c.Embedding.OverlapTokens == 0 {
			c.Embedding.OverlapTokens = 128
		}
		if c.Embedding.Normalize == nil {
			t := true
			c.Embedding.Normalize = &t
		}
		if dr := c.Embedding.DimensionReduction; dr != nil && dr.Path == "" {
			dr.Path = filepath.Join("data", "artifacts",
				fmt.Sprintf("%s_%d.gob", dr.Type, dr.Dims))
		}
	}
	if c.Storage != nil {
		if v := c.Storage.Vector; v != nil {
			if v.Provider == "" {
				v.Provider = "hnsw"
			}
			if v.Path == "" && v.Provider == "hnsw" {
				v.Path = filepath.Join("data", ".hnsw", "index")
			}
			if v.Upload == nil {
				t := true
				v.Upload = &t
			}
		}
		if ts := c.Storage.TextStore; ts != nil {
			if ts.Upload == nil {
				t := true
				ts.Upload = &t
			}
			if ts.Client == "sqlite" && ts.Path == "" {
				ts.Path = filepath.Join("data", ".sql", "chunks.db")
			}
		}
	}
	if c.Eval != nil {
		if c.Eval.TopK <= 0 {
			c.Eval.TopK = 10
		}
		if len(c.Eval.Metrics) == 0 && c.Eval.Evaluations {
			c.Eval.Metrics = []string{"precision", "recall", "hit-rate", "mrr", "ndcg"}
		}
	}
}

// OutputDir returns the report directory for this run.
func (c *Config) OutputDir() string {
	return filepath.Join("output", c.RunID)
}
