package tribunalengine

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the prediction engine.
type Config struct {
	// DataDir is the root of the persisted-state layout: <data>/embeddings,
	// <data>/raw, <data>/predictions. Defaults to "./data".
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LLM providers.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	ChatFallback *LLMConfig `json:"chat_fallback,omitempty" yaml:"chat_fallback,omitempty"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	Chunking ChunkConfig   `json:"chunking" yaml:"chunking"`
	Retrieval RetrievalConfig `json:"retrieval" yaml:"retrieval"`
	Rerank    RerankConfig    `json:"rerank" yaml:"rerank"`
	Synthesis SynthesisConfig `json:"synthesis" yaml:"synthesis"`

	// EmbeddingDim must match the embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// MinExtractableChars gates scan-only PDFs.
	MinExtractableChars int `json:"min_extractable_chars" yaml:"min_extractable_chars"`

	// LogLevel: "debug", "info", "warn", "error".
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// ChunkConfig controls the legal chunker.
type ChunkConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`       // default 500 tokens
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"` // default 50 tokens
	MaxChunkSize int `json:"max_chunk_size" yaml:"max_chunk_size"`
}

// RetrievalConfig controls the index layer and RRF fusion.
type RetrievalConfig struct {
	InitialRetrievalK   int           `json:"initial_retrieval_k" yaml:"initial_retrieval_k"` // default 20
	FinalTopK           int           `json:"final_top_k" yaml:"final_top_k"`                 // default 5
	RRFK                int           `json:"rrf_k" yaml:"rrf_k"`                             // default 60
	SemanticWeight      float64       `json:"semantic_weight" yaml:"semantic_weight"`         // default 0.7
	BM25Weight          float64       `json:"bm25_weight" yaml:"bm25_weight"`                 // default 0.3
	EmbeddingBatchSize  int           `json:"embedding_batch_size" yaml:"embedding_batch_size"`
	EmbeddingConcurrency int          `json:"embedding_concurrency" yaml:"embedding_concurrency"`
	EmbeddingTimeout    time.Duration `json:"embedding_timeout" yaml:"embedding_timeout"`
}

// RerankConfig controls Stage 2 domain rerank and Stage 3 confidence.
type RerankConfig struct {
	IssueMatchWeight  float64 `json:"issue_match_weight" yaml:"issue_match_weight"`   // default 0.4
	TemporalWeight    float64 `json:"temporal_weight" yaml:"temporal_weight"`         // default 0.2
	RegionWeight      float64 `json:"region_weight" yaml:"region_weight"`             // default 0.1
	EvidenceWeight    float64 `json:"evidence_weight" yaml:"evidence_weight"`         // default 0.2
	RRFNormWeight     float64 `json:"rrf_norm_weight" yaml:"rrf_norm_weight"`         // default 0.1
	TemporalDecayYears int    `json:"temporal_decay_years" yaml:"temporal_decay_years"` // default 20

	MinConfidenceThreshold float64 `json:"min_confidence_threshold" yaml:"min_confidence_threshold"` // default 0.5
	MinSimilarityThreshold float64 `json:"min_similarity_threshold" yaml:"min_similarity_threshold"` // default 0.3
	MinSurvivingCandidates int     `json:"min_surviving_candidates" yaml:"min_surviving_candidates"` // default 3

	// IssueKeywords maps an issue type to the keyword/phrase tokens that
	// count as evidence of that issue being discussed in a chunk. Open
	// Question (a): shipped here as a default, overridable wholesale.
	IssueKeywords map[string][]string `json:"issue_keywords" yaml:"issue_keywords"`
}

// SynthesisConfig controls the prediction synthesizer.
type SynthesisConfig struct {
	LLMTimeout          time.Duration `json:"llm_timeout" yaml:"llm_timeout"`                   // default 60s
	GenerationBudget    time.Duration `json:"generation_budget" yaml:"generation_budget"`       // default 120s
	RetryBackoffBase    time.Duration `json:"retry_backoff_base" yaml:"retry_backoff_base"`     // default 1s
	RetryBackoffFactor  float64       `json:"retry_backoff_factor" yaml:"retry_backoff_factor"` // default 2
	MaxRetries          int           `json:"max_retries" yaml:"max_retries"`                   // default 5
	MaxCases            int           `json:"max_cases" yaml:"max_cases"`                       // default 8
	Disclaimer          string        `json:"disclaimer" yaml:"disclaimer"`
	RequiredFields      []string      `json:"required_fields" yaml:"required_fields"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir: "./data",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: LLMConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Chunking: ChunkConfig{
			ChunkSize:    500,
			ChunkOverlap: 50,
			MaxChunkSize: 800,
		},
		Retrieval: RetrievalConfig{
			InitialRetrievalK:    20,
			FinalTopK:            5,
			RRFK:                 60,
			SemanticWeight:       0.7,
			BM25Weight:           0.3,
			EmbeddingBatchSize:   50,
			EmbeddingConcurrency: 4,
			EmbeddingTimeout:     30 * time.Second,
		},
		Rerank: RerankConfig{
			IssueMatchWeight:       0.4,
			TemporalWeight:         0.2,
			RegionWeight:           0.1,
			EvidenceWeight:         0.2,
			RRFNormWeight:          0.1,
			TemporalDecayYears:     20,
			MinConfidenceThreshold: 0.5,
			MinSimilarityThreshold: 0.3,
			MinSurvivingCandidates: 3,
			IssueKeywords:          defaultIssueKeywords(),
		},
		Synthesis: SynthesisConfig{
			LLMTimeout:         60 * time.Second,
			GenerationBudget:   120 * time.Second,
			RetryBackoffBase:   1 * time.Second,
			RetryBackoffFactor: 2,
			MaxRetries:         5,
			MaxCases:           8,
			Disclaimer:         "This prediction is generated from historical tribunal decisions and is not legal advice.",
			RequiredFields:     []string{"property_address", "tenancy_start_date", "deposit_amount", "issues", "deposit_protection_status"},
		},
		EmbeddingDim:        1536,
		MinExtractableChars: 500,
		LogLevel:            "info",
	}
}

// defaultIssueKeywords is a small seed dictionary keyed by issue type.
// Callers override wholesale via config.
func defaultIssueKeywords() map[string][]string {
	return map[string][]string{
		"cleaning":           {"cleaning", "clean condition", "professional clean", "end of tenancy clean"},
		"damage":             {"damage", "damages", "wear and tear", "inventory", "check-in", "check-out"},
		"deposit-protection": {"protect", "protection scheme", "section 213", "section 214", "prescribed information"},
		"rent-arrears":       {"rent arrears", "unpaid rent", "arrears"},
		"redecoration":       {"redecoration", "repainting", "decorative condition"},
		"gardening":          {"garden", "gardening", "lawn", "hedges"},
	}
}

// embeddingsDir returns <data>/embeddings.
func (c *Config) embeddingsDir() string { return filepath.Join(c.DataDir, "embeddings") }

// rawDir returns <data>/raw.
func (c *Config) rawDir() string { return filepath.Join(c.DataDir, "raw") }

// predictionsDir returns <data>/predictions.
func (c *Config) predictionsDir() string { return filepath.Join(c.DataDir, "predictions") }

// bm25Path returns <data>/embeddings/bm25_index.json.
func (c *Config) bm25Path() string { return filepath.Join(c.embeddingsDir(), "bm25_index.json") }

// dbPath returns <data>/embeddings/tribunal.db, the sqlite-vec backed store.
func (c *Config) dbPath() string { return filepath.Join(c.embeddingsDir(), "tribunal.db") }

// ensureDataDirs creates the persisted-state layout if absent.
func (c *Config) ensureDataDirs() error {
	for _, d := range []string{c.embeddingsDir(), c.rawDir(), c.predictionsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
