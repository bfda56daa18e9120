// Package rag provides retrieval pipeline configuration options.
package rag

import (
	"fmt"

	"github.com/kart-io/bookrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains the retrieval pipeline configuration.
type Options struct {
	// ChunkSize is the target chunk size in tokens.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between adjacent chunks in tokens.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the number of candidates fetched from the vector index.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// RerankTopN is the number of candidates kept after reranking.
	RerankTopN int `json:"rerank-top-n" mapstructure:"rerank-top-n"`

	// RerankEnabled toggles the second-pass relevance scorer.
	// When disabled the retriever order is passed through unchanged.
	RerankEnabled bool `json:"rerank-enabled" mapstructure:"rerank-enabled"`

	// ScoreThreshold 低于该相似度分数时直接返回兜底回答，不调用 LLM。
	ScoreThreshold float64 `json:"score-threshold" mapstructure:"score-threshold"`

	// Collection is the vector collection name.
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim is the dimension of embedding vectors.
	// Must agree with the configured embedding provider (1536 for
	// text-embedding-3-small, 768 for nomic-embed-text).
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// BookPath is the default markdown source for ingestion.
	BookPath string `json:"book-path" mapstructure:"book-path"`

	// MaxQueryLength is the maximum accepted chat query length in characters.
	MaxQueryLength int `json:"max-query-length" mapstructure:"max-query-length"`

	// SystemPrompt is the grounded generation prompt. Supports {{context}}
	// and {{question}} placeholders.
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`
}

// DefaultSystemPrompt is the default grounded generation prompt.
const DefaultSystemPrompt = `You are a reading assistant for the book "Physical AI & Humanoid Robotics Essentials".
Answer the question using ONLY the provided context. Do not use outside knowledge.
If the context does not contain the answer, say that the book does not cover it.

Respond with a single JSON object and nothing else:
{"answer": "<answer text>", "citations": [{"chapter": <chapter number>, "section": "<section label or empty>", "paragraph": <paragraph index>}]}

Cite only chapters and paragraphs that appear in the context below.

Context:
{{context}}

Question: {{question}}`

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		ChunkSize:      512,
		ChunkOverlap:   50,
		TopK:           10,
		RerankTopN:     5,
		RerankEnabled:  true,
		ScoreThreshold: 0.7,
		Collection:     "physical_ai_robotics_book",
		EmbeddingDim:   1536, // text-embedding-3-small dimension
		BookPath:       "data/book_source/physical_ai_robotics.md",
		MaxQueryLength: 2000,
		SystemPrompt:   DefaultSystemPrompt,
	}
}

// AddFlags adds flags for the pipeline options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.ChunkSize, options.Join(prefixes...)+"rag.chunk-size", o.ChunkSize, "Target chunk size in tokens.")
	fs.IntVar(&o.ChunkOverlap, options.Join(prefixes...)+"rag.chunk-overlap", o.ChunkOverlap, "Overlap between adjacent chunks in tokens.")
	fs.IntVar(&o.TopK, options.Join(prefixes...)+"rag.top-k", o.TopK, "Number of candidates from similarity search.")
	fs.IntVar(&o.RerankTopN, options.Join(prefixes...)+"rag.rerank-top-n", o.RerankTopN, "Number of candidates kept after reranking.")
	fs.BoolVar(&o.RerankEnabled, options.Join(prefixes...)+"rag.rerank-enabled", o.RerankEnabled, "Enable second-pass relevance reranking.")
	fs.Float64Var(&o.ScoreThreshold, options.Join(prefixes...)+"rag.score-threshold", o.ScoreThreshold, "Minimum retrieval score before the fallback answer is used.")
	fs.StringVar(&o.Collection, options.Join(prefixes...)+"rag.collection", o.Collection, "Vector collection name.")
	fs.IntVar(&o.EmbeddingDim, options.Join(prefixes...)+"rag.embedding-dim", o.EmbeddingDim, "Embedding vector dimension.")
	fs.StringVar(&o.BookPath, options.Join(prefixes...)+"rag.book-path", o.BookPath, "Default markdown source for book ingestion.")
	fs.IntVar(&o.MaxQueryLength, options.Join(prefixes...)+"rag.max-query-length", o.MaxQueryLength, "Maximum accepted query length in characters.")
}

// Validate validates the pipeline options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.ChunkSize < 100 || o.ChunkSize > 1000 {
		errs = append(errs, fmt.Errorf("chunk-size must be between 100 and 1000 tokens"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap > 200 {
		errs = append(errs, fmt.Errorf("chunk-overlap must be between 0 and 200 tokens"))
	}
	if o.ChunkSize <= o.ChunkOverlap {
		errs = append(errs, fmt.Errorf("chunk-size must be greater than chunk-overlap"))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top-k must be positive"))
	}
	if o.RerankTopN <= 0 || o.RerankTopN > o.TopK {
		errs = append(errs, fmt.Errorf("rerank-top-n must be in (0, top-k]"))
	}
	if o.ScoreThreshold < 0 || o.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("score-threshold must be between 0.0 and 1.0"))
	}
	if o.Collection == "" {
		errs = append(errs, fmt.Errorf("collection is required"))
	}
	if o.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("embedding-dim must be positive"))
	}
	if o.MaxQueryLength <= 0 {
		errs = append(errs, fmt.Errorf("max-query-length must be positive"))
	}
	return errs
}

// Complete completes the pipeline options with defaults.
func (o *Options) Complete() error {
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	return nil
}
