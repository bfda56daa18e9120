package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/internal/model"
	"github.com/kart-io/bookrag/pkg/errors"
	"github.com/kart-io/bookrag/pkg/llm"
)

// RetrieverConfig 检索器配置。
type RetrieverConfig struct {
	// Collection 向量集合名称。
	Collection string
	// TopK 返回的候选数量。
	TopK int
}

// Retriever 负责语义检索：嵌入查询并在向量集合中搜索相似块。
// 相同的查询与集合状态总是产生相同的候选序列。
type Retriever struct {
	store         store.VectorStore
	embedProvider llm.EmbeddingProvider
	config        *RetrieverConfig
}

// NewRetriever 创建检索器实例。
func NewRetriever(
	vectorStore store.VectorStore,
	embedProvider llm.EmbeddingProvider,
	config *RetrieverConfig,
) *Retriever {
	return &Retriever{
		store:         vectorStore,
		embedProvider: embedProvider,
		config:        config,
	}
}

// Retrieve 执行检索，filter 为 nil 时不做元数据过滤。
// 空结果是合法输出，表示没有可用的依据内容。
func (r *Retriever) Retrieve(ctx context.Context, query string, filter *store.Filter) ([]*model.RetrievalCandidate, error) {
	embedding, err := r.embedProvider.EmbedSingle(ctx, query)
	if err != nil {
		return nil, errors.ErrRAGEmbeddingUnavailable.WithCause(err)
	}

	hits, err := r.store.Search(ctx, r.config.Collection, embedding, r.config.TopK, filter)
	if err != nil {
		return nil, err
	}

	candidates := make([]*model.RetrievalCandidate, len(hits))
	for i, hit := range hits {
		candidates[i] = &model.RetrievalCandidate{
			VectorID:       hit.ID,
			Score:          hit.Score,
			ChapterNumber:  hit.ChapterNumber,
			ParagraphIndex: hit.ParagraphIndex,
			Section:        hit.Section,
			Content:        hit.Content,
		}
	}

	logger.Debugw("retrieval finished", "candidates", len(candidates), "top_k", r.config.TopK)
	return candidates, nil
}
