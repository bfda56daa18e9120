package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/internal/model"
	"github.com/kart-io/bookrag/internal/pkg/rag/textutil"
	"github.com/kart-io/bookrag/pkg/llm"
)

// RerankerConfig 重排序器配置。
type RerankerConfig struct {
	// Enabled 是否启用 LLM 重排序，关闭时直接透传截断。
	Enabled bool
	// FinalN 重排序后保留的候选数量。
	FinalN int
	// VectorWeight 原始向量分数的权重。
	VectorWeight float64
	// ScorerWeight LLM 相关性评分的权重。
	ScorerWeight float64
}

// DefaultRerankerConfig 返回默认重排序配置。
func DefaultRerankerConfig(finalN int) *RerankerConfig {
	return &RerankerConfig{
		Enabled:      true,
		FinalN:       finalN,
		VectorWeight: 0.3,
		ScorerWeight: 0.7,
	}
}

// Reranker 对检索候选进行精排。
// 主评分器不可用时降级为透传：保持向量检索顺序，只做截断。
type Reranker struct {
	chatProvider llm.ChatProvider
	config       *RerankerConfig
}

// NewReranker 创建重排序器实例。
func NewReranker(chatProvider llm.ChatProvider, config *RerankerConfig) *Reranker {
	return &Reranker{
		chatProvider: chatProvider,
		config:       config,
	}
}

// Rerank 对候选重排序并截断到 FinalN。
// 排序稳定：同分候选保持输入顺序。
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []*model.RetrievalCandidate) []*model.RetrievalCandidate {
	if len(candidates) == 0 {
		return candidates
	}

	reranked := make([]*model.RetrievalCandidate, len(candidates))
	copy(reranked, candidates)

	if r.config.Enabled && r.chatProvider != nil {
		scored := true
		for _, c := range reranked {
			score, err := r.scoreRelevance(ctx, query, c.Content)
			if err != nil {
				// 评分器失败整体降级，避免部分候选带混合口径的分数
				logger.Warnw("relevance scoring failed, falling back to vector order", "error", err.Error())
				scored = false
				break
			}
			c.RerankScore = r.config.VectorWeight*c.Score + r.config.ScorerWeight*score
		}

		if scored {
			sort.SliceStable(reranked, func(i, j int) bool {
				return reranked[i].RerankScore > reranked[j].RerankScore
			})
		} else {
			for _, c := range reranked {
				c.RerankScore = c.Score
			}
		}
	} else {
		for _, c := range reranked {
			c.RerankScore = c.Score
		}
	}

	if r.config.FinalN > 0 && len(reranked) > r.config.FinalN {
		reranked = reranked[:r.config.FinalN]
	}
	return reranked
}

// scoreRelevance 使用 LLM 评估块内容与查询的相关性，返回 [0,1] 分数。
func (r *Reranker) scoreRelevance(ctx context.Context, query, content string) (float64, error) {
	truncated := textutil.TruncateString(content, 2000)

	prompt := fmt.Sprintf(`评估以下文档与查询的相关性。

查询：%s

文档：%s

请只返回一个 0 到 1 之间的数字，表示相关性分数：
- 1.0：完全相关，直接回答了查询
- 0.7-0.9：高度相关，包含大部分所需信息
- 0.4-0.6：部分相关，包含一些相关信息
- 0.1-0.3：低相关，只有少量相关内容
- 0.0：完全不相关

相关性分数：`, query, truncated)

	resp, err := r.chatProvider.Generate(ctx, prompt, "")
	if err != nil {
		return 0, err
	}

	return parseScore(resp.Content), nil
}

// parseScore 从 LLM 响应中解析 [0,1] 分数，解析失败返回中等分数。
func parseScore(response string) float64 {
	response = strings.TrimSpace(response)

	var score float64
	if _, err := fmt.Sscanf(response, "%f", &score); err == nil {
		if score >= 0 && score <= 1 {
			return score
		}
	}

	for _, part := range strings.Fields(response) {
		if _, err := fmt.Sscanf(part, "%f", &score); err == nil {
			if score >= 0 && score <= 1 {
				return score
			}
		}
	}

	return 0.5
}
