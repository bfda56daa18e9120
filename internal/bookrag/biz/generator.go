package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/internal/model"
	"github.com/kart-io/bookrag/pkg/errors"
	"github.com/kart-io/bookrag/pkg/llm"
	"github.com/kart-io/bookrag/pkg/utils/json"
)

// FallbackAnswer 证据不足时返回的固定回答，不经过 LLM。
const FallbackAnswer = "I cannot answer this from the book content. This information is not covered in 'Physical AI & Humanoid Robotics Essentials'."

// GeneratorConfig 生成器配置。
type GeneratorConfig struct {
	// SystemPrompt 提示词模板，包含 {{context}} 与 {{question}} 占位符。
	SystemPrompt string
	// ScoreThreshold 最高检索分数低于该阈值时直接返回固定回答。
	ScoreThreshold float64
	// MaxRetries 生成或解析失败时的额外重试次数。
	MaxRetries int
}

// GenerationResult 生成结果。
type GenerationResult struct {
	// Answer 回答文本。
	Answer string
	// Citations 经过校验去重的引用列表。
	Citations []model.Citation
	// Fallback 是否为证据不足的固定回答。
	Fallback bool
	// TokenUsage LLM token 使用统计，固定回答时为 nil。
	TokenUsage *llm.TokenUsage
}

// Generator 基于检索候选生成有依据的回答。
// 回答必须由提供的上下文支撑：引用超出上下文的部分会被过滤，
// 证据不足时返回固定回答而不调用 LLM。
type Generator struct {
	chatProvider llm.ChatProvider
	config       *GeneratorConfig
}

// NewGenerator 创建生成器实例。
func NewGenerator(chatProvider llm.ChatProvider, config *GeneratorConfig) *Generator {
	return &Generator{
		chatProvider: chatProvider,
		config:       config,
	}
}

// llmAnswer LLM 输出的结构化回答。
type llmAnswer struct {
	Answer    string           `json:"answer"`
	Citations []model.Citation `json:"citations"`
}

// GenerateAnswer 根据候选生成回答。
// 候选为空或最高分低于阈值时短路返回固定回答，不调用 LLM。
func (g *Generator) GenerateAnswer(ctx context.Context, question string, candidates []*model.RetrievalCandidate) (*GenerationResult, error) {
	if !g.hasSufficientEvidence(candidates) {
		logger.Infow("insufficient evidence, returning fallback answer",
			"candidates", len(candidates), "threshold", g.config.ScoreThreshold)
		return &GenerationResult{
			Answer:    FallbackAnswer,
			Citations: []model.Citation{},
			Fallback:  true,
		}, nil
	}

	basePrompt := g.buildPrompt(question, candidates)

	var lastErr error
	var malformed bool
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		prompt := basePrompt
		if attempt > 0 {
			logger.Warnw("answer generation retry", "attempt", attempt, "error", lastErr.Error())
			// 上一次输出不可解析时附加纠正指令重试
			if malformed {
				prompt = basePrompt + correctiveInstruction(lastErr)
			}
		}

		resp, err := g.chatProvider.Generate(ctx, prompt, "")
		if err != nil {
			lastErr = err
			malformed = false
			continue
		}

		parsed, err := parseAnswer(resp.Content)
		if err != nil {
			lastErr = err
			malformed = true
			continue
		}

		citations := g.filterCitations(parsed.Citations, candidates)
		return &GenerationResult{
			Answer:     parsed.Answer,
			Citations:  citations,
			TokenUsage: resp.TokenUsage,
		}, nil
	}

	return nil, errors.ErrRAGGenerationFailed.WithCause(lastErr)
}

// correctiveInstruction 生成重试时附加的格式纠正指令。
func correctiveInstruction(parseErr error) string {
	return fmt.Sprintf(
		"\n\nYour previous response could not be parsed (%v). "+
			"Respond with a single JSON object only, no surrounding text: "+
			`{"answer": "...", "citations": [{"chapter": 1, "section": "1.1 Title", "paragraph": 0}]}`,
		parseErr)
}

// hasSufficientEvidence 判定候选是否足以支撑回答。
func (g *Generator) hasSufficientEvidence(candidates []*model.RetrievalCandidate) bool {
	if len(candidates) == 0 {
		return false
	}
	best := candidates[0].RerankScore
	for _, c := range candidates[1:] {
		if c.RerankScore > best {
			best = c.RerankScore
		}
	}
	return best >= g.config.ScoreThreshold
}

// buildPrompt 将候选拼装为带出处标注的上下文并填入模板。
func (g *Generator) buildPrompt(question string, candidates []*model.RetrievalCandidate) string {
	var contextBuilder strings.Builder
	for i, c := range candidates {
		section := c.Section
		if section == "" {
			section = "(chapter text)"
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] Chapter %d, %s, paragraph %d:\n%s\n\n",
			i+1, c.ChapterNumber, section, c.ParagraphIndex, c.Content))
	}

	prompt := strings.ReplaceAll(g.config.SystemPrompt, "{{context}}", contextBuilder.String())
	return strings.ReplaceAll(prompt, "{{question}}", question)
}

// parseAnswer 解析 LLM 的 JSON 输出，容忍 Markdown 代码围栏。
func parseAnswer(content string) (*llmAnswer, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// 提取首尾花括号之间的内容，容忍围栏外的附加说明
	if start := strings.Index(text, "{"); start > 0 {
		text = text[start:]
	}
	if end := strings.LastIndex(text, "}"); end >= 0 && end < len(text)-1 {
		text = text[:end+1]
	}

	var parsed llmAnswer
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable answer: %w", err)
	}
	if strings.TrimSpace(parsed.Answer) == "" {
		return nil, fmt.Errorf("empty answer field")
	}
	return &parsed, nil
}

// filterCitations 过滤引用超出提供上下文的条目并去重。
// 违规引用作为质量信号记录，不中断请求。
func (g *Generator) filterCitations(citations []model.Citation, candidates []*model.RetrievalCandidate) []model.Citation {
	type chunkKey struct {
		chapter   int
		paragraph int
	}
	chapterSet := make(map[int]bool)
	chunkSet := make(map[chunkKey]bool)
	for _, c := range candidates {
		chapterSet[c.ChapterNumber] = true
		chunkSet[chunkKey{c.ChapterNumber, c.ParagraphIndex}] = true
	}

	seen := make(map[string]bool)
	valid := make([]model.Citation, 0, len(citations))
	for _, cit := range citations {
		grounded := chapterSet[cit.Chapter]
		if grounded && cit.Paragraph != nil {
			grounded = chunkSet[chunkKey{cit.Chapter, *cit.Paragraph}]
		}
		if !grounded {
			logger.Warnw("citation outside supplied context, dropping",
				"code", errors.ErrRAGGroundingViolation.Code,
				"chapter", cit.Chapter,
				"section", cit.Section,
			)
			continue
		}

		key := fmt.Sprintf("%d|%s", cit.Chapter, cit.Section)
		if cit.Paragraph != nil {
			key = fmt.Sprintf("%s|%d", key, *cit.Paragraph)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, cit)
	}
	return valid
}
