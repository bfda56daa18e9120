package biz

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/internal/bookrag/metrics"
	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/internal/model"
	"github.com/kart-io/bookrag/pkg/errors"
	"github.com/kart-io/bookrag/pkg/llm"
	"github.com/kart-io/bookrag/pkg/utils/json"
)

// DefaultMaxQueryLength 未配置时查询文本的最大长度（按字符计）。
const DefaultMaxQueryLength = 2000

// Service 定义书籍问答服务接口。
type Service interface {
	// LoadBook 从文件、目录或 URL 摄取书籍。
	LoadBook(ctx context.Context, source string) (*model.LoadReport, error)
	// Chat 执行一轮有依据的问答。
	Chat(ctx context.Context, sessionID, query string, filter *store.Filter) (*model.ChatResult, error)
	// GetHistory 按时间升序返回会话的问答历史。
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*model.AnswerRecord, error)
	// GetStats 获取知识库统计信息。
	GetStats(ctx context.Context) (map[string]any, error)
}

// ChatService 组合 Ingestor、Retriever、Reranker 和 Generator 提供完整的问答服务。
type ChatService struct {
	ingestor       *Ingestor
	retriever      *Retriever
	reranker       *Reranker
	generator      *Generator
	cache          *QueryCache
	vectorStore    store.VectorStore
	bookStore      store.BookStore
	embedProvider  llm.EmbeddingProvider
	chatProvider   llm.ChatProvider
	collection     string
	maxQueryLength int
	metrics        *metrics.ChatMetrics
}

// ServiceConfig 问答服务配置。
type ServiceConfig struct {
	IngestorConfig   *IngestorConfig
	SegmenterConfig  *SegmenterConfig
	RetrieverConfig  *RetrieverConfig
	RerankerConfig   *RerankerConfig
	GeneratorConfig  *GeneratorConfig
	QueryCacheConfig *QueryCacheConfig

	// MaxQueryLength 查询文本的最大长度（按字符计），0 使用默认值。
	MaxQueryLength int
}

// NewChatService 创建问答服务实例。
func NewChatService(
	vectorStore store.VectorStore,
	bookStore store.BookStore,
	embedProvider llm.EmbeddingProvider,
	chatProvider llm.ChatProvider,
	cache *QueryCache,
	config *ServiceConfig,
) (*ChatService, error) {
	segmenter, err := NewSegmenter(config.SegmenterConfig)
	if err != nil {
		return nil, err
	}

	maxQueryLength := config.MaxQueryLength
	if maxQueryLength <= 0 {
		maxQueryLength = DefaultMaxQueryLength
	}

	return &ChatService{
		ingestor:       NewIngestor(vectorStore, bookStore, embedProvider, segmenter, config.IngestorConfig),
		retriever:      NewRetriever(vectorStore, embedProvider, config.RetrieverConfig),
		reranker:       NewReranker(chatProvider, config.RerankerConfig),
		generator:      NewGenerator(chatProvider, config.GeneratorConfig),
		cache:          cache,
		vectorStore:    vectorStore,
		bookStore:      bookStore,
		embedProvider:  embedProvider,
		chatProvider:   chatProvider,
		collection:     config.IngestorConfig.Collection,
		maxQueryLength: maxQueryLength,
		metrics:        metrics.GetChatMetrics(),
	}, nil
}

// LoadBook 从文件、目录或 URL 摄取书籍。
func (s *ChatService) LoadBook(ctx context.Context, source string) (*model.LoadReport, error) {
	report, err := s.ingestor.LoadBook(ctx, source)
	if err != nil {
		s.metrics.RecordIngestion(0, 0, err)
		return nil, err
	}
	s.metrics.RecordIngestion(report.ChaptersProcessed, report.ChunksCreated, nil)
	return report, nil
}

// Chat 执行一轮问答：校验、会话处理、缓存、检索、重排序、生成、持久化。
// sessionID 为空时创建新会话；指定的会话不存在时返回会话不存在错误。
func (s *ChatService) Chat(ctx context.Context, sessionID, query string, filter *store.Filter) (*model.ChatResult, error) {
	start := time.Now()

	if err := s.validateQuery(query); err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, err
	}

	sessionID, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, err
	}

	queryID := uuid.New().String()

	// 缓存命中直接复用回答，但会话与查询标识属于本次请求
	if s.cache != nil && filter == nil {
		cached, cacheErr := s.cache.Get(ctx, query)
		if cacheErr == nil && cached != nil {
			cached.QueryID = queryID
			cached.SessionID = sessionID
			cached.CacheHit = true
			cached.ProcessingTimeMs = time.Since(start).Milliseconds()
			s.metrics.RecordQuery(true, nil)
			s.saveAnswer(ctx, query, cached)
			return cached, nil
		}
	}

	retrievalStart := time.Now()
	candidates, err := s.retriever.Retrieve(ctx, query, filter)
	s.metrics.RecordRetrieval(time.Since(retrievalStart), err)
	if err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, err
	}

	reranked := s.reranker.Rerank(ctx, query, candidates)

	llmStart := time.Now()
	genResult, err := s.generator.GenerateAnswer(ctx, query, reranked)
	llmDuration := time.Since(llmStart)

	promptTokens, completionTokens := 0, 0
	if genResult != nil && genResult.TokenUsage != nil {
		promptTokens = genResult.TokenUsage.PromptTokens
		completionTokens = genResult.TokenUsage.CompletionTokens
	}
	// 固定回答未调用 LLM，不计入调用指标
	if err != nil || !genResult.Fallback {
		s.metrics.RecordLLMCall(llmDuration, promptTokens, completionTokens, err)
	}
	if err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, err
	}
	if genResult.Fallback {
		s.metrics.RecordFallback()
	}

	result := &model.ChatResult{
		QueryID:          queryID,
		SessionID:        sessionID,
		Answer:           genResult.Answer,
		Citations:        genResult.Citations,
		RetrievalScore:   bestScore(reranked),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	s.saveAnswer(ctx, query, result)

	if s.cache != nil && filter == nil && !genResult.Fallback {
		// 缓存写入失败不影响正常返回，错误已在 cache.Set 中记录
		_ = s.cache.Set(ctx, query, result)
	}

	s.metrics.RecordQuery(false, nil)
	return result, nil
}

// GetHistory 按时间升序返回会话的问答历史。
func (s *ChatService) GetHistory(ctx context.Context, sessionID string, limit int) ([]*model.AnswerRecord, error) {
	if _, err := s.bookStore.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.bookStore.ListHistory(ctx, sessionID, limit)
}

// GetStats 获取知识库统计信息。
func (s *ChatService) GetStats(ctx context.Context) (map[string]any, error) {
	vectorCount, err := s.vectorStore.Stats(ctx, s.collection)
	if err != nil {
		// 集合尚未创建时返回零值统计而不是错误
		if errors.IsCode(err, errors.ErrRAGCollectionNotFound.Code) {
			vectorCount = 0
		} else {
			return nil, err
		}
	}

	chapterCount, err := s.bookStore.CountChapters(ctx)
	if err != nil {
		return nil, err
	}
	chunkCount, err := s.bookStore.CountChunks(ctx)
	if err != nil {
		return nil, err
	}

	stats := map[string]any{
		"collection":     s.collection,
		"vector_count":   vectorCount,
		"chapter_count":  chapterCount,
		"chunk_count":    chunkCount,
		"embed_provider": s.embedProvider.Name(),
		"chat_provider":  s.chatProvider.Name(),
	}

	if s.cache != nil {
		cacheStats, err := s.cache.GetStats(ctx)
		if err == nil {
			stats["cache"] = cacheStats
		}
	}

	stats["metrics"] = s.metrics.Stats()
	return stats, nil
}

// validateQuery 校验查询文本。
func (s *ChatService) validateQuery(query string) error {
	if len(query) == 0 {
		return errors.ErrRAGQueryInvalid.WithMessagef("query is empty")
	}
	if utf8.RuneCountInString(query) > s.maxQueryLength {
		return errors.ErrRAGQueryTooLong.WithMessagef("query exceeds %d characters", s.maxQueryLength)
	}
	return nil
}

// resolveSession 处理会话：空 ID 创建新会话，非空 ID 必须已存在。
func (s *ChatService) resolveSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		session := &model.Session{
			ID:           uuid.New().String(),
			LastActiveAt: time.Now(),
		}
		if err := s.bookStore.CreateSession(ctx, session); err != nil {
			return "", err
		}
		logger.Infow("created chat session", "session_id", session.ID)
		return session.ID, nil
	}

	if _, err := s.bookStore.GetSession(ctx, sessionID); err != nil {
		return "", err
	}
	if err := s.bookStore.TouchSession(ctx, sessionID); err != nil {
		logger.Warnw("failed to touch session", "session_id", sessionID, "error", err.Error())
	}
	return sessionID, nil
}

// saveAnswer 持久化一轮问答记录，失败只记录日志不中断请求。
func (s *ChatService) saveAnswer(ctx context.Context, query string, result *model.ChatResult) {
	citations, err := json.Marshal(result.Citations)
	if err != nil {
		logger.Warnw("failed to marshal citations", "error", err.Error())
		citations = []byte("[]")
	}

	record := &model.AnswerRecord{
		QueryID:          result.QueryID,
		SessionID:        result.SessionID,
		Query:            query,
		Answer:           result.Answer,
		Citations:        string(citations),
		RetrievalScore:   result.RetrievalScore,
		ProcessingTimeMs: result.ProcessingTimeMs,
	}
	if err := s.bookStore.SaveAnswer(ctx, record); err != nil {
		logger.Warnw("failed to save answer record", "session_id", result.SessionID, "error", err.Error())
	}
}

// bestScore 返回候选中的最高重排序分数。
func bestScore(candidates []*model.RetrievalCandidate) float64 {
	best := 0.0
	for _, c := range candidates {
		if c.RerankScore > best {
			best = c.RerankScore
		}
	}
	return best
}

// 确保 ChatService 实现了 Service 接口。
var _ Service = (*ChatService)(nil)
