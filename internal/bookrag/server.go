// Package booksvc provides the book chat service server implementation.
package booksvc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/bookrag/internal/bookrag/biz"
	"github.com/kart-io/bookrag/internal/bookrag/handler"
	"github.com/kart-io/bookrag/internal/bookrag/router"
	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/pkg/component/milvus"
	"github.com/kart-io/bookrag/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/bookrag/pkg/llm/ollama"
	_ "github.com/kart-io/bookrag/pkg/llm/openai"
	cacheopts "github.com/kart-io/bookrag/pkg/options/cache"
	llmopts "github.com/kart-io/bookrag/pkg/options/llm"
	logopts "github.com/kart-io/bookrag/pkg/options/logger"
	milvusopts "github.com/kart-io/bookrag/pkg/options/milvus"
	postgresopts "github.com/kart-io/bookrag/pkg/options/postgres"
	ragopts "github.com/kart-io/bookrag/pkg/options/rag"
	"github.com/kart-io/bookrag/pkg/redis"

	httpopts "github.com/kart-io/bookrag/pkg/options/http"
)

// Name is the name of the application.
const Name = "bookrag"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions      *httpopts.Options
	LogOptions       *logopts.Options
	MilvusOptions    *milvusopts.Options
	PostgresOptions  *postgresopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	CacheOptions     *cacheopts.Options
}

// Server represents the chat server.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	closers         []func()
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	// 1. 初始化日志
	cfg.LogOptions.AddInitialField("service.name", Name)
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting book chat service...")

	var closers []func()

	// 2. 初始化 Milvus 客户端与向量存储
	milvusClient, err := milvus.New(cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	closers = append(closers, func() { _ = milvusClient.Close(context.Background()) })
	vectorStore := store.NewMilvusStore(milvusClient)
	logger.Infow("Vector store initialized", "address", cfg.MilvusOptions.Address)

	// 3. 初始化 Postgres 与关系存储
	db, err := store.NewPostgresDB(cfg.PostgresOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		closers = append(closers, func() { _ = sqlDB.Close() })
	}
	bookStore := store.NewGormStore(db)
	logger.Infow("Book store initialized", "host", cfg.PostgresOptions.Host, "database", cfg.PostgresOptions.Database)

	// 4. 初始化 Redis（查询缓存与嵌入缓存共用）
	var redisClient *goredis.Client
	var queryCache *biz.QueryCache
	if cfg.CacheOptions.Enabled {
		redisClient, err = redis.NewWithContext(ctx, cfg.CacheOptions.Redis)
		if err != nil {
			// 缓存是可选依赖，连接失败降级运行
			logger.Warnw("failed to connect to redis, cache disabled", "error", err.Error())
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
			queryCache = biz.NewQueryCache(redisClient, &biz.QueryCacheConfig{
				Enabled:   true,
				TTL:       cfg.CacheOptions.TTL,
				KeyPrefix: cfg.CacheOptions.KeyPrefix,
			})
			logger.Infow("Query cache initialized", "ttl", cfg.CacheOptions.TTL)
		}
	} else {
		logger.Info("Cache is disabled")
	}

	// 5. 初始化 LLM 供应商
	embedProvider, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions.Provider, embeddingConfigMap(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if redisClient != nil {
		embedProvider = llm.NewCachedEmbeddingProvider(embedProvider, redisClient, nil)
	}
	logger.Infow("Embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
		"dimensions", embedProvider.Dimensions(),
	)

	chatProvider, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("Chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)

	// 6. 初始化 Biz 层
	chatService, err := biz.NewChatService(vectorStore, bookStore, embedProvider, chatProvider, queryCache, &biz.ServiceConfig{
		IngestorConfig: &biz.IngestorConfig{
			Collection:     cfg.RAGOptions.Collection,
			DefaultSource:  cfg.RAGOptions.BookPath,
			EmbedBatchSize: 100,
			UpsertRetries:  3,
			RetryDelay:     time.Second,
		},
		SegmenterConfig: &biz.SegmenterConfig{
			ChunkSize:    cfg.RAGOptions.ChunkSize,
			ChunkOverlap: cfg.RAGOptions.ChunkOverlap,
		},
		RetrieverConfig: &biz.RetrieverConfig{
			Collection: cfg.RAGOptions.Collection,
			TopK:       cfg.RAGOptions.TopK,
		},
		RerankerConfig: &biz.RerankerConfig{
			Enabled:      cfg.RAGOptions.RerankEnabled,
			FinalN:       cfg.RAGOptions.RerankTopN,
			VectorWeight: 0.3,
			ScorerWeight: 0.7,
		},
		GeneratorConfig: &biz.GeneratorConfig{
			SystemPrompt:   cfg.RAGOptions.SystemPrompt,
			ScoreThreshold: cfg.RAGOptions.ScoreThreshold,
			MaxRetries:     1,
		},
		QueryCacheConfig: &biz.QueryCacheConfig{
			Enabled:   cfg.CacheOptions.Enabled,
			TTL:       cfg.CacheOptions.TTL,
			KeyPrefix: cfg.CacheOptions.KeyPrefix,
		},
		MaxQueryLength: cfg.RAGOptions.MaxQueryLength,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat service: %w", err)
	}
	logger.Infow("Chat service initialized",
		"collection", cfg.RAGOptions.Collection,
		"top_k", cfg.RAGOptions.TopK,
		"rerank", cfg.RAGOptions.RerankEnabled,
		"score_threshold", cfg.RAGOptions.ScoreThreshold,
	)

	// 7. 初始化 HTTP 层
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	chatHandler := handler.NewChatHandler(chatService, cfg.HTTPOptions.RequestTimeout)
	router.Register(engine, chatHandler)

	httpServer := &http.Server{
		Addr:         cfg.HTTPOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
		WriteTimeout: cfg.HTTPOptions.WriteTimeout,
		IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
	}

	logger.Info("Book chat service is ready")
	return &Server{
		httpServer:      httpServer,
		shutdownTimeout: cfg.HTTPOptions.ShutdownTimeout,
		closers:         closers,
	}, nil
}

// embeddingConfigMap 构建嵌入供应商配置，带上集合维度约定。
func embeddingConfigMap(cfg *Config) map[string]any {
	m := cfg.EmbeddingOptions.ToConfigMap()
	if cfg.RAGOptions.EmbeddingDim > 0 {
		m["embed_dim"] = cfg.RAGOptions.EmbeddingDim
	}
	return m
}

// Run starts the server and blocks until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			s.closers[i]()
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
