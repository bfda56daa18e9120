package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// RAG 管线错误码，服务代码 20。
// 错误码格式: AABBCCC (AA=20, BB=类别, CCC=序号)

var (
	// 请求参数错误 (类别 01)

	// ErrRAGQueryInvalid indicates the chat query failed validation.
	ErrRAGQueryInvalid = Register(New(MakeCode(ServiceRAG, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid query", "查询无效"))
	// ErrRAGQueryTooLong indicates the chat query exceeds the configured maximum length.
	ErrRAGQueryTooLong = Register(New(MakeCode(ServiceRAG, CategoryRequest, 2), http.StatusBadRequest, codes.InvalidArgument, "Query too long", "查询过长"))
	// ErrRAGBookSourceInvalid indicates the ingestion source is unusable.
	ErrRAGBookSourceInvalid = Register(New(MakeCode(ServiceRAG, CategoryRequest, 3), http.StatusBadRequest, codes.InvalidArgument, "Invalid book source", "书籍来源无效"))

	// 资源错误 (类别 04)

	// ErrRAGSessionNotFound indicates an unknown chat session id.
	ErrRAGSessionNotFound = Register(New(MakeCode(ServiceRAG, CategoryResource, 1), http.StatusNotFound, codes.NotFound, "Session not found", "会话不存在"))
	// ErrRAGCollectionNotFound indicates the vector collection is missing.
	// 一致性故障，需要运维介入，不自动修复。
	ErrRAGCollectionNotFound = Register(New(MakeCode(ServiceRAG, CategoryResource, 2), http.StatusInternalServerError, codes.FailedPrecondition, "Vector collection not found", "向量集合不存在"))

	// 外部依赖错误 (类别 10)

	// ErrRAGEmbeddingUnavailable indicates the embedding provider failed.
	ErrRAGEmbeddingUnavailable = Register(New(MakeCode(ServiceRAG, CategoryNetwork, 1), http.StatusServiceUnavailable, codes.Unavailable, "Embedding service unavailable", "向量化服务不可用"))
	// ErrRAGIndexUnavailable indicates the vector index is unreachable.
	ErrRAGIndexUnavailable = Register(New(MakeCode(ServiceRAG, CategoryNetwork, 2), http.StatusServiceUnavailable, codes.Unavailable, "Vector index unavailable", "向量索引不可用"))

	// 内部错误 (类别 07)

	// ErrRAGDimensionMismatch indicates an embedding dimension inconsistent
	// with the collection. 一致性故障，拒绝写入，不做静默转换。
	ErrRAGDimensionMismatch = Register(New(MakeCode(ServiceRAG, CategoryInternal, 1), http.StatusInternalServerError, codes.FailedPrecondition, "Embedding dimension mismatch", "向量维度不匹配"))
	// ErrRAGGenerationFailed indicates the language model produced no usable answer.
	ErrRAGGenerationFailed = Register(New(MakeCode(ServiceRAG, CategoryInternal, 2), http.StatusInternalServerError, codes.Internal, "Answer generation failed", "回答生成失败"))
	// ErrRAGGroundingViolation indicates citations referencing context that
	// was never supplied. Recovered by filtering; logged as a quality signal.
	ErrRAGGroundingViolation = Register(New(MakeCode(ServiceRAG, CategoryInternal, 3), http.StatusInternalServerError, codes.Internal, "Citation outside supplied context", "引用超出提供的上下文"))
	// ErrRAGIngestFailed indicates book ingestion failed.
	ErrRAGIngestFailed = Register(New(MakeCode(ServiceRAG, CategoryInternal, 4), http.StatusInternalServerError, codes.Internal, "Book ingestion failed", "书籍摄取失败"))

	// 超时错误 (类别 11)

	// ErrRAGQueryTimeout indicates the per-request deadline expired.
	ErrRAGQueryTimeout = Register(New(MakeCode(ServiceRAG, CategoryTimeout, 1), http.StatusRequestTimeout, codes.DeadlineExceeded, "Query timeout", "查询超时"))

	// 配置错误 (类别 12)

	// ErrRAGConfigInvalid indicates invalid pipeline parameters, fatal at startup.
	ErrRAGConfigInvalid = Register(New(MakeCode(ServiceRAG, CategoryConfig, 1), http.StatusInternalServerError, codes.FailedPrecondition, "Invalid pipeline configuration", "管线配置无效"))
)
