package store

import (
	"context"

	"github.com/kart-io/bookrag/internal/model"
)

// Vector 表示一条待写入向量存储的书籍块向量。
type Vector struct {
	// ID 向量 ID，由章节号与段落索引确定性生成，重复写入覆盖旧值。
	ID string
	// Embedding 嵌入向量。
	Embedding []float32
	// ChapterNumber 所属章节号。
	ChapterNumber int
	// ParagraphIndex 章节内段落索引，从 0 开始。
	ParagraphIndex int
	// Section 所属小节标题，可为空。
	Section string
	// Content 块文本内容。
	Content string
}

// SearchHit 表示一条向量检索结果。
type SearchHit struct {
	// ID 向量 ID。
	ID string
	// Score 相似度分数，余弦相似度，越大越相似。
	Score float64
	// ChapterNumber 所属章节号。
	ChapterNumber int
	// ParagraphIndex 章节内段落索引。
	ParagraphIndex int
	// Section 所属小节标题。
	Section string
	// Content 块文本内容。
	Content string
}

// Filter 检索前的元数据过滤条件，nil 字段表示不过滤。
type Filter struct {
	// ChapterNumber 仅检索指定章节。
	ChapterNumber *int
	// Section 仅检索指定小节。
	Section string
}

// CollectionConfig 集合配置。
type CollectionConfig struct {
	// Name 集合名称。
	Name string
	// Description 集合描述。
	Description string
	// Dimension 向量维度。
	Dimension int
}

// VectorStore 定义向量存储接口。
//
// 实现约定：
//   - Upsert 按 ID 幂等，维度不一致返回维度错误而不是静默转换；
//   - Search 结果按分数降序排列，同分按 ID 升序，保证确定性；
//   - 对不存在的集合操作返回集合不存在错误。
type VectorStore interface {
	// EnsureCollection 创建集合，已存在时为空操作。
	EnsureCollection(ctx context.Context, config *CollectionConfig) error

	// Upsert 批量写入向量，返回写入条数。
	Upsert(ctx context.Context, collection string, vectors []*Vector) (int, error)

	// Search 向量相似度搜索，filter 为 nil 时不过滤。
	Search(ctx context.Context, collection string, embedding []float32, topK int, filter *Filter) ([]*SearchHit, error)

	// DeleteChapter 删除指定章节的全部向量。
	DeleteChapter(ctx context.Context, collection string, chapterNumber int) error

	// Stats 返回集合中的向量条数。
	Stats(ctx context.Context, collection string) (int64, error)

	// Close 关闭连接。
	Close(ctx context.Context) error
}

// BookStore 定义书籍内容与会话的关系存储接口。
type BookStore interface {
	// UpsertChapter 按章节号写入章节元数据，已存在时更新。
	UpsertChapter(ctx context.Context, chapter *model.Chapter) error

	// ReplaceChunks 原子替换指定章节的全部块记录。
	ReplaceChunks(ctx context.Context, chapterNumber int, chunks []*model.Chunk) error

	// CountChapters 返回已摄取的章节数。
	CountChapters(ctx context.Context) (int64, error)

	// CountChunks 返回已摄取的块总数。
	CountChunks(ctx context.Context) (int64, error)

	// CreateSession 创建会话。
	CreateSession(ctx context.Context, session *model.Session) error

	// GetSession 按 ID 查询会话，不存在时返回记录不存在错误。
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// TouchSession 刷新会话的最后活跃时间。
	TouchSession(ctx context.Context, id string) error

	// SaveAnswer 持久化一轮问答记录。
	SaveAnswer(ctx context.Context, record *model.AnswerRecord) error

	// ListHistory 按时间升序返回会话的问答历史。
	ListHistory(ctx context.Context, sessionID string, limit int) ([]*model.AnswerRecord, error)
}
