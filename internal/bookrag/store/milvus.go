package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/bookrag/pkg/component/milvus"
	"github.com/kart-io/bookrag/pkg/errors"
)

// milvusAPI 抽象 Milvus 客户端封装，便于测试注入。
type milvusAPI interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema *milvus.CollectionSchema) error
	DescribeDimension(ctx context.Context, collection string) (int, error)
	Upsert(ctx context.Context, collection string, data *milvus.UpsertData) (int64, error)
	Search(ctx context.Context, collection string, vector []float32, topK int, filter string, outputFields []string) ([]milvus.SearchResult, error)
	DeleteByExpr(ctx context.Context, collection, expr string) error
	GetCollectionStats(ctx context.Context, collection string) (int64, error)
	Close(ctx context.Context) error
}

// MilvusStore 实现基于 Milvus 的向量存储。
type MilvusStore struct {
	client milvusAPI

	// dims 缓存已知集合的向量维度，避免每次写入都 Describe。
	mu   sync.RWMutex
	dims map[string]int
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client) *MilvusStore {
	return &MilvusStore{
		client: client,
		dims:   make(map[string]int),
	}
}

// EnsureCollection 创建 Milvus 集合。集合已存在时校验其维度与配置一致，
// 不一致返回维度不匹配错误而不是复用旧集合。
func (s *MilvusStore) EnsureCollection(ctx context.Context, config *CollectionConfig) error {
	exists, err := s.client.HasCollection(ctx, config.Name)
	if err != nil {
		return errors.ErrRAGIndexUnavailable.WithCause(err)
	}
	if exists {
		dim, err := s.client.DescribeDimension(ctx, config.Name)
		if err != nil {
			return errors.ErrRAGIndexUnavailable.WithCause(err)
		}
		if dim != config.Dimension {
			return errors.ErrRAGDimensionMismatch.WithMessagef(
				"collection %s has dimension %d, config expects %d", config.Name, dim, config.Dimension)
		}

		s.mu.Lock()
		s.dims[config.Name] = dim
		s.mu.Unlock()
		return nil
	}

	schema := &milvus.CollectionSchema{
		Name:        config.Name,
		Description: config.Description,
		Dimension:   config.Dimension,
		PKMaxLen:    64,
		MetaFields: []milvus.MetaField{
			{Name: "chapter_number", DataType: entity.FieldTypeInt64},
			{Name: "paragraph_index", DataType: entity.FieldTypeInt64},
			{Name: "section", DataType: entity.FieldTypeVarChar, MaxLen: 255},
			{Name: "content", DataType: entity.FieldTypeVarChar, MaxLen: 65535},
		},
	}
	if err := s.client.CreateCollection(ctx, schema); err != nil {
		return errors.ErrRAGIndexUnavailable.WithCause(err)
	}

	s.mu.Lock()
	s.dims[config.Name] = config.Dimension
	s.mu.Unlock()
	return nil
}

// dimension 返回集合的向量维度，未缓存时查询 Milvus。
func (s *MilvusStore) dimension(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	dim, ok := s.dims[collection]
	s.mu.RUnlock()
	if ok {
		return dim, nil
	}

	exists, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return 0, errors.ErrRAGIndexUnavailable.WithCause(err)
	}
	if !exists {
		return 0, errors.ErrRAGCollectionNotFound.WithMessagef("collection %s not found", collection)
	}

	dim, err = s.client.DescribeDimension(ctx, collection)
	if err != nil {
		return 0, errors.ErrRAGIndexUnavailable.WithCause(err)
	}

	s.mu.Lock()
	s.dims[collection] = dim
	s.mu.Unlock()
	return dim, nil
}

// Upsert 批量写入向量，按 vector_id 幂等。
func (s *MilvusStore) Upsert(ctx context.Context, collection string, vectors []*Vector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}

	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return 0, err
	}

	ids := make([]string, len(vectors))
	embeddings := make([][]float32, len(vectors))
	metadata := map[string][]any{
		"chapter_number":  make([]any, len(vectors)),
		"paragraph_index": make([]any, len(vectors)),
		"section":         make([]any, len(vectors)),
		"content":         make([]any, len(vectors)),
	}

	for i, v := range vectors {
		if len(v.Embedding) != dim {
			return 0, errors.ErrRAGDimensionMismatch.WithMessagef(
				"vector %s has dimension %d, collection %s expects %d", v.ID, len(v.Embedding), collection, dim)
		}
		ids[i] = v.ID
		embeddings[i] = v.Embedding
		metadata["chapter_number"][i] = int64(v.ChapterNumber)
		metadata["paragraph_index"][i] = int64(v.ParagraphIndex)
		metadata["section"][i] = v.Section
		metadata["content"][i] = v.Content
	}

	count, err := s.client.Upsert(ctx, collection, &milvus.UpsertData{
		IDs:        ids,
		Embeddings: embeddings,
		Metadata:   metadata,
	})
	if err != nil {
		return 0, errors.ErrRAGIndexUnavailable.WithCause(err)
	}

	return int(count), nil
}

// Search 执行向量相似度搜索，结果按分数降序、同分按 ID 升序。
func (s *MilvusStore) Search(ctx context.Context, collection string, embedding []float32, topK int, filter *Filter) ([]*SearchHit, error) {
	dim, err := s.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(embedding) != dim {
		return nil, errors.ErrRAGDimensionMismatch.WithMessagef(
			"query has dimension %d, collection %s expects %d", len(embedding), collection, dim)
	}

	outputFields := []string{"chapter_number", "paragraph_index", "section", "content"}
	results, err := s.client.Search(ctx, collection, embedding, topK, buildFilterExpr(filter), outputFields)
	if err != nil {
		return nil, errors.ErrRAGIndexUnavailable.WithCause(err)
	}

	hits := make([]*SearchHit, 0, len(results))
	for _, r := range results {
		hit := &SearchHit{
			ID:    r.ID,
			Score: float64(r.Score),
		}
		if v, ok := r.Metadata["chapter_number"].(int64); ok {
			hit.ChapterNumber = int(v)
		}
		if v, ok := r.Metadata["paragraph_index"].(int64); ok {
			hit.ParagraphIndex = int(v)
		}
		if v, ok := r.Metadata["section"].(string); ok {
			hit.Section = v
		}
		if v, ok := r.Metadata["content"].(string); ok {
			hit.Content = v
		}
		hits = append(hits, hit)
	}

	sortHits(hits)
	return hits, nil
}

// DeleteChapter 删除指定章节的全部向量。
func (s *MilvusStore) DeleteChapter(ctx context.Context, collection string, chapterNumber int) error {
	expr := fmt.Sprintf("chapter_number == %d", chapterNumber)
	if err := s.client.DeleteByExpr(ctx, collection, expr); err != nil {
		return errors.ErrRAGIndexUnavailable.WithCause(err)
	}
	return nil
}

// Stats 返回集合中的向量条数。
func (s *MilvusStore) Stats(ctx context.Context, collection string) (int64, error) {
	count, err := s.client.GetCollectionStats(ctx, collection)
	if err != nil {
		return 0, errors.ErrRAGIndexUnavailable.WithCause(err)
	}
	return count, nil
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// buildFilterExpr 将过滤条件翻译为 Milvus 布尔表达式。
func buildFilterExpr(filter *Filter) string {
	if filter == nil {
		return ""
	}

	var parts []string
	if filter.ChapterNumber != nil {
		parts = append(parts, fmt.Sprintf("chapter_number == %d", *filter.ChapterNumber))
	}
	if filter.Section != "" {
		parts = append(parts, fmt.Sprintf("section == %q", filter.Section))
	}
	return strings.Join(parts, " && ")
}

// sortHits 按分数降序排列，同分按 ID 升序，保证结果确定性。
func sortHits(hits []*SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// 确保 MilvusStore 实现了 VectorStore 接口。
var _ VectorStore = (*MilvusStore)(nil)
