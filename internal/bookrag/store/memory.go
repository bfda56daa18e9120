package store

import (
	"context"
	"sync"

	"github.com/kart-io/bookrag/internal/pkg/rag/textutil"
	"github.com/kart-io/bookrag/pkg/errors"
)

// memoryCollection 内存集合，向量按 ID 索引。
type memoryCollection struct {
	dimension int
	vectors   map[string]*Vector
}

// MemoryStore 实现基于内存的向量存储，使用精确余弦相似度。
// 用于测试和无 Milvus 的本地开发环境。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryStore 创建内存向量存储实例。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
	}
}

// EnsureCollection 创建集合，已存在时为空操作。
func (s *MemoryStore) EnsureCollection(_ context.Context, config *CollectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[config.Name]; ok {
		return nil
	}
	s.collections[config.Name] = &memoryCollection{
		dimension: config.Dimension,
		vectors:   make(map[string]*Vector),
	}
	return nil
}

func (s *MemoryStore) collection(name string) (*memoryCollection, error) {
	coll, ok := s.collections[name]
	if !ok {
		return nil, errors.ErrRAGCollectionNotFound.WithMessagef("collection %s not found", name)
	}
	return coll, nil
}

// Upsert 批量写入向量，按 ID 幂等覆盖。
func (s *MemoryStore) Upsert(_ context.Context, collection string, vectors []*Vector) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(collection)
	if err != nil {
		return 0, err
	}

	// 先整体校验维度，保证批次原子性
	for _, v := range vectors {
		if len(v.Embedding) != coll.dimension {
			return 0, errors.ErrRAGDimensionMismatch.WithMessagef(
				"vector %s has dimension %d, collection %s expects %d", v.ID, len(v.Embedding), collection, coll.dimension)
		}
	}

	for _, v := range vectors {
		coll.vectors[v.ID] = v
	}
	return len(vectors), nil
}

// Search 精确余弦相似度搜索，结果按分数降序、同分按 ID 升序。
func (s *MemoryStore) Search(_ context.Context, collection string, embedding []float32, topK int, filter *Filter) ([]*SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	if len(embedding) != coll.dimension {
		return nil, errors.ErrRAGDimensionMismatch.WithMessagef(
			"query has dimension %d, collection %s expects %d", len(embedding), collection, coll.dimension)
	}

	hits := make([]*SearchHit, 0, len(coll.vectors))
	for _, v := range coll.vectors {
		if !matchFilter(v, filter) {
			continue
		}
		hits = append(hits, &SearchHit{
			ID:             v.ID,
			Score:          textutil.CosineSimilarity(embedding, v.Embedding),
			ChapterNumber:  v.ChapterNumber,
			ParagraphIndex: v.ParagraphIndex,
			Section:        v.Section,
			Content:        v.Content,
		})
	}

	sortHits(hits)
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteChapter 删除指定章节的全部向量。
func (s *MemoryStore) DeleteChapter(_ context.Context, collection string, chapterNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, err := s.collection(collection)
	if err != nil {
		return err
	}

	for id, v := range coll.vectors {
		if v.ChapterNumber == chapterNumber {
			delete(coll.vectors, id)
		}
	}
	return nil
}

// Stats 返回集合中的向量条数。
func (s *MemoryStore) Stats(_ context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return int64(len(coll.vectors)), nil
}

// Close 关闭存储，内存实现为空操作。
func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

func matchFilter(v *Vector, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.ChapterNumber != nil && v.ChapterNumber != *filter.ChapterNumber {
		return false
	}
	if filter.Section != "" && v.Section != filter.Section {
		return false
	}
	return true
}

// 确保 MemoryStore 实现了 VectorStore 接口。
var _ VectorStore = (*MemoryStore)(nil)
