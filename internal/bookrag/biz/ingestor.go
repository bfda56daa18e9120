package biz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/internal/model"
	"github.com/kart-io/bookrag/internal/pkg/rag/docutil"
	"github.com/kart-io/bookrag/pkg/errors"
	"github.com/kart-io/bookrag/pkg/llm"
)

// vectorIDNamespace 向量 ID 的 UUID v5 命名空间。
// 固定命名空间保证相同的 集合:章节:段落 总是生成相同的向量 ID。
var vectorIDNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// IngestorConfig 摄取器配置。
type IngestorConfig struct {
	// Collection 向量集合名称。
	Collection string
	// DefaultSource 请求未指定来源时使用的书籍路径，可为空。
	DefaultSource string
	// EmbedBatchSize 单批嵌入的块数上限。
	EmbedBatchSize int
	// UpsertRetries 向量写入失败时的重试次数。
	UpsertRetries int
	// RetryDelay 重试基础延迟，按尝试次数线性递增。
	RetryDelay time.Duration
}

// DefaultIngestorConfig 返回默认摄取配置。
func DefaultIngestorConfig(collection string) *IngestorConfig {
	return &IngestorConfig{
		Collection:     collection,
		EmbedBatchSize: 100,
		UpsertRetries:  3,
		RetryDelay:     time.Second,
	}
}

// Ingestor 负责书籍摄取：解析、分块、嵌入并写入向量与关系存储。
// 同一章节同时只有一个写入者，重复摄取原子替换该章节的全部数据。
type Ingestor struct {
	vectorStore   store.VectorStore
	bookStore     store.BookStore
	embedProvider llm.EmbeddingProvider
	segmenter     *Segmenter
	config        *IngestorConfig

	// chapterLocks 按章节号加锁，防止并发重复摄取同一章节。
	mu           sync.Mutex
	chapterLocks map[int]*sync.Mutex
}

// NewIngestor 创建摄取器实例。
func NewIngestor(
	vectorStore store.VectorStore,
	bookStore store.BookStore,
	embedProvider llm.EmbeddingProvider,
	segmenter *Segmenter,
	config *IngestorConfig,
) *Ingestor {
	return &Ingestor{
		vectorStore:   vectorStore,
		bookStore:     bookStore,
		embedProvider: embedProvider,
		segmenter:     segmenter,
		config:        config,
		chapterLocks:  make(map[int]*sync.Mutex),
	}
}

// chapterLock 返回指定章节的互斥锁。
func (ing *Ingestor) chapterLock(chapterNumber int) *sync.Mutex {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	lock, ok := ing.chapterLocks[chapterNumber]
	if !ok {
		lock = &sync.Mutex{}
		ing.chapterLocks[chapterNumber] = lock
	}
	return lock
}

// VectorID 基于 集合:章节:段落 确定性生成向量 ID。
func VectorID(collection string, chapterNumber, paragraphIndex int) string {
	name := fmt.Sprintf("%s:%d:%d", collection, chapterNumber, paragraphIndex)
	return uuid.NewSHA1(vectorIDNamespace, []byte(name)).String()
}

// LoadBook 从文件、目录或 URL 摄取书籍。
// source 为空时回退到配置的默认书籍路径。
func (ing *Ingestor) LoadBook(ctx context.Context, source string) (*model.LoadReport, error) {
	start := time.Now()

	if source == "" {
		source = ing.config.DefaultSource
	}
	if source == "" {
		return nil, errors.ErrRAGBookSourceInvalid.WithMessage("book source is empty and no default book path is configured")
	}

	content, err := ing.readSource(ctx, source)
	if err != nil {
		return nil, err
	}

	chapters, err := ParseBook(content)
	if err != nil {
		return nil, err
	}

	if err := ing.vectorStore.EnsureCollection(ctx, &store.CollectionConfig{
		Name:        ing.config.Collection,
		Description: "book chunks for grounded question answering",
		Dimension:   ing.embedProvider.Dimensions(),
	}); err != nil {
		return nil, err
	}

	report := &model.LoadReport{
		Status:         "success",
		EmbeddingModel: ing.embedProvider.Name(),
	}

	for _, chapter := range chapters {
		chunksCreated, vectorsUpserted, err := ing.ingestChapter(ctx, chapter)
		if err != nil {
			return nil, errors.ErrRAGIngestFailed.WithCause(err)
		}
		report.ChaptersProcessed++
		report.ChunksCreated += chunksCreated
		report.VectorsUpserted += vectorsUpserted
	}

	report.ProcessingTimeMs = time.Since(start).Milliseconds()
	logger.Infow("book ingested",
		"source", source,
		"chapters", report.ChaptersProcessed,
		"chunks", report.ChunksCreated,
		"duration_ms", report.ProcessingTimeMs,
	)
	return report, nil
}

// ingestChapter 摄取单个章节：分块、嵌入、替换向量与关系记录。
func (ing *Ingestor) ingestChapter(ctx context.Context, chapter *BookChapter) (int, int, error) {
	lock := ing.chapterLock(chapter.Number)
	lock.Lock()
	defer lock.Unlock()

	chunks := ing.segmenter.SegmentChapter(chapter)
	logger.Infow("ingesting chapter", "chapter", chapter.Number, "title", chapter.Title, "chunks", len(chunks))

	body := chapter.Body()
	if err := ing.bookStore.UpsertChapter(ctx, &model.Chapter{
		ChapterNumber: chapter.Number,
		Title:         chapter.Title,
		RawText:       body,
		WordCount:     len(strings.Fields(body)),
	}); err != nil {
		return 0, 0, err
	}

	if len(chunks) == 0 {
		// 空章节：清空旧数据后结束
		if err := ing.vectorStore.DeleteChapter(ctx, ing.config.Collection, chapter.Number); err != nil {
			return 0, 0, err
		}
		return 0, 0, ing.bookStore.ReplaceChunks(ctx, chapter.Number, nil)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := ing.embedBatches(ctx, texts)
	if err != nil {
		return 0, 0, err
	}

	vectors := make([]*store.Vector, len(chunks))
	records := make([]*model.Chunk, len(chunks))
	for i, c := range chunks {
		id := VectorID(ing.config.Collection, chapter.Number, c.ParagraphIndex)
		vectors[i] = &store.Vector{
			ID:             id,
			Embedding:      embeddings[i],
			ChapterNumber:  chapter.Number,
			ParagraphIndex: c.ParagraphIndex,
			Section:        c.Section,
			Content:        c.Content,
		}
		records[i] = &model.Chunk{
			ChapterNumber:  chapter.Number,
			ParagraphIndex: c.ParagraphIndex,
			Section:        c.Section,
			Content:        c.Content,
			StartOffset:    c.StartOffset,
			EndOffset:      c.EndOffset,
			TokenCount:     c.TokenCount,
			VectorID:       id,
		}
	}

	// 先删旧向量再写新向量：重新摄取时旧段落不会残留
	if err := ing.vectorStore.DeleteChapter(ctx, ing.config.Collection, chapter.Number); err != nil {
		return 0, 0, err
	}

	upserted, err := ing.upsertWithRetry(ctx, vectors)
	if err != nil {
		return 0, 0, err
	}

	if err := ing.bookStore.ReplaceChunks(ctx, chapter.Number, records); err != nil {
		return 0, 0, err
	}

	return len(chunks), upserted, nil
}

// embedBatches 按批嵌入全部文本，保持输入顺序。
func (ing *Ingestor) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := ing.config.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := ing.embedProvider.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, errors.ErrRAGEmbeddingUnavailable.WithCause(err)
		}
		if len(batch) != end-start {
			return nil, errors.ErrRAGEmbeddingUnavailable.WithMessagef(
				"embedding provider returned %d vectors for %d texts", len(batch), end-start)
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

// upsertWithRetry 批量写入向量，失败时线性退避重试。
func (ing *Ingestor) upsertWithRetry(ctx context.Context, vectors []*store.Vector) (int, error) {
	batchSize := ing.config.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	total := 0
	for start := 0; start < len(vectors); start += batchSize {
		end := start + batchSize
		if end > len(vectors) {
			end = len(vectors)
		}

		var lastErr error
		for attempt := 0; attempt <= ing.config.UpsertRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return total, ctx.Err()
				case <-time.After(time.Duration(attempt) * ing.config.RetryDelay):
				}
			}

			count, err := ing.vectorStore.Upsert(ctx, ing.config.Collection, vectors[start:end])
			if err == nil {
				total += count
				lastErr = nil
				break
			}
			// 维度不一致是一致性故障，重试无意义
			if errors.IsCode(err, errors.ErrRAGDimensionMismatch.Code) {
				return total, err
			}
			lastErr = err
			logger.Warnw("vector upsert failed, retrying", "attempt", attempt+1, "error", err.Error())
		}
		if lastErr != nil {
			return total, lastErr
		}
	}
	return total, nil
}

// readSource 读取书籍来源：HTTP URL、单个文件或包含 Markdown 文件的目录。
func (ing *Ingestor) readSource(ctx context.Context, source string) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		tmp, err := os.CreateTemp("", "bookrag-*.md")
		if err != nil {
			return "", errors.ErrRAGIngestFailed.WithCause(err)
		}
		tmpPath := tmp.Name()
		_ = tmp.Close()
		defer func() { _ = os.Remove(tmpPath) }()

		if err := docutil.DownloadFile(source, tmpPath); err != nil {
			return "", errors.ErrRAGBookSourceInvalid.WithCause(err)
		}
		content, err := docutil.ReadFileContent(tmpPath)
		if err != nil {
			return "", errors.ErrRAGIngestFailed.WithCause(err)
		}
		return content, nil
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if docutil.DirExists(source) {
		files, err := docutil.FindFiles(source, []string{".md", ".markdown"})
		if err != nil {
			return "", errors.ErrRAGBookSourceInvalid.WithCause(err)
		}
		if len(files) == 0 {
			return "", errors.ErrRAGBookSourceInvalid.WithMessagef("no markdown files in directory %s", source)
		}
		sort.Strings(files)

		var b strings.Builder
		for _, f := range files {
			content, err := docutil.ReadFileContent(f)
			if err != nil {
				return "", errors.ErrRAGIngestFailed.WithCause(err)
			}
			b.WriteString(content)
			b.WriteString("\n")
		}
		return b.String(), nil
	}

	if !docutil.FileExists(source) {
		return "", errors.ErrRAGBookSourceInvalid.WithMessagef("book source %s not found", filepath.Clean(source))
	}
	content, err := docutil.ReadFileContent(source)
	if err != nil {
		return "", errors.ErrRAGIngestFailed.WithCause(err)
	}
	return content, nil
}
