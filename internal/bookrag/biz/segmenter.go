package biz

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kart-io/bookrag/pkg/errors"
)

// SegmenterConfig 分块器配置。
type SegmenterConfig struct {
	// ChunkSize 每块的最大 token 数。
	ChunkSize int
	// ChunkOverlap 相邻块之间的重叠 token 数。
	ChunkOverlap int
}

// TextChunk 表示一个分块结果。
type TextChunk struct {
	// Content 块文本。
	Content string
	// TokenCount 块的 token 数。
	TokenCount int
	// Section 所属小节标题，可为空。
	Section string
	// ParagraphIndex 章节内的块索引，从 0 开始。
	ParagraphIndex int
	// StartOffset 块首 token 在章节正文中的偏移。
	StartOffset int
	// EndOffset 块尾 token 的偏移（不含），EndOffset-StartOffset == TokenCount。
	EndOffset int
}

// Segmenter 将章节文本切分为有界、带重叠的块。
// 切分尊重句子边界：只有单个句子超过块上限时才在句内硬切。
type Segmenter struct {
	chunkSize    int
	chunkOverlap int
}

// NewSegmenter 创建分块器，配置非法时返回配置错误。
func NewSegmenter(config *SegmenterConfig) (*Segmenter, error) {
	if config.ChunkSize <= 0 {
		return nil, errors.ErrRAGConfigInvalid.WithMessagef("chunk size must be positive, got %d", config.ChunkSize)
	}
	if config.ChunkOverlap < 0 {
		return nil, errors.ErrRAGConfigInvalid.WithMessagef("chunk overlap must be non-negative, got %d", config.ChunkOverlap)
	}
	if config.ChunkSize <= config.ChunkOverlap {
		return nil, errors.ErrRAGConfigInvalid.WithMessagef(
			"chunk size %d must exceed overlap %d", config.ChunkSize, config.ChunkOverlap)
	}
	return &Segmenter{
		chunkSize:    config.ChunkSize,
		chunkOverlap: config.ChunkOverlap,
	}, nil
}

// sentence 句子及其 token 数和在原文中的 token 偏移。
type sentence struct {
	text   string
	tokens int
	offset int
}

// Segment 将文本切分为块。空白文本返回空切片。
func (s *Segmenter) Segment(text string) []TextChunk {
	sentences := s.splitSentences(text)
	if len(sentences) == 0 {
		return []TextChunk{}
	}

	var chunks []TextChunk
	var current []sentence
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		parts := make([]string, len(current))
		for i, sent := range current {
			parts[i] = sent.text
		}
		last := current[len(current)-1]
		chunks = append(chunks, TextChunk{
			Content:        strings.Join(parts, " "),
			TokenCount:     currentTokens,
			ParagraphIndex: len(chunks),
			StartOffset:    current[0].offset,
			EndOffset:      last.offset + last.tokens,
		})

		// 下一块以上一块尾部的句子开头，重叠不超过配置的 token 数
		overlap, overlapTokens := s.overlapTail(current)
		current = overlap
		currentTokens = overlapTokens
	}

	for _, sent := range sentences {
		if currentTokens+sent.tokens > s.chunkSize && len(current) > 0 {
			flush()
			// 重叠加上新句子仍超限时，放弃重叠，避免死循环
			if currentTokens+sent.tokens > s.chunkSize {
				current = nil
				currentTokens = 0
			}
		}
		current = append(current, sent)
		currentTokens += sent.tokens
	}

	if len(current) > 0 {
		parts := make([]string, len(current))
		for i, sent := range current {
			parts[i] = sent.text
		}
		last := current[len(current)-1]
		chunks = append(chunks, TextChunk{
			Content:        strings.Join(parts, " "),
			TokenCount:     currentTokens,
			ParagraphIndex: len(chunks),
			StartOffset:    current[0].offset,
			EndOffset:      last.offset + last.tokens,
		})
	}

	return chunks
}

// overlapTail 从句子列表尾部反向选取句子，总 token 数不超过重叠上限。
func (s *Segmenter) overlapTail(sentences []sentence) ([]sentence, int) {
	if s.chunkOverlap == 0 {
		return nil, 0
	}

	total := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		if total+sentences[i].tokens > s.chunkOverlap {
			break
		}
		total += sentences[i].tokens
		start = i
	}

	if start == len(sentences) {
		return nil, 0
	}
	tail := make([]sentence, len(sentences)-start)
	copy(tail, sentences[start:])
	return tail, total
}

// splitSentences 按句子边界切分文本，超长句子按 token 上限硬切。
// 句子边界为 .!? 之后跟随空白的位置。
func (s *Segmenter) splitSentences(text string) []sentence {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var raw []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		// 连续标点归入同一句
		for i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?') {
			i++
		}
		if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' || runes[i+1] == '\r' {
			part := strings.TrimSpace(string(runes[start : i+1]))
			if part != "" {
				raw = append(raw, part)
			}
			start = i + 1
		}
	}
	if start < len(runes) {
		part := strings.TrimSpace(string(runes[start:]))
		if part != "" {
			raw = append(raw, part)
		}
	}

	var sentences []sentence
	offset := 0
	for _, part := range raw {
		tokens := strings.Fields(part)
		if len(tokens) <= s.chunkSize {
			sentences = append(sentences, sentence{text: part, tokens: len(tokens), offset: offset})
			offset += len(tokens)
			continue
		}
		// 超长句子硬切为不超过块上限的片段
		for i := 0; i < len(tokens); i += s.chunkSize {
			end := i + s.chunkSize
			if end > len(tokens) {
				end = len(tokens)
			}
			piece := strings.Join(tokens[i:end], " ")
			sentences = append(sentences, sentence{text: piece, tokens: end - i, offset: offset + i})
		}
		offset += len(tokens)
	}

	return sentences
}

// BookSection 章节内的小节。
type BookSection struct {
	// Label 小节编号，如 "2.1"。
	Label string
	// Title 小节标题。
	Title string
	// Body 小节正文。
	Body string
}

// BookChapter 解析出的章节。
type BookChapter struct {
	// Number 章节号。
	Number int
	// Title 章节标题。
	Title string
	// Preamble 第一个小节之前的正文。
	Preamble string
	// Sections 小节列表。
	Sections []BookSection
}

// Body 返回章节的完整正文。
func (c *BookChapter) Body() string {
	var b strings.Builder
	b.WriteString(c.Preamble)
	for _, sec := range c.Sections {
		b.WriteString("\n")
		b.WriteString(sec.Body)
	}
	return strings.TrimSpace(b.String())
}

var (
	chapterHeadingRe = regexp.MustCompile(`^#\s+Chapter\s+(\d+)\s*[:：]\s*(.+)$`)
	sectionHeadingRe = regexp.MustCompile(`^##\s+(\d+\.\d+)\s+(.+)$`)
)

// ParseBook 解析 Markdown 格式的书籍内容。
// 章节标题形如 "# Chapter 2: Title"，小节标题形如 "## 2.1 Title"。
// 没有任何章节标题时返回来源无效错误。
func ParseBook(content string) ([]*BookChapter, error) {
	var chapters []*BookChapter
	var current *BookChapter
	var currentSection *BookSection
	var buf strings.Builder

	flushBody := func() {
		text := strings.TrimSpace(buf.String())
		buf.Reset()
		if current == nil || text == "" {
			return
		}
		if currentSection != nil {
			currentSection.Body = text
			current.Sections = append(current.Sections, *currentSection)
			currentSection = nil
		} else {
			current.Preamble = text
		}
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimRight(line, "\r")

		if m := chapterHeadingRe.FindStringSubmatch(trimmed); m != nil {
			flushBody()
			number, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, errors.ErrRAGBookSourceInvalid.WithMessagef("invalid chapter number in heading %q", trimmed)
			}
			current = &BookChapter{Number: number, Title: strings.TrimSpace(m[2])}
			chapters = append(chapters, current)
			continue
		}

		if m := sectionHeadingRe.FindStringSubmatch(trimmed); m != nil {
			flushBody()
			currentSection = &BookSection{Label: m[1], Title: strings.TrimSpace(m[2])}
			continue
		}

		buf.WriteString(trimmed)
		buf.WriteString("\n")
	}
	flushBody()

	if len(chapters) == 0 {
		return nil, errors.ErrRAGBookSourceInvalid.WithMessage("no chapter headings found in book source")
	}
	return chapters, nil
}

// SegmentChapter 对整章进行分块，小节前言与各小节分别切分，
// 段落索引与 token 偏移在章内连续递增。
func (s *Segmenter) SegmentChapter(chapter *BookChapter) []TextChunk {
	var all []TextChunk
	next := 0
	base := 0

	appendChunks := func(text, section string) {
		for _, chunk := range s.Segment(text) {
			chunk.Section = section
			chunk.ParagraphIndex = next
			chunk.StartOffset += base
			chunk.EndOffset += base
			next++
			all = append(all, chunk)
		}
		base += len(strings.Fields(text))
	}

	appendChunks(chapter.Preamble, "")
	for _, sec := range chapter.Sections {
		appendChunks(sec.Body, sec.Label+" "+sec.Title)
	}
	return all
}
