// Package model provides data models for the bookrag service.
package model

import (
	"time"
)

// Chapter represents an ordered textbook unit, created once at ingestion.
type Chapter struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ChapterNumber int       `json:"chapter_number" gorm:"uniqueIndex;not null"`
	Title         string    `json:"title" gorm:"type:varchar(255);not null"`
	RawText       string    `json:"raw_text,omitempty" gorm:"type:text"`
	WordCount     int       `json:"word_count" gorm:"default:0"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Chapter.
func (Chapter) TableName() string {
	return "book_chapters"
}

// Chunk represents a bounded, overlap-aware slice of chapter text, the unit
// of retrieval. Chunks are immutable; re-ingestion replaces a chapter's
// chunk set wholesale.
type Chunk struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ChapterNumber  int       `json:"chapter_number" gorm:"uniqueIndex:idx_chapter_paragraph;not null"`
	ParagraphIndex int       `json:"paragraph_index" gorm:"uniqueIndex:idx_chapter_paragraph;not null"`
	Section        string    `json:"section,omitempty" gorm:"type:varchar(255)"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	TokenCount     int       `json:"token_count" gorm:"default:0"`
	StartOffset    int       `json:"start_offset" gorm:"default:0"`
	EndOffset      int       `json:"end_offset" gorm:"default:0"`
	VectorID       string    `json:"vector_id" gorm:"type:varchar(64);index"` // ID in the vector collection
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Chunk.
func (Chunk) TableName() string {
	return "book_chunks"
}

// Session represents a chat session.
type Session struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// TableName specifies the table name for Session.
func (Session) TableName() string {
	return "chat_sessions"
}

// AnswerRecord is a persisted chat turn, owned by a Session.
type AnswerRecord struct {
	ID               int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	QueryID          string    `json:"query_id" gorm:"type:varchar(36)"`
	SessionID        string    `json:"session_id" gorm:"type:varchar(36);index;not null"`
	Query            string    `json:"query" gorm:"type:text;not null"`
	Answer           string    `json:"answer" gorm:"type:text;not null"`
	Citations        string    `json:"citations" gorm:"type:text"` // JSON-encoded []Citation
	RetrievalScore   float64   `json:"retrieval_score" gorm:"default:0"`
	ProcessingTimeMs int64     `json:"processing_time_ms" gorm:"default:0"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName specifies the table name for AnswerRecord.
func (AnswerRecord) TableName() string {
	return "chat_history"
}

// Citation is a structured pointer justifying part of a generated answer.
// Section and Paragraph are optional.
type Citation struct {
	Chapter   int    `json:"chapter"`
	Section   string `json:"section,omitempty"`
	Paragraph *int   `json:"paragraph,omitempty"`
}

// RetrievalCandidate is an ephemeral, query-scoped retrieval result.
// Provenance is denormalized from the chunk payload so citations need no
// second lookup.
type RetrievalCandidate struct {
	VectorID       string  `json:"vector_id"`
	Score          float64 `json:"score"`
	RerankScore    float64 `json:"rerank_score,omitempty"`
	ChapterNumber  int     `json:"chapter_number"`
	ParagraphIndex int     `json:"paragraph_index"`
	Section        string  `json:"section,omitempty"`
	Content        string  `json:"content"`
}

// ChatResult is the outcome of one chat turn.
type ChatResult struct {
	QueryID          string     `json:"query_id"`
	SessionID        string     `json:"session_id"`
	Answer           string     `json:"answer"`
	Citations        []Citation `json:"citations"`
	RetrievalScore   float64    `json:"retrieval_score"`
	ProcessingTimeMs int64      `json:"processing_time_ms"`
	CacheHit         bool       `json:"cache_hit,omitempty"`
}

// LoadReport summarizes one book ingestion run.
type LoadReport struct {
	Status            string `json:"status"`
	ChaptersProcessed int    `json:"chapters_processed"`
	ChunksCreated     int    `json:"chunks_created"`
	VectorsUpserted   int    `json:"vectors_upserted"`
	EmbeddingModel    string `json:"embedding_model"`
	ProcessingTimeMs  int64  `json:"processing_time_ms"`
	Message           string `json:"message,omitempty"`
}
