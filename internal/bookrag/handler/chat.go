// Package handler provides HTTP handlers for the book chat service.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/bookrag/internal/bookrag/biz"
	"github.com/kart-io/bookrag/internal/bookrag/metrics"
	"github.com/kart-io/bookrag/internal/bookrag/store"
	"github.com/kart-io/bookrag/pkg/errors"
)

// ChatHandler handles book chat HTTP requests.
type ChatHandler struct {
	service        biz.Service
	requestTimeout time.Duration
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(service biz.Service, requestTimeout time.Duration) *ChatHandler {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &ChatHandler{
		service:        service,
		requestTimeout: requestTimeout,
	}
}

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// respondError 将业务错误映射为 HTTP 响应。
func respondError(c *gin.Context, err error) {
	errno := errors.FromError(err)
	c.JSON(errno.HTTPStatus(), ErrorResponse{Code: errno.Code, Message: errno.MessageEN})
}

// LoadBookRequest represents a book ingestion request.
type LoadBookRequest struct {
	// Source is a markdown file path, a directory of markdown files, or an HTTP URL.
	// When empty the server falls back to its configured book path.
	Source string `json:"source"`
}

// LoadBook ingests a book from the given source.
func (h *ChatHandler) LoadBook(c *gin.Context) {
	var req LoadBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ErrRAGBookSourceInvalid.WithCause(err))
		return
	}

	report, err := h.service.LoadBook(c.Request.Context(), req.Source)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: report})
}

// ChatRequest represents one chat turn.
type ChatRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id,omitempty"`

	// Optional retrieval scoping.
	Chapter *int   `json:"chapter,omitempty"`
	Section string `json:"section,omitempty"`
}

// Chat performs a grounded question-answering turn.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.ErrRAGQueryInvalid.WithCause(err))
		return
	}

	var filter *store.Filter
	if req.Chapter != nil || req.Section != "" {
		filter = &store.Filter{ChapterNumber: req.Chapter, Section: req.Section}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	result, err := h.service.Chat(ctx, req.SessionID, req.Query, filter)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			respondError(c, errors.ErrRAGQueryTimeout)
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// History returns the chat history of a session in chronological order.
func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Param("session_id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, errors.ErrRAGQueryInvalid.WithMessagef("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	records, err := h.service.GetHistory(c.Request.Context(), sessionID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: records})
}

// Stats returns knowledge base statistics.
func (h *ChatHandler) Stats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: stats})
}

// Metrics exposes business metrics in Prometheus text format.
func (h *ChatHandler) Metrics(c *gin.Context) {
	c.String(http.StatusOK, metrics.GetChatMetrics().Export("bookrag", "chat"))
}

// Healthz is a liveness probe.
func (h *ChatHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
