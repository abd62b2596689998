package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"infosec-rag/internal/app"
	"infosec-rag/internal/rag"
	"infosec-rag/internal/transport/http/middleware"
	"infosec-rag/internal/transport/http/response"
)

type RAGHandler struct {
	ragService *app.RAGService
}

// QueryRequest mirrors app.QueryRequest; pointer fields distinguish "absent"
// from false so the documented defaults apply.
type QueryRequest struct {
	Question            string   `json:"question" binding:"required,max=2000"`
	TopK                int      `json:"top_k" binding:"omitempty,min=1,max=50"`
	FilterCategory      string   `json:"filter_category"`
	IncludeSources      *bool    `json:"include_sources"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	UseEnhancement      *bool    `json:"use_enhancement"`
}

func NewRAGHandler(ragService *app.RAGService) *RAGHandler {
	return &RAGHandler{ragService: ragService}
}

func (h *RAGHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.ragService.Query(c.Request.Context(), app.QueryRequest{
		Question:            req.Question,
		TopK:                req.TopK,
		FilterCategory:      req.FilterCategory,
		IncludeSources:      boolOr(req.IncludeSources, true),
		SimilarityThreshold: req.SimilarityThreshold,
		UseEnhancement:      boolOr(req.UseEnhancement, true),
		ClientID:            c.GetUint(middleware.ContextClientIDKey),
	})
	if err != nil {
		switch {
		case errors.Is(err, rag.ErrValidation):
			response.ErrorWithData(c, http.StatusBadRequest, response.CodeBadRequest, err.Error(), result)
		case errors.Is(err, rag.ErrEmbedding), errors.Is(err, app.ErrNotReady):
			response.ErrorWithData(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error(), result)
		default:
			response.ErrorWithData(c, http.StatusInternalServerError, response.CodeInternalServer, "query failed", result)
		}
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) Stats(c *gin.Context) {
	stats, err := h.ragService.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error())
		return
	}
	response.OK(c, stats)
}

func (h *RAGHandler) Categories(c *gin.Context) {
	categories, err := h.ragService.Categories(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error())
		return
	}
	response.OK(c, gin.H{"categories": categories})
}

// Reload swaps in a freshly loaded index after an offline rebuild.
func (h *RAGHandler) Reload(c *gin.Context) {
	if err := h.ragService.Reload(c.Request.Context()); err != nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeServiceUnavailable, err.Error())
		return
	}
	stats, err := h.ragService.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "reload stats failed")
		return
	}
	response.OK(c, stats)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
