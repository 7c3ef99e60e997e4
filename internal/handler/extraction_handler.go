package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"smartmetal/internal/domain"
	"smartmetal/internal/export"
	"smartmetal/internal/service"
)

// ExtractRequest is the body of POST /extractions and /extractions/export.
type ExtractRequest struct {
	DocumentRef string           `json:"document_ref"`
	SkipModel   bool             `json:"skip_model"`
	Document    *domain.Document `json:"document" binding:"required"`
}

// StorageExtractRequest is the body of POST /extractions/from-storage.
type StorageExtractRequest struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key" binding:"required"`
	SkipModel bool   `json:"skip_model"`
	ResultKey string `json:"result_key"`
}

// ExtractionHandler handles line-item extraction endpoints.
type ExtractionHandler struct {
	extractionService service.ExtractionService
	defaultBucket     string
}

// NewExtractionHandler creates a new ExtractionHandler. defaultBucket is used
// when a storage request names no bucket.
func NewExtractionHandler(extractionService service.ExtractionService, defaultBucket string) *ExtractionHandler {
	return &ExtractionHandler{extractionService: extractionService, defaultBucket: defaultBucket}
}

// Extract handles POST /api/v1/extractions
func (h *ExtractionHandler) Extract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	out, err := h.extractionService.Extract(c.Request.Context(), &service.ExtractInput{
		Document:    req.Document,
		DocumentRef: req.DocumentRef,
		SkipModel:   req.SkipModel,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, out)
}

// ExtractFromStorage handles POST /api/v1/extractions/from-storage
func (h *ExtractionHandler) ExtractFromStorage(c *gin.Context) {
	var req StorageExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = h.defaultBucket
	}

	out, err := h.extractionService.ExtractFromStorage(c.Request.Context(), &service.StorageExtractInput{
		Bucket:    bucket,
		Key:       req.Key,
		SkipModel: req.SkipModel,
		ResultKey: req.ResultKey,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, out)
}

// Export handles POST /api/v1/extractions/export?format=csv|xlsx and
// returns the line items as a file download.
func (h *ExtractionHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		HandleError(c, err)
		return
	}

	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.bindError(c, err)
		return
	}

	out, err := h.extractionService.Extract(c.Request.Context(), &service.ExtractInput{
		Document:    req.Document,
		DocumentRef: req.DocumentRef,
		SkipModel:   req.SkipModel,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, out.Result, format); err != nil {
		HandleError(c, err)
		return
	}

	filename := export.BuildFilename(req.DocumentRef, format)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("X-Run-ID", out.RunID.String())
	c.Data(http.StatusOK, export.ContentType(format), buf.Bytes())
}

// GetRun handles GET /api/v1/extractions/runs/:id
func (h *ExtractionHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", "invalid run ID")
		return
	}

	run, err := h.extractionService.GetRun(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, run)
}

// ListRuns handles GET /api/v1/extractions/runs?limit=20
func (h *ExtractionHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	runs, err := h.extractionService.ListRuns(c.Request.Context(), limit)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondPaginated(c, runs, PagMeta{Total: len(runs), Limit: limit})
}

func (h *ExtractionHandler) bindError(c *gin.Context, err error) {
	if status, code, msg := MapDomainError(err); status == http.StatusRequestEntityTooLarge {
		RespondError(c, status, code, msg)
		return
	}
	RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}
