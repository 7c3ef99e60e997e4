package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartmetal/internal/domain"
	"smartmetal/internal/middleware"
)

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *PagMeta    `json:"meta,omitempty"`
}

// APIError holds error details in the response.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// PagMeta holds pagination metadata.
type PagMeta struct {
	Total int `json:"total"`
	Limit int `json:"limit"`
}

// GateDetails is the error detail of a completeness gate failure.
type GateDetails struct {
	Baseline        int     `json:"baseline"`
	Actual          int     `json:"actual"`
	Coverage        float64 `json:"coverage"`
	MissingEstimate int     `json:"missing_estimate"`
	Reason          string  `json:"reason"`
}

// RespondOK sends a 200 success response.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondCreated sends a 201 success response.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// RespondPaginated sends a 200 success response with pagination metadata.
func RespondPaginated(c *gin.Context, data interface{}, meta PagMeta) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: &meta})
}

// RespondError sends an error response with the given status code.
func RespondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: msg},
	})
}

// MapDomainError translates domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code, msg string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds maximum allowed size"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrInvalidDocument):
		return http.StatusBadRequest, "INVALID_DOCUMENT", "document has no text and no tables or is not valid OCR JSON"
	case errors.Is(err, domain.ErrUnsupportedExportFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "unsupported export format; allowed: csv, xlsx"
	case errors.Is(err, domain.ErrCompletenessGate):
		return http.StatusUnprocessableEntity, "COMPLETENESS_GATE_FAILED", "too many line items were lost; document needs manual review"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "MODEL_RATE_LIMITED", "all model backends are rate limited; retry later"
	case errors.Is(err, domain.ErrModelParse):
		return http.StatusBadGateway, "MODEL_PARSE_FAILED", "model output could not be parsed"
	case errors.Is(err, domain.ErrModelTransport):
		return http.StatusServiceUnavailable, "MODEL_TRANSPORT_FAILED", "model service unreachable"
	case errors.Is(err, domain.ErrStorageNotConfigured):
		return http.StatusServiceUnavailable, "STORAGE_NOT_CONFIGURED", "object storage is not configured"
	case errors.Is(err, domain.ErrNoModelBackends):
		return http.StatusServiceUnavailable, "NO_MODEL_BACKENDS", "no model backends configured"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}

// HandleError maps a domain error and sends the appropriate error response.
func HandleError(c *gin.Context, err error) {
	status, code, msg := MapDomainError(err)
	if status >= 500 {
		zap.L().Error("handler: request failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("code", code),
			zap.Error(err),
		)
	}

	apiErr := &APIError{Code: code, Message: msg}
	var gate *domain.CompletenessGateError
	if errors.As(err, &gate) {
		apiErr.Details = GateDetails{
			Baseline:        gate.Baseline,
			Actual:          gate.Actual,
			Coverage:        gate.Coverage,
			MissingEstimate: gate.MissingEstimate,
			Reason:          gate.Reason,
		}
	}
	c.JSON(status, APIResponse{Success: false, Error: apiErr})
}
