package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("resource not found")
	ErrInvalidDocument         = errors.New("invalid document")
	ErrTableRejected           = errors.New("table rejected as line-item candidate")
	ErrModelTransport          = errors.New("model transport failure")
	ErrModelParse              = errors.New("model parse failure")
	ErrRateLimited             = errors.New("model backends rate limited")
	ErrCompletenessGate        = errors.New("completeness gate failure")
	ErrNoModelBackends         = errors.New("no model backends configured")
	ErrUnsupportedExportFormat = errors.New("unsupported export format")
	ErrStorageNotConfigured    = errors.New("object storage not configured")
)

// TableRejectedError is returned when a detected table fails column mapping.
// It is logged and the next candidate is tried.
type TableRejectedError struct {
	TableIndex int
	Reason     string
}

func (e *TableRejectedError) Error() string {
	return fmt.Sprintf("table %d rejected: %s", e.TableIndex, e.Reason)
}

func (e *TableRejectedError) Is(target error) bool {
	return target == ErrTableRejected
}

// ModelTransportError indicates the model service could not be reached after
// all retries on a backend.
type ModelTransportError struct {
	Backend  string
	Attempts int
	Err      error
}

func (e *ModelTransportError) Error() string {
	return fmt.Sprintf("model transport failure on %s after %d attempt(s): %v", e.Backend, e.Attempts, e.Err)
}

func (e *ModelTransportError) Is(target error) bool {
	return target == ErrModelTransport
}

func (e *ModelTransportError) Unwrap() error {
	return e.Err
}

// ModelParseError indicates the model answered but the answer could not be
// turned into line items. Never retried on the same backend.
type ModelParseError struct {
	Backend string
	Reason  string
	Snippet string
	Err     error
}

func (e *ModelParseError) Error() string {
	msg := fmt.Sprintf("model parse failure on %s: %s", e.Backend, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelParseError) Is(target error) bool {
	return target == ErrModelParse
}

func (e *ModelParseError) Unwrap() error {
	return e.Err
}

// CompletenessGateError aborts a document whose final item count is too far
// below the baseline row count.
type CompletenessGateError struct {
	Baseline        int
	Actual          int
	Coverage        float64
	MissingEstimate int
	Reason          string
}

func (e *CompletenessGateError) Error() string {
	return fmt.Sprintf("completeness gate failed: %s (baseline=%d actual=%d coverage=%.2f missing~%d)",
		e.Reason, e.Baseline, e.Actual, e.Coverage, e.MissingEstimate)
}

func (e *CompletenessGateError) Is(target error) bool {
	return target == ErrCompletenessGate
}

// ErrorKind returns a stable short name for an extraction failure, used in
// run records and API error codes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCompletenessGate):
		return "COMPLETENESS_GATE_FAILED"
	case errors.Is(err, ErrRateLimited):
		return "MODEL_RATE_LIMITED"
	case errors.Is(err, ErrModelParse):
		return "MODEL_PARSE_FAILED"
	case errors.Is(err, ErrModelTransport):
		return "MODEL_TRANSPORT_FAILED"
	case errors.Is(err, ErrNoModelBackends):
		return "NO_MODEL_BACKENDS"
	case errors.Is(err, ErrInvalidDocument):
		return "INVALID_DOCUMENT"
	case errors.Is(err, ErrTableRejected):
		return "TABLE_REJECTED"
	default:
		return "INTERNAL_ERROR"
	}
}
