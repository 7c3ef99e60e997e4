package port

import (
	"context"

	"smartmetal/internal/domain"
)

// ReviewRequest describes a document that needs manual review.
type ReviewRequest struct {
	RunID       string
	DocumentRef string
	Gate        *domain.CompletenessGateError
}

// ReviewNotifier tells an operator that a document failed the completeness
// gate. Delivery is best effort.
type ReviewNotifier interface {
	NotifyReview(ctx context.Context, req ReviewRequest) error
}
