package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"smartmetal/internal/port"
)

// MockReviewNotifier is a mock implementation of port.ReviewNotifier.
type MockReviewNotifier struct {
	mock.Mock
}

func (m *MockReviewNotifier) NotifyReview(ctx context.Context, req port.ReviewRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}
