package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"smartmetal/internal/normalize"
)

// MockNormalizer is a mock implementation of service.Normalizer.
type MockNormalizer struct {
	mock.Mock
}

func (m *MockNormalizer) Normalize(ctx context.Context, req normalize.Request) (*normalize.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*normalize.Result), args.Error(1)
}
