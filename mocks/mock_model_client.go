package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"smartmetal/internal/port"
)

// MockModelClient is a mock implementation of port.ModelClient.
type MockModelClient struct {
	mock.Mock
	name string
}

// NewMockModelClient returns a mock reporting the given backend name.
func NewMockModelClient(name string) *MockModelClient {
	return &MockModelClient{name: name}
}

func (m *MockModelClient) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *MockModelClient) Complete(ctx context.Context, req port.CompletionRequest) (*port.CompletionResponse, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, port.CompletionRequest) *port.CompletionResponse); ok {
		return fn(ctx, req), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.CompletionResponse), args.Error(1)
}
