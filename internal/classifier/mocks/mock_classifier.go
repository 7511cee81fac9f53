package mocks

import (
	"context"

	"scanapi/internal/classifier"

	"github.com/stretchr/testify/mock"
)

type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, blob classifier.Blob) (*classifier.Result, error) {
	args := m.Called(ctx, blob)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classifier.Result), args.Error(1)
}
