package mocks

import (
	"context"
	"io"

	"scanapi/internal/storage"

	"github.com/stretchr/testify/mock"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Put(ctx context.Context, patientID string, r io.Reader, opt storage.PutOptions) (storage.BlobInfo, error) {
	args := m.Called(ctx, patientID, r, opt)
	if f, ok := args.Get(0).(func(context.Context, string, io.Reader, storage.PutOptions) storage.BlobInfo); ok {
		return f(ctx, patientID, r, opt), args.Error(1)
	}
	return args.Get(0).(storage.BlobInfo), args.Error(1)
}

func (m *MockStorage) Get(ctx context.Context, patientID string) (io.ReadCloser, storage.BlobInfo, error) {
	args := m.Called(ctx, patientID)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Get(1).(storage.BlobInfo), args.Error(2)
}

func (m *MockStorage) Delete(ctx context.Context, patientID string) error {
	args := m.Called(ctx, patientID)
	return args.Error(0)
}
