package mocks

import (
	"context"

	"scanapi/internal/model"
	"scanapi/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockPatientService struct {
	mock.Mock
}

func (m *MockPatientService) Register(ctx context.Context, in service.RegisterInput) (*model.Patient, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Patient), args.Error(1)
}

func (m *MockPatientService) List(ctx context.Context) ([]model.Patient, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Patient), args.Error(1)
}

func (m *MockPatientService) Login(ctx context.Context, lastName, phone string) (*model.Patient, error) {
	args := m.Called(ctx, lastName, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Patient), args.Error(1)
}

func (m *MockPatientService) GetScan(ctx context.Context, id string) (*service.ScanDownload, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ScanDownload), args.Error(1)
}

func (m *MockPatientService) Classify(ctx context.Context, id string) (*service.ClassifyOutcome, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ClassifyOutcome), args.Error(1)
}

func (m *MockPatientService) Delete(ctx context.Context, id string) (*model.Patient, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Patient), args.Error(1)
}
