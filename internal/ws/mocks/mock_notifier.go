package mocks

import (
	"github.com/stretchr/testify/mock"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Broadcast(event string, payload any) {
	m.Called(event, payload)
}

func (m *MockNotifier) Publish(room, event string, payload any) {
	m.Called(room, event, payload)
}
