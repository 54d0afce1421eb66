package services

import (
	"github.com/stretchr/testify/mock"
)

// MockPublisher stands in for the Kafka event publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, event any) error {
	args := m.Called(topic, event)
	return args.Error(0)
}
