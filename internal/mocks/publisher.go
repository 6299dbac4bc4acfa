package mocks

import (
	"context"
	"sync"

	"tenantops/pkg/notify"
)

// MockPublisher implements notify.Publisher and records events.
type MockPublisher struct {
	PublishErr error

	mu     sync.Mutex
	events []notify.Event
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Name() string { return "mock" }

// Publish records e, then returns PublishErr.
func (m *MockPublisher) Publish(_ context.Context, e notify.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.PublishErr
}

func (m *MockPublisher) Close() error { return nil }

// Events returns a copy of the recorded events.
func (m *MockPublisher) Events() []notify.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Event(nil), m.events...)
}

// EventsOfKind filters recorded events.
func (m *MockPublisher) EventsOfKind(kind notify.Kind) []notify.Event {
	var out []notify.Event
	for _, e := range m.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
