package mocks

import (
	"context"
	"sync"
)

// StoredObject records one Put call.
type StoredObject struct {
	Key         string
	Body        []byte
	ContentType string
}

// MockObjectStore implements storage.Store in memory.
type MockObjectStore struct {
	// PutErr, when set, fails every Put.
	PutErr  error
	BaseURL string

	mu      sync.Mutex
	objects []StoredObject
}

func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{BaseURL: "https://docs.test"}
}

// Put implements storage.Store.
func (m *MockObjectStore) Put(_ context.Context, key string, body []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return "", m.PutErr
	}
	m.objects = append(m.objects, StoredObject{Key: key, Body: body, ContentType: contentType})
	return m.BaseURL + "/" + key, nil
}

// Objects returns a copy of everything stored.
func (m *MockObjectStore) Objects() []StoredObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoredObject(nil), m.objects...)
}
