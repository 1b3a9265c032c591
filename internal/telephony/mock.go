package telephony

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway is an in-memory Gateway for tests and local development.
type MockGateway struct {
	mu       sync.Mutex
	nextID   int
	placed   []PlaceCallRequest
	ended    []string
	PlaceErr error
	EndErr   error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) PlaceCall(_ context.Context, req PlaceCallRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}
	m.nextID++
	m.placed = append(m.placed, req)
	return fmt.Sprintf("MC%04d", m.nextID), nil
}

func (m *MockGateway) FetchCall(_ context.Context, providerCallID string) (CallInfo, error) {
	return CallInfo{ProviderCallID: providerCallID, Status: "in-progress"}, nil
}

func (m *MockGateway) EndCall(_ context.Context, providerCallID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EndErr != nil {
		return m.EndErr
	}
	m.ended = append(m.ended, providerCallID)
	return nil
}

func (m *MockGateway) Placed() []PlaceCallRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PlaceCallRequest(nil), m.placed...)
}

func (m *MockGateway) Ended() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ended...)
}
