package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/outdial/internal/bridge"
	"github.com/acme/outdial/internal/protocol"
)

// MockGateway is an in-memory Gateway for tests and local development.
type MockGateway struct {
	mu         sync.Mutex
	nextID     int
	ReserveErr error
	DialErr    error
	Channels   []bridge.Channel
}

func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) ReserveSession(_ context.Context, agentID string) (SessionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReserveErr != nil {
		return SessionRef{}, m.ReserveErr
	}
	m.nextID++
	return SessionRef{
		SessionURL:     fmt.Sprintf("ws://mock.agent/%s/%d", agentID, m.nextID),
		ConversationID: fmt.Sprintf("conv-%d", m.nextID),
	}, nil
}

func (m *MockGateway) Dial(_ context.Context, _ SessionRef, _ protocol.AgentInit) (bridge.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	if len(m.Channels) == 0 {
		return newNopChannel(), nil
	}
	ch := m.Channels[0]
	m.Channels = m.Channels[1:]
	return ch, nil
}

// nopChannel swallows writes and blocks reads until closed.
type nopChannel struct {
	done chan struct{}
	once sync.Once
}

func newNopChannel() *nopChannel {
	return &nopChannel{done: make(chan struct{})}
}

func (c *nopChannel) ReadMessage() ([]byte, error) {
	<-c.done
	return nil, errors.New("channel closed")
}

func (c *nopChannel) WriteJSON(any) error { return nil }

func (c *nopChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
