// Package notify fans out call and campaign state changes to websocket
// subscribers on the events endpoint.
package notify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
)

const writeTimeout = 2 * time.Second

// Event is the envelope pushed to subscribers.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Hub broadcasts events to connected subscribers. Slow subscribers are
// dropped rather than allowed to stall the rest.
type Hub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]chan Event
	log  *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[*websocket.Conn]chan Event),
		log:  logrus.WithField("component", "notify"),
	}
}

// Subscribe registers a connection and starts its writer. It returns after
// the subscriber disconnects or falls too far behind.
func (h *Hub) Subscribe(conn *websocket.Conn) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[conn] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.subs, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for ev := range ch {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			h.log.WithError(err).Debug("subscriber write failed, dropping")
			return
		}
	}
}

// CallUpdate publishes the state of a call.
func (h *Hub) CallUpdate(s *call.Session) {
	h.broadcast("call_update", s)
}

// CampaignUpdate publishes the live view of a campaign.
func (h *Hub) CampaignUpdate(v campaign.ActiveView) {
	h.broadcast("campaign_update", v)
}

func (h *Hub) broadcast(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.WithError(err).WithField("type", eventType).Warn("failed to encode event")
		return
	}
	ev := Event{Type: eventType, Data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Full buffer means the subscriber stopped keeping up.
			close(ch)
			delete(h.subs, conn)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.subs {
		close(ch)
		delete(h.subs, conn)
	}
}
