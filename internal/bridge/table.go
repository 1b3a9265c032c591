package bridge

import "sync"

// Table maps call ids to their live bridges. Constructed once per process
// and shared by the dialer (agent leg attach), the media websocket handler
// (telephony leg attach) and the terminator (shutdown).
type Table struct {
	mu      sync.Mutex
	bridges map[string]*Bridge
}

func NewTable() *Table {
	return &Table{bridges: make(map[string]*Bridge)}
}

func (t *Table) Put(callID string, b *Bridge) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bridges[callID] = b
}

func (t *Table) Get(callID string) (*Bridge, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bridges[callID]
	return b, ok
}

// Shutdown removes and closes the bridge for a call. Idempotent: the
// terminator and a racing leg-close both end up here.
func (t *Table) Shutdown(callID string) {
	t.mu.Lock()
	b, ok := t.bridges[callID]
	if ok {
		delete(t.bridges, callID)
	}
	t.mu.Unlock()
	if ok {
		b.Close()
	}
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bridges)
}
