package call

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("call session not found")

// Session is the live in-memory state of one outbound call.
type Session struct {
	ID             string     `json:"call_id"`
	ProviderCallID string     `json:"provider_call_id"`
	ConversationID string     `json:"conversation_id"`
	CampaignID     string     `json:"campaign_id,omitempty"`
	ContactID      string     `json:"contact_id,omitempty"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Status         Status     `json:"status"`
	Reason         Reason     `json:"termination_reason,omitempty"`
	AnsweredBy     string     `json:"answered_by,omitempty"`
	RecordingRef   string     `json:"recording_ref,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	AnsweredAt     *time.Time `json:"answered_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Duration       time.Duration
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Registry is the process-wide table of in-flight calls. It is constructed
// explicitly and passed by reference; there is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byProvID map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byProvID: make(map[string]string),
	}
}

// Create registers a fresh session in the initiated state. The session
// exists before any provider acknowledgment so the first status callback
// always finds it.
func (r *Registry) Create(campaignID, contactID, from, to string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		CampaignID:     campaignID,
		ContactID:      contactID,
		From:           from,
		To:             to,
		Status:         StatusInitiated,
		StartedAt:      now,
		LastActivityAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return clone(s)
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// GetByProviderID resolves a provider call reference to the local session.
// Late provider events for already-evicted calls get ErrNotFound, which
// callers must treat as benign.
func (r *Registry) GetByProviderID(providerCallID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byProvID[providerCallID]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// BindProviderID attaches the provider's call reference once PlaceCall returns.
func (r *Registry) BindProviderID(id, providerCallID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.ProviderCallID = providerCallID
	r.byProvID[providerCallID] = id
	return nil
}

// Update applies a mutation under the registry lock. The mutation must not
// change Status; state changes go through Transition.
func (r *Registry) Update(id string, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return ErrNotFound
	}
	fn(s)
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// Transition atomically moves a session to a new status if the lifecycle
// rules allow it. It returns the resulting session and whether the change
// was applied. A false return with a nil error means the transition was
// rejected (already terminal, or regressive) — the caller decides whether
// that is an error or an expected no-op.
func (r *Registry) Transition(id string, to Status) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !CanTransition(s.Status, to) {
		return clone(s), false, nil
	}
	r.applyLocked(s, to)
	return clone(s), true, nil
}

// Conclude moves a session to the terminal status its progress implies:
// answered calls complete, unanswered ones cancel. Derivation and
// check-and-set happen in one critical section, so an answer racing the
// hangup is never recorded as canceled.
func (r *Registry) Conclude(id string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	to := StatusCompleted
	if s.Status != StatusInProgress {
		to = StatusCanceled
	}
	if !CanTransition(s.Status, to) {
		return clone(s), false, nil
	}
	r.applyLocked(s, to)
	return clone(s), true, nil
}

func (r *Registry) applyLocked(s *Session, to Status) {
	s.Status = to
	now := time.Now().UTC()
	s.LastActivityAt = now
	if to == StatusInProgress && s.AnsweredAt == nil {
		s.AnsweredAt = &now
	}
	if IsTerminal(to) && s.EndedAt == nil {
		s.EndedAt = &now
		s.Duration = now.Sub(s.StartedAt)
	}
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if s.ProviderCallID != "" {
		delete(r.byProvID, s.ProviderCallID)
	}
	delete(r.sessions, id)
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, s := range r.sessions {
		if !IsTerminal(s.Status) {
			count++
		}
	}
	return count
}

// StaleBefore returns the ids of live sessions with no activity since cutoff.
// The inactivity janitor feeds these to the terminator.
func (r *Registry) StaleBefore(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, s := range r.sessions {
		if IsTerminal(s.Status) {
			continue
		}
		if s.LastActivityAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
