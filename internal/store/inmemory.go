package store

import (
	"context"
	"sync"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	calls     map[string][]call.Session
	campaigns map[string]campaign.Campaign
	contacts  map[string]map[string]campaign.Contact
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		calls:     make(map[string][]call.Session),
		campaigns: make(map[string]campaign.Campaign),
		contacts:  make(map[string]map[string]campaign.Contact),
	}
}

func (s *InMemoryStore) SaveCall(_ context.Context, c *call.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[c.CampaignID] = append(s.calls[c.CampaignID], *c)
	return nil
}

func (s *InMemoryStore) RecentCalls(_ context.Context, campaignID string, limit int) ([]call.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.calls[campaignID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]call.Session, 0, limit)
	// Most recent first.
	for i := len(arr) - 1; i >= len(arr)-limit; i-- {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) SaveCampaign(_ context.Context, c *campaign.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = *c
	return nil
}

func (s *InMemoryStore) SaveContact(_ context.Context, campaignID string, ct *campaign.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.contacts[campaignID]
	if !ok {
		byID = make(map[string]campaign.Contact)
		s.contacts[campaignID] = byID
	}
	byID[ct.ID] = *ct
	return nil
}

func (s *InMemoryStore) LoadCampaigns(_ context.Context) ([]*campaign.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*campaign.Campaign
	for _, c := range s.campaigns {
		if c.Status == campaign.StatusCompleted || c.Status == campaign.StatusError {
			continue
		}
		cp := c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) LoadContacts(_ context.Context, campaignID string) ([]*campaign.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*campaign.Contact
	for _, ct := range s.contacts[campaignID] {
		cp := ct
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
