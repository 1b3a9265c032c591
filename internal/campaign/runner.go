package campaign

import (
	"context"
	"sync"
)

// runner is the live scheduling state for one campaign. r.mu guards the
// campaign, contacts, and the active-call map; cycleMu serializes
// scheduling cycles and is what Pause blocks on.
type runner struct {
	mu      sync.Mutex
	cycleMu sync.Mutex

	c        *Campaign
	contacts []*Contact
	// active maps in-flight call ids to the contact that owns the slot.
	active map[string]string

	wake   chan struct{}
	cancel context.CancelFunc
	// looping is true while a scheduler goroutine owns this runner.
	looping bool
	// counted is true while this campaign is in the active-campaigns gauge.
	counted bool
}

func newRunner(c *Campaign, contacts []*Contact) *runner {
	return &runner{
		c:        c,
		contacts: contacts,
		active:   make(map[string]string),
		wake:     make(chan struct{}, 1),
	}
}

// kick wakes the scheduler loop without waiting. The buffered channel
// coalesces bursts of triggers into one cycle.
func (r *runner) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *runner) contactByID(id string) *Contact {
	for _, ct := range r.contacts {
		if ct.ID == id {
			return ct
		}
	}
	return nil
}

// finishedLocked reports whether nothing is left to dial. Caller holds r.mu.
func (r *runner) finishedLocked() bool {
	if len(r.active) > 0 {
		return false
	}
	for _, ct := range r.contacts {
		if ct.Eligible(r.c.MaxAttempts) || ct.outstanding {
			return false
		}
	}
	return true
}

// view builds the read model. Caller holds r.mu.
func (r *runner) view() ActiveView {
	pending := 0
	for _, ct := range r.contacts {
		if ct.Eligible(r.c.MaxAttempts) {
			pending++
		}
	}
	return ActiveView{
		CampaignID:  r.c.ID,
		Name:        r.c.Name,
		Status:      r.c.Status,
		ActiveCalls: len(r.active),
		Pending:     pending,
		Stats:       r.c.Stats,
	}
}
