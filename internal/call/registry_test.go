package call

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry()
	s := r.Create("camp-1", "contact-1", "+15550100", "+15550200")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.Status != StatusInitiated {
		t.Fatalf("Status = %q, want %q", s.Status, StatusInitiated)
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.To != "+15550200" || got.CampaignID != "camp-1" {
		t.Fatalf("unexpected session state: %+v", got)
	}

	r.Remove(s.ID)
	if _, err := r.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Remove error = %v, want ErrNotFound", err)
	}
}

func TestRegistryGetAbsentReturnsNotFound(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(absent) error = %v, want ErrNotFound", err)
	}
	if _, err := r.GetByProviderID("CA123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByProviderID(absent) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryBindProviderID(t *testing.T) {
	r := NewRegistry()
	s := r.Create("", "", "+15550100", "+15550200")
	if err := r.BindProviderID(s.ID, "CA42"); err != nil {
		t.Fatalf("BindProviderID() error = %v", err)
	}
	got, err := r.GetByProviderID("CA42")
	if err != nil {
		t.Fatalf("GetByProviderID() error = %v", err)
	}
	if got.ID != s.ID {
		t.Fatalf("resolved ID = %q, want %q", got.ID, s.ID)
	}
}

func TestRegistryTransitionRules(t *testing.T) {
	r := NewRegistry()
	s := r.Create("", "", "+15550100", "+15550200")

	got, applied, err := r.Transition(s.ID, StatusInProgress)
	if err != nil || !applied {
		t.Fatalf("Transition(in-progress) = applied %v, err %v", applied, err)
	}
	if got.AnsweredAt == nil {
		t.Fatalf("AnsweredAt should be set on in-progress")
	}

	got, applied, err = r.Transition(s.ID, StatusCompleted)
	if err != nil || !applied {
		t.Fatalf("Transition(completed) = applied %v, err %v", applied, err)
	}
	if got.EndedAt == nil || got.Duration <= 0 {
		t.Fatalf("terminal transition should set EndedAt and Duration: %+v", got)
	}

	// Second terminal entry must be rejected, preserving the first outcome.
	got, applied, err = r.Transition(s.ID, StatusFailed)
	if err != nil {
		t.Fatalf("Transition(second terminal) error = %v", err)
	}
	if applied {
		t.Fatalf("second terminal transition must not apply")
	}
	if got.Status != StatusCompleted {
		t.Fatalf("Status = %q, want %q", got.Status, StatusCompleted)
	}
}

func TestRegistryConcludeDerivesTerminalStatus(t *testing.T) {
	r := NewRegistry()

	answered := r.Create("", "", "+15550100", "+15550200")
	if _, _, err := r.Transition(answered.ID, StatusInProgress); err != nil {
		t.Fatalf("Transition error = %v", err)
	}
	got, applied, err := r.Conclude(answered.ID)
	if err != nil || !applied {
		t.Fatalf("Conclude(answered) = applied %v, err %v", applied, err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("answered call concluded as %q, want %q", got.Status, StatusCompleted)
	}
	if got.EndedAt == nil || got.Duration <= 0 {
		t.Fatalf("conclude should set EndedAt and Duration: %+v", got)
	}

	ringing := r.Create("", "", "+15550100", "+15550300")
	if _, _, err := r.Transition(ringing.ID, StatusRinging); err != nil {
		t.Fatalf("Transition error = %v", err)
	}
	got, applied, err = r.Conclude(ringing.ID)
	if err != nil || !applied {
		t.Fatalf("Conclude(ringing) = applied %v, err %v", applied, err)
	}
	if got.Status != StatusCanceled {
		t.Fatalf("unanswered call concluded as %q, want %q", got.Status, StatusCanceled)
	}

	// Concluding again preserves the recorded outcome.
	got, applied, err = r.Conclude(ringing.ID)
	if err != nil {
		t.Fatalf("second Conclude error = %v", err)
	}
	if applied || got.Status != StatusCanceled {
		t.Fatalf("second Conclude = applied %v status %q, want no-op canceled", applied, got.Status)
	}

	if _, _, err := r.Conclude("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Conclude(absent) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryActiveCountAndStale(t *testing.T) {
	r := NewRegistry()
	a := r.Create("", "", "+1", "+2")
	b := r.Create("", "", "+1", "+3")
	if got := r.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}

	if _, _, err := r.Transition(a.ID, StatusCompleted); err != nil {
		t.Fatalf("Transition error = %v", err)
	}
	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount after terminal = %d, want 1", got)
	}

	stale := r.StaleBefore(time.Now().UTC().Add(time.Minute))
	if len(stale) != 1 || stale[0] != b.ID {
		t.Fatalf("StaleBefore = %v, want [%s]", stale, b.ID)
	}
}
