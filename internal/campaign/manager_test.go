package campaign

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/reliability"
)

// Registered once per test binary; promauto panics on duplicates.
var testMetrics = observability.NewMetrics("campaign_test")

type dialRec struct {
	campaignID string
	contactID  string
	callID     string
}

type fakeDialer struct {
	mu     sync.Mutex
	seq    int
	dials  []dialRec
	script map[string][]error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{script: make(map[string][]error)}
}

func (d *fakeDialer) fail(contactID string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script[contactID] = append(d.script[contactID], errs...)
}

func (d *fakeDialer) Dial(_ context.Context, campaignID string, ct *Contact) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if errs := d.script[ct.ID]; len(errs) > 0 {
		err := errs[0]
		d.script[ct.ID] = errs[1:]
		if err != nil {
			return "", err
		}
	}
	d.seq++
	id := fmt.Sprintf("call-%d", d.seq)
	d.dials = append(d.dials, dialRec{campaignID: campaignID, contactID: ct.ID, callID: id})
	return id, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) at(i int) dialRec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[i]
}

type fakeTerminator struct {
	mu         sync.Mutex
	terminated []string
	reasons    []call.Reason
}

func (f *fakeTerminator) Terminate(_ context.Context, callID string, reason call.Reason) (call.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, callID)
	f.reasons = append(f.reasons, reason)
	return call.Outcome{CallID: callID, Status: call.StatusCanceled, Reason: reason}, nil
}

func (f *fakeTerminator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.terminated)
}

type fakeStore struct {
	mu        sync.Mutex
	campaigns int
	contacts  int
}

func (f *fakeStore) SaveCampaign(context.Context, *Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns++
	return nil
}

func (f *fakeStore) SaveContact(context.Context, string, *Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts++
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testContacts(n int) []Contact {
	out := make([]Contact, n)
	for i := range out {
		out[i] = Contact{ID: fmt.Sprintf("ct-%d", i+1), Phone: fmt.Sprintf("+1555000%04d", i+1)}
	}
	return out
}

func newTestManager(d Dialer, term CallTerminator, limit int) *Manager {
	return NewManager(d, term, &fakeStore{}, testMetrics, Defaults{
		ConcurrencyLimit: limit,
		PacingInterval:   10 * time.Millisecond,
		MaxAttempts:      3,
	})
}

func startCampaign(t *testing.T, m *Manager, contacts []Contact) *Campaign {
	t.Helper()
	c, err := m.Create(context.Background(), Spec{Name: "test", Contacts: contacts})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background(), c.ID) })
	return c
}

func TestSchedulerHonorsConcurrencyLimit(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 2)
	c := startCampaign(t, m, testContacts(5))

	waitFor(t, "first two dials", func() bool { return d.count() == 2 })

	// Several pacing intervals with both slots held.
	time.Sleep(60 * time.Millisecond)
	if got := d.count(); got != 2 {
		t.Fatalf("dials = %d with both slots occupied, want 2", got)
	}

	m.OnCallOutcome(call.Outcome{
		CallID:     d.at(0).callID,
		CampaignID: c.ID,
		Status:     call.StatusCompleted,
		Duration:   30 * time.Second,
	})
	waitFor(t, "slot refill", func() bool { return d.count() == 3 })
}

func TestContactNeverDialedTwiceConcurrently(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 3)
	c := startCampaign(t, m, testContacts(1))

	waitFor(t, "first dial", func() bool { return d.count() == 1 })
	time.Sleep(60 * time.Millisecond)
	if got := d.count(); got != 1 {
		t.Fatalf("dials = %d for one outstanding contact, want 1", got)
	}

	m.OnCallOutcome(call.Outcome{
		CallID:     d.at(0).callID,
		CampaignID: c.ID,
		Status:     call.StatusCompleted,
		Duration:   10 * time.Second,
	})
	waitFor(t, "completion", func() bool {
		got, err := m.Get(c.ID)
		return err == nil && got.Status == StatusCompleted
	})
	if got := d.count(); got != 1 {
		t.Fatalf("dials = %d after completion, want 1", got)
	}
}

func TestPausePreservesPendingSet(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 1)
	c := startCampaign(t, m, testContacts(3))

	waitFor(t, "first dial", func() bool { return d.count() == 1 })
	if err := m.Pause(context.Background(), c.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}

	// Freeing the slot while paused must not trigger a dial.
	m.OnCallOutcome(call.Outcome{
		CallID:     d.at(0).callID,
		CampaignID: c.ID,
		Status:     call.StatusCompleted,
		Duration:   5 * time.Second,
	})
	time.Sleep(60 * time.Millisecond)
	if got := d.count(); got != 1 {
		t.Fatalf("dials = %d while paused, want 1", got)
	}

	got, err := m.Get(c.ID)
	if err != nil || got.Status != StatusPaused {
		t.Fatalf("status = %v (%v), want paused", got.Status, err)
	}

	if err := m.Resume(context.Background(), c.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	waitFor(t, "dial after resume", func() bool { return d.count() == 2 })
	if rec := d.at(1); rec.contactID != "ct-2" {
		t.Fatalf("first contact after resume = %s, want ct-2", rec.contactID)
	}
}

func TestPauseRejectsNonRunning(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 1)
	c, err := m.Create(context.Background(), Spec{Name: "idle", Contacts: testContacts(1)})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Pause(context.Background(), c.ID); err != ErrNotRunning {
		t.Fatalf("Pause on idle campaign = %v, want ErrNotRunning", err)
	}
	if err := m.Resume(context.Background(), c.ID); err != ErrNotPaused {
		t.Fatalf("Resume on idle campaign = %v, want ErrNotPaused", err)
	}
}

func TestStopTerminatesInFlightCalls(t *testing.T) {
	d := newFakeDialer()
	term := &fakeTerminator{}
	m := newTestManager(d, term, 2)
	c := startCampaign(t, m, testContacts(4))

	waitFor(t, "two dials", func() bool { return d.count() == 2 })
	if err := m.Stop(context.Background(), c.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := term.count(); got != 2 {
		t.Fatalf("terminated %d calls on stop, want 2", got)
	}
	term.mu.Lock()
	for _, r := range term.reasons {
		if r != call.ReasonCampaignStopped {
			t.Fatalf("terminate reason = %v, want campaign-stopped", r)
		}
	}
	term.mu.Unlock()

	got, err := m.Get(c.ID)
	if err != nil || got.Status != StatusCompleted {
		t.Fatalf("status after stop = %v (%v), want completed", got.Status, err)
	}

	time.Sleep(60 * time.Millisecond)
	if d.count() != 2 {
		t.Fatalf("dials continued after stop: %d", d.count())
	}
}

func TestCampaignCompletesWhenAllContactsFinish(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 2)
	c := startCampaign(t, m, testContacts(2))

	waitFor(t, "both dials", func() bool { return d.count() == 2 })
	for i := 0; i < 2; i++ {
		m.OnCallOutcome(call.Outcome{
			CallID:     d.at(i).callID,
			CampaignID: c.ID,
			Status:     call.StatusCompleted,
			Duration:   20 * time.Second,
		})
	}

	waitFor(t, "completion", func() bool {
		got, err := m.Get(c.ID)
		return err == nil && got.Status == StatusCompleted
	})
	got, _ := m.Get(c.ID)
	if got.Stats.Placed != 2 || got.Stats.Completed != 2 || got.Stats.SuccessRate != 1.0 {
		t.Fatalf("stats = %+v, want 2 placed, 2 completed, success 1.0", got.Stats)
	}
	if got.Stats.AvgDuration != 20 {
		t.Fatalf("avg duration = %v, want 20", got.Stats.AvgDuration)
	}
}

func TestTerminalDialErrorFailsContactAndContinues(t *testing.T) {
	d := newFakeDialer()
	d.fail("ct-1", reliability.Terminal("invalid_number", "number is not dialable"))
	m := newTestManager(d, &fakeTerminator{}, 1)
	c := startCampaign(t, m, testContacts(2))

	waitFor(t, "dial of second contact", func() bool { return d.count() == 1 })
	if rec := d.at(0); rec.contactID != "ct-2" {
		t.Fatalf("dialed contact = %s, want ct-2", rec.contactID)
	}

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status == StatusError {
		t.Fatalf("terminal contact error must not halt the campaign")
	}
	if got.Stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", got.Stats.Failed)
	}
}

func TestAccountErrorHaltsCampaign(t *testing.T) {
	d := newFakeDialer()
	d.fail("ct-1", reliability.Account("insufficient_funds", "account balance too low"))
	m := newTestManager(d, &fakeTerminator{}, 1)
	c := startCampaign(t, m, testContacts(3))

	waitFor(t, "halt", func() bool {
		got, err := m.Get(c.ID)
		return err == nil && got.Status == StatusError
	})
	got, _ := m.Get(c.ID)
	if got.ErrorReason == "" {
		t.Fatalf("halted campaign has no error reason")
	}
	time.Sleep(60 * time.Millisecond)
	if d.count() != 0 {
		t.Fatalf("dials after account error: %d, want 0", d.count())
	}
}

func TestResumeRestartsCampaignAfterAccountError(t *testing.T) {
	d := newFakeDialer()
	d.fail("ct-1", reliability.Account("insufficient_funds", "account balance too low"))
	m := newTestManager(d, &fakeTerminator{}, 1)
	c := startCampaign(t, m, testContacts(2))

	waitFor(t, "halt", func() bool {
		got, err := m.Get(c.ID)
		return err == nil && got.Status == StatusError
	})

	if err := m.Resume(context.Background(), c.ID); err != nil {
		t.Fatalf("Resume after account error failed: %v", err)
	}
	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ErrorReason != "" {
		t.Fatalf("error reason survived resume: %q", got.ErrorReason)
	}

	// The halted contact is still retryable and dialing picks back up.
	waitFor(t, "dial after resume", func() bool { return d.count() == 1 })
	if rec := d.at(0); rec.contactID != "ct-1" {
		t.Fatalf("dialed contact after resume = %s, want ct-1", rec.contactID)
	}
	got, _ = m.Get(c.ID)
	if got.Status != StatusRunning {
		t.Fatalf("status after resume = %v, want running", got.Status)
	}
}

func TestStopAfterAccountErrorTerminatesInFlightCalls(t *testing.T) {
	d := newFakeDialer()
	d.fail("ct-2", reliability.Account("account_suspended", "account is suspended"))
	term := &fakeTerminator{}
	m := newTestManager(d, term, 2)
	c := startCampaign(t, m, testContacts(3))

	// ct-1's call is live when ct-2's dial halts the campaign.
	waitFor(t, "halt", func() bool {
		got, err := m.Get(c.ID)
		return err == nil && got.Status == StatusError
	})
	if d.count() != 1 {
		t.Fatalf("dials before halt = %d, want 1", d.count())
	}

	if err := m.Stop(context.Background(), c.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := term.count(); got != 1 {
		t.Fatalf("terminated %d calls stopping an errored campaign, want 1", got)
	}
	term.mu.Lock()
	reason := term.reasons[0]
	term.mu.Unlock()
	if reason != call.ReasonCampaignStopped {
		t.Fatalf("terminate reason = %v, want campaign-stopped", reason)
	}
	got, _ := m.Get(c.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status after stop = %v, want completed", got.Status)
	}
}

func TestTransientDialErrorRetriesContact(t *testing.T) {
	d := newFakeDialer()
	d.fail("ct-1", reliability.Transient("queue_full", "provider queue is full"))
	m := newTestManager(d, &fakeTerminator{}, 1)
	c := startCampaign(t, m, testContacts(1))

	waitFor(t, "retry dial", func() bool { return d.count() == 1 })
	if rec := d.at(0); rec.contactID != "ct-1" {
		t.Fatalf("retried contact = %s, want ct-1", rec.contactID)
	}
	got, _ := m.Get(c.ID)
	if got.Status == StatusError {
		t.Fatalf("transient error must not halt the campaign")
	}
}

func TestBusyOutcomeRetriesUntilAttemptsExhausted(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 1)
	c := startCampaign(t, m, testContacts(1))

	for attempt := 0; attempt < 3; attempt++ {
		want := attempt + 1
		waitFor(t, fmt.Sprintf("dial %d", want), func() bool { return d.count() == want })
		m.OnCallOutcome(call.Outcome{
			CallID:     d.at(attempt).callID,
			CampaignID: c.ID,
			Status:     call.StatusBusy,
		})
	}

	waitFor(t, "exhaustion", func() bool {
		got, err := m.Get(c.ID)
		return err == nil && got.Status == StatusCompleted
	})
	if d.count() != 3 {
		t.Fatalf("dials = %d, want 3 attempts", d.count())
	}
	got, _ := m.Get(c.ID)
	if got.Stats.Failed != 3 || got.Stats.Completed != 0 {
		t.Fatalf("stats = %+v, want 3 failed, 0 completed", got.Stats)
	}
}

func TestOutcomeForUnknownCallIgnored(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 1)
	c := startCampaign(t, m, testContacts(1))

	waitFor(t, "first dial", func() bool { return d.count() == 1 })
	m.OnCallOutcome(call.Outcome{CallID: "no-such-call", CampaignID: c.ID, Status: call.StatusFailed})

	got, err := m.Get(c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Stats.Failed != 0 {
		t.Fatalf("unknown outcome mutated stats: %+v", got.Stats)
	}
}

func TestCreateRejectsEmptyContactList(t *testing.T) {
	m := newTestManager(newFakeDialer(), &fakeTerminator{}, 1)
	if _, err := m.Create(context.Background(), Spec{Name: "empty"}); err != ErrNoContacts {
		t.Fatalf("Create with no contacts = %v, want ErrNoContacts", err)
	}
}

func restoredCampaign(id string, status Status) *Campaign {
	return &Campaign{
		ID:               id,
		Name:             "restored",
		Status:           status,
		ConcurrencyLimit: 1,
		PacingInterval:   10 * time.Millisecond,
		MaxAttempts:      3,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestRestoreKeepsNeverStartedCampaignIdle(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 1)

	contacts := []*Contact{{ID: "ct-1", Phone: "+15550000001"}}
	m.Restore(restoredCampaign("idle-1", StatusIdle), contacts)

	got, err := m.Get("idle-1")
	if err != nil || got.Status != StatusIdle {
		t.Fatalf("restored status = %v (%v), want idle", got.Status, err)
	}
	if err := m.Start(context.Background(), "idle-1"); err != nil {
		t.Fatalf("Start of restored idle campaign failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background(), "idle-1") })
	waitFor(t, "first dial", func() bool { return d.count() == 1 })
}

func TestRestorePausesCampaignThatWasMidFlight(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &fakeTerminator{}, 1)

	contacts := []*Contact{{ID: "ct-1", Phone: "+15550000001", Attempts: 1}}
	m.Restore(restoredCampaign("run-1", StatusRunning), contacts)

	got, err := m.Get("run-1")
	if err != nil || got.Status != StatusPaused {
		t.Fatalf("restored status = %v (%v), want paused", got.Status, err)
	}
	time.Sleep(60 * time.Millisecond)
	if d.count() != 0 {
		t.Fatalf("restored campaign dialed before resume: %d", d.count())
	}

	if err := m.Resume(context.Background(), "run-1"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background(), "run-1") })
	waitFor(t, "dial after resume", func() bool { return d.count() == 1 })
}
