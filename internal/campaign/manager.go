package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/reliability"
)

var (
	ErrNotFound      = errors.New("campaign not found")
	ErrNotRunning    = errors.New("campaign is not running")
	ErrNotPaused     = errors.New("campaign is not paused")
	ErrAlreadyActive = errors.New("campaign is already active")
	ErrNoContacts    = errors.New("campaign has no contacts")
)

// Dialer places one outbound call for a contact and returns the session id
// of the call it created.
type Dialer interface {
	Dial(ctx context.Context, campaignID string, contact *Contact) (callID string, err error)
}

// CallTerminator ends a live call. Satisfied by call.Terminator.
type CallTerminator interface {
	Terminate(ctx context.Context, callID string, reason call.Reason) (call.Outcome, error)
}

// Store persists campaign definitions and contact state.
type Store interface {
	SaveCampaign(ctx context.Context, c *Campaign) error
	SaveContact(ctx context.Context, campaignID string, contact *Contact) error
}

// Notifier pushes campaign state changes to subscribers.
type Notifier interface {
	CampaignUpdate(view ActiveView)
}

// Spec is the operator-supplied definition for a new campaign. Zero-valued
// limits fall back to the manager's defaults.
type Spec struct {
	Name             string        `json:"name"`
	Contacts         []Contact     `json:"contacts"`
	ConcurrencyLimit int           `json:"concurrency_limit"`
	PacingInterval   time.Duration `json:"pacing_interval"`
	MaxAttempts      int           `json:"max_attempts"`
}

// Defaults are the manager-level fallbacks applied to campaign specs.
type Defaults struct {
	ConcurrencyLimit int
	PacingInterval   time.Duration
	MaxAttempts      int
}

// Manager owns every campaign and its scheduler goroutine. All external
// control (start, pause, resume, stop) and the call-outcome intake go
// through it.
type Manager struct {
	mu      sync.Mutex
	runners map[string]*runner

	dialer     Dialer
	terminator CallTerminator
	store      Store
	notifier   Notifier
	metrics    *observability.Metrics
	defaults   Defaults
	log        *logrus.Entry
}

func NewManager(dialer Dialer, terminator CallTerminator, store Store, metrics *observability.Metrics, defaults Defaults) *Manager {
	return &Manager{
		runners:    make(map[string]*runner),
		dialer:     dialer,
		terminator: terminator,
		store:      store,
		metrics:    metrics,
		defaults:   defaults,
		log:        logrus.WithField("component", "campaign"),
	}
}

// SetNotifier wires the push channel. Must be called before Start.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// Create registers a campaign definition without starting it.
func (m *Manager) Create(ctx context.Context, spec Spec) (*Campaign, error) {
	if len(spec.Contacts) == 0 {
		return nil, ErrNoContacts
	}
	c := &Campaign{
		ID:               uuid.New().String(),
		Name:             spec.Name,
		Status:           StatusIdle,
		ConcurrencyLimit: spec.ConcurrencyLimit,
		PacingInterval:   spec.PacingInterval,
		MaxAttempts:      spec.MaxAttempts,
		CreatedAt:        time.Now().UTC(),
	}
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = m.defaults.ConcurrencyLimit
	}
	if c.PacingInterval <= 0 {
		c.PacingInterval = m.defaults.PacingInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = m.defaults.MaxAttempts
	}

	contacts := make([]*Contact, len(spec.Contacts))
	for i := range spec.Contacts {
		ct := spec.Contacts[i]
		if ct.ID == "" {
			ct.ID = uuid.New().String()
		}
		contacts[i] = &ct
	}

	r := newRunner(c, contacts)
	m.mu.Lock()
	m.runners[c.ID] = r
	m.mu.Unlock()

	if err := m.store.SaveCampaign(ctx, c); err != nil {
		m.log.WithError(err).WithField("campaign_id", c.ID).Warn("failed to persist campaign")
	}
	for _, ct := range contacts {
		if err := m.store.SaveContact(ctx, c.ID, ct); err != nil {
			m.log.WithError(err).WithField("contact_id", ct.ID).Warn("failed to persist contact")
		}
	}
	return c, nil
}

// Restore re-registers a campaign loaded from the store. Campaigns that were
// mid-flight come back paused and wait for an explicit resume; campaigns that
// never started stay idle and start normally.
func (m *Manager) Restore(c *Campaign, contacts []*Contact) {
	if c.Status != StatusIdle {
		c.Status = StatusPaused
	}
	r := newRunner(c, contacts)
	m.mu.Lock()
	m.runners[c.ID] = r
	m.mu.Unlock()
	if c.Status == StatusPaused {
		m.startLoop(r)
	}
}

// Start begins dialing an idle campaign.
func (m *Manager) Start(ctx context.Context, id string) error {
	r, err := m.runner(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.c.Status != StatusIdle {
		r.mu.Unlock()
		return ErrAlreadyActive
	}
	r.c.Status = StatusStarting
	r.mu.Unlock()

	m.startLoop(r)

	r.mu.Lock()
	r.c.Status = StatusRunning
	m.markCountedLocked(r)
	r.mu.Unlock()
	r.kick()

	m.persist(ctx, r)
	m.publish(r)
	m.log.WithField("campaign_id", id).Info("campaign started")
	return nil
}

// Pause stops new dials. It returns only after the in-progress scheduling
// cycle, if any, has finished, so no dial commits after Pause returns.
// Calls already in flight continue to their natural end.
func (m *Manager) Pause(ctx context.Context, id string) error {
	r, err := m.runner(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.c.Status != StatusRunning {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.c.Status = StatusPausing
	r.mu.Unlock()

	// Waits out a cycle that already passed its status check.
	r.cycleMu.Lock()
	r.mu.Lock()
	r.c.Status = StatusPaused
	r.mu.Unlock()
	r.cycleMu.Unlock()

	m.persist(ctx, r)
	m.publish(r)
	m.log.WithField("campaign_id", id).Info("campaign paused")
	return nil
}

// Resume restarts dialing from the untouched pending queue. It also clears
// an account-error halt: resuming an errored campaign restarts its scheduler
// loop and dials on.
func (m *Manager) Resume(ctx context.Context, id string) error {
	r, err := m.runner(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	switch r.c.Status {
	case StatusPaused:
	case StatusError:
		r.c.ErrorReason = ""
	default:
		r.mu.Unlock()
		return ErrNotPaused
	}
	r.c.Status = StatusResuming
	r.c.Status = StatusRunning
	m.markCountedLocked(r)
	r.mu.Unlock()

	// No-op while the loop is already running; restarts it after a halt.
	m.startLoop(r)
	r.kick()

	m.persist(ctx, r)
	m.publish(r)
	m.log.WithField("campaign_id", id).Info("campaign resumed")
	return nil
}

// Stop halts the campaign for good: the scheduler loop exits, every
// in-flight call is terminated, and the campaign is marked completed.
func (m *Manager) Stop(ctx context.Context, id string) error {
	r, err := m.runner(id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.c.Status == StatusCompleted {
		r.mu.Unlock()
		return nil
	}
	r.c.Status = StatusCompleted
	inFlight := make([]string, 0, len(r.active))
	for callID := range r.active {
		inFlight = append(inFlight, callID)
	}
	cancel := r.cancel
	m.clearCountedLocked(r)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, callID := range inFlight {
		if _, err := m.terminator.Terminate(ctx, callID, call.ReasonCampaignStopped); err != nil && !errors.Is(err, call.ErrNotFound) {
			m.log.WithError(err).WithField("call_id", callID).Warn("failed to terminate call on campaign stop")
		}
	}

	m.persist(ctx, r)
	m.publish(r)
	m.log.WithField("campaign_id", id).Info("campaign stopped")
	return nil
}

// Get returns the campaign definition and stats.
func (m *Manager) Get(id string) (*Campaign, error) {
	r, err := m.runner(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.c
	return &cp, nil
}

// Active lists every campaign that is not idle, with live counters.
func (m *Manager) Active() []ActiveView {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	views := make([]ActiveView, 0, len(runners))
	for _, r := range runners {
		r.mu.Lock()
		if r.c.Status != StatusIdle {
			views = append(views, r.view())
		}
		r.mu.Unlock()
	}
	return views
}

// OnCallOutcome is the single intake for finished calls. It frees the
// contact and the concurrency slot, folds the outcome into campaign stats,
// and wakes the scheduler so the slot can be refilled immediately.
func (m *Manager) OnCallOutcome(o call.Outcome) {
	if o.CampaignID == "" {
		return
	}
	r, err := m.runner(o.CampaignID)
	if err != nil {
		return
	}

	r.mu.Lock()
	contactID, tracked := r.active[o.CallID]
	if !tracked {
		r.mu.Unlock()
		return
	}
	delete(r.active, o.CallID)

	ct := r.contactByID(contactID)
	if ct != nil {
		ct.outstanding = false
		ct.LastOutcome = string(o.Status)
		switch o.Status {
		case call.StatusCompleted:
			ct.Exhausted = true
			r.c.Stats.Completed++
			r.c.Stats.Answered++
			r.c.Stats.totalAnswered += o.Duration
		default:
			r.c.Stats.Failed++
			if ct.Attempts >= r.c.MaxAttempts {
				ct.Exhausted = true
			}
		}
		r.c.Stats.recalc()
	}
	completedNow := r.finishedLocked() && r.c.Status == StatusRunning
	var cancel context.CancelFunc
	if completedNow {
		r.c.Status = StatusCompleted
		cancel = r.cancel
		m.clearCountedLocked(r)
	}
	r.mu.Unlock()

	m.metrics.CampaignDials.WithLabelValues(string(o.Status)).Inc()
	if ct != nil {
		if err := m.store.SaveContact(context.Background(), o.CampaignID, ct); err != nil {
			m.log.WithError(err).WithField("contact_id", ct.ID).Warn("failed to persist contact outcome")
		}
	}
	if completedNow {
		if cancel != nil {
			cancel()
		}
		m.persist(context.Background(), r)
		m.log.WithField("campaign_id", o.CampaignID).Info("campaign completed")
	} else {
		r.kick()
	}
	m.publish(r)
}

func (m *Manager) runner(id string) (*runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// startLoop spawns the scheduler goroutine for a runner. At most one loop
// owns a runner at a time; calling startLoop while one is live is a no-op.
func (m *Manager) startLoop(r *runner) {
	r.mu.Lock()
	if r.looping {
		r.mu.Unlock()
		return
	}
	r.looping = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	go func() {
		m.loop(ctx, r)
		r.mu.Lock()
		r.looping = false
		resumed := r.c.Status == StatusRunning
		r.mu.Unlock()
		// A resume that raced this exit expects a live loop.
		if resumed {
			m.startLoop(r)
		}
	}()
}

// markCountedLocked and clearCountedLocked keep the active-campaigns gauge
// in step across restarts and repeated halts. Caller holds r.mu.
func (m *Manager) markCountedLocked(r *runner) {
	if !r.counted {
		r.counted = true
		m.metrics.ActiveCampaigns.Inc()
	}
}

func (m *Manager) clearCountedLocked(r *runner) {
	if r.counted {
		r.counted = false
		m.metrics.ActiveCampaigns.Dec()
	}
}

// loop drives one campaign. Each iteration runs a scheduling cycle, then
// sleeps for the pacing interval or until a finished call frees a slot.
func (m *Manager) loop(ctx context.Context, r *runner) {
	for {
		m.cycle(ctx, r)

		r.mu.Lock()
		pacing := r.c.PacingInterval
		r.mu.Unlock()

		timer := time.NewTimer(pacing)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// cycle dequeues and dials as many eligible contacts as there are free
// slots. cycleMu makes cycles single flight and lets Pause wait for a
// running cycle to drain. Slots and contacts are reserved under r.mu before
// any blocking work, so an overlapping trigger cannot double-book either.
func (m *Manager) cycle(ctx context.Context, r *runner) {
	if !r.cycleMu.TryLock() {
		return
	}
	defer r.cycleMu.Unlock()

	r.mu.Lock()
	if r.c.Status != StatusRunning {
		r.mu.Unlock()
		return
	}
	slots := r.c.ConcurrencyLimit - len(r.active)
	if slots <= 0 {
		r.mu.Unlock()
		return
	}
	batch := make([]*Contact, 0, slots)
	for _, ct := range r.contacts {
		if len(batch) == slots {
			break
		}
		if ct.Eligible(r.c.MaxAttempts) {
			ct.outstanding = true
			ct.Attempts++
			batch = append(batch, ct)
		}
	}
	if len(batch) == 0 && len(r.active) == 0 && r.finishedLocked() {
		r.c.Status = StatusCompleted
		cancel := r.cancel
		m.clearCountedLocked(r)
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		m.persist(ctx, r)
		m.publish(r)
		m.log.WithField("campaign_id", r.c.ID).Info("campaign completed")
		return
	}
	campaignID := r.c.ID
	r.mu.Unlock()

	for _, ct := range batch {
		if ctx.Err() != nil {
			r.mu.Lock()
			ct.outstanding = false
			ct.Attempts--
			r.mu.Unlock()
			continue
		}
		callID, err := m.dialer.Dial(ctx, campaignID, ct)
		if err != nil {
			m.onDialError(ctx, r, ct, err)
			continue
		}
		r.mu.Lock()
		r.active[callID] = ct.ID
		r.c.Stats.Placed++
		r.c.Stats.recalc()
		r.mu.Unlock()
		m.log.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"contact_id":  ct.ID,
			"call_id":     callID,
		}).Info("dial placed")
	}
	m.publish(r)
}

// onDialError applies the provider error taxonomy: transient errors leave
// the contact retryable, terminal errors burn the contact, account errors
// halt the whole campaign.
func (m *Manager) onDialError(ctx context.Context, r *runner, ct *Contact, err error) {
	kind := reliability.KindOf(err)
	m.metrics.CampaignDials.WithLabelValues("dial_error").Inc()

	r.mu.Lock()
	ct.outstanding = false
	var cancel context.CancelFunc
	switch kind {
	case reliability.KindTerminal:
		ct.Exhausted = true
		ct.LastOutcome = string(call.StatusFailed)
		r.c.Stats.Failed++
		r.c.Stats.recalc()
	case reliability.KindAccount:
		r.c.Status = StatusError
		r.c.ErrorReason = err.Error()
		cancel = r.cancel
		m.clearCountedLocked(r)
	default:
		ct.LastOutcome = "retry"
		if ct.Attempts >= r.c.MaxAttempts {
			ct.Exhausted = true
			r.c.Stats.Failed++
			r.c.Stats.recalc()
		}
	}
	r.mu.Unlock()

	log := m.log.WithError(err).WithFields(logrus.Fields{
		"campaign_id": r.c.ID,
		"contact_id":  ct.ID,
		"error_kind":  string(kind),
	})
	switch kind {
	case reliability.KindAccount:
		log.Error("account-level provider error, halting campaign")
		if cancel != nil {
			cancel()
		}
		m.persist(ctx, r)
	case reliability.KindTerminal:
		log.Warn("contact failed")
		if err := m.store.SaveContact(ctx, r.c.ID, ct); err != nil {
			log.WithError(err).Warn("failed to persist contact")
		}
	default:
		log.Warn("dial failed, will retry")
	}
}

func (m *Manager) persist(ctx context.Context, r *runner) {
	r.mu.Lock()
	cp := *r.c
	r.mu.Unlock()
	if err := m.store.SaveCampaign(ctx, &cp); err != nil {
		m.log.WithError(err).WithField("campaign_id", cp.ID).Warn("failed to persist campaign")
	}
}

func (m *Manager) publish(r *runner) {
	if m.notifier == nil {
		return
	}
	r.mu.Lock()
	v := r.view()
	r.mu.Unlock()
	m.notifier.CampaignUpdate(v)
}
