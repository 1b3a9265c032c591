package call

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/reliability"
)

const endCallMaxAttempts = 3

// LineGateway ends the telephony leg at the provider. Implementations map
// "already ended" provider responses to a nil error.
type LineGateway interface {
	EndCall(ctx context.Context, providerCallID string) error
}

// BridgeCloser tears down the audio bridge for a call: both leg channels and
// the inactivity timer.
type BridgeCloser interface {
	Shutdown(callID string)
}

// Flusher persists the final call state before the session is evicted.
type Flusher interface {
	SaveCall(ctx context.Context, s *Session) error
}

// OutcomeSink receives the final outcome of every call, letting the campaign
// scheduler release its concurrency slot.
type OutcomeSink interface {
	OnCallOutcome(o Outcome)
}

// Notifier pushes call state changes to observers. Emission is best-effort.
type Notifier interface {
	CallUpdate(s *Session)
}

// Outcome is the terminal result of one call.
type Outcome struct {
	CallID     string
	CampaignID string
	ContactID  string
	Status     Status
	Reason     Reason
	Duration   time.Duration
}

// Terminator is the idempotent call-ending coordinator. Every end trigger
// (agent complete, inactivity, peer close, provider hangup, operator) funnels
// into Terminate; the registry's status check-and-set is the sole arbiter of
// terminal entry, so side effects run exactly once per call.
type Terminator struct {
	reg       *Registry
	line      LineGateway
	bridges   BridgeCloser
	store     Flusher
	sink      OutcomeSink
	notifier  Notifier
	metrics   *observability.Metrics
	retryBase time.Duration
	retryCap  time.Duration
	log       *logrus.Entry
}

func NewTerminator(reg *Registry, line LineGateway, store Flusher, retryBase, retryCap time.Duration) *Terminator {
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}
	if retryCap <= 0 {
		retryCap = 2 * time.Second
	}
	return &Terminator{
		reg:       reg,
		line:      line,
		store:     store,
		retryBase: retryBase,
		retryCap:  retryCap,
		log:       logrus.WithField("component", "terminator"),
	}
}

// SetBridges wires the bridge table. Set during startup, before any call runs.
func (t *Terminator) SetBridges(b BridgeCloser) { t.bridges = b }

// SetOutcomeSink wires the campaign scheduler's outcome intake.
func (t *Terminator) SetOutcomeSink(s OutcomeSink) { t.sink = s }

// SetNotifier wires the observer notification hub.
func (t *Terminator) SetNotifier(n Notifier) { t.notifier = n }

// SetMetrics wires call lifecycle metrics. Set during startup.
func (t *Terminator) SetMetrics(m *observability.Metrics) { t.metrics = m }

// Terminate ends a call for the given reason, deriving the terminal status
// from how far the call got: answered calls complete, unanswered ones cancel.
func (t *Terminator) Terminate(ctx context.Context, callID string, reason Reason) (Outcome, error) {
	s, applied, err := t.reg.Conclude(callID)
	if err != nil {
		return Outcome{}, err
	}
	return t.finalize(ctx, s, applied, reason)
}

// TerminateWithStatus ends a call with an explicit terminal status, used when
// the provider reports the outcome (busy, no-answer, failed). Calling it on
// an already-terminated call returns the recorded outcome with no further
// side effects.
func (t *Terminator) TerminateWithStatus(ctx context.Context, callID string, status Status, reason Reason) (Outcome, error) {
	if !IsTerminal(status) {
		return Outcome{}, errors.New("terminate requires a terminal status")
	}

	s, applied, err := t.reg.Transition(callID, status)
	if err != nil {
		return Outcome{}, err
	}
	return t.finalize(ctx, s, applied, reason)
}

// finalize runs the once-per-call side effects after the registry accepted a
// terminal transition. When applied is false the call was already terminated
// and the recorded outcome is returned untouched.
func (t *Terminator) finalize(ctx context.Context, s *Session, applied bool, reason Reason) (Outcome, error) {
	if !applied {
		// Lost the race: someone already terminated this call.
		return Outcome{
			CallID:     s.ID,
			CampaignID: s.CampaignID,
			ContactID:  s.ContactID,
			Status:     s.Status,
			Reason:     s.Reason,
			Duration:   s.Duration,
		}, nil
	}

	callID := s.ID
	_ = t.reg.Update(callID, func(s *Session) { s.Reason = reason })
	s.Reason = reason

	log := t.log.WithFields(logrus.Fields{
		"call_id": callID,
		"status":  s.Status,
		"reason":  reason,
	})
	log.Info("terminating call")

	if t.bridges != nil {
		t.bridges.Shutdown(callID)
	}

	// The provider already knows about its own hangups and terminal statuses.
	if reason != ReasonProvider && s.ProviderCallID != "" {
		if err := t.endProviderCall(ctx, s.ProviderCallID); err != nil {
			// Local state is finalized regardless: the system must never
			// believe a call is active when it is not.
			log.WithError(err).Warn("provider end-call failed, finalizing locally")
		}
	}

	final, err := t.reg.Get(callID)
	if err != nil {
		final = s
	}
	if t.store != nil {
		if err := t.store.SaveCall(ctx, final); err != nil {
			log.WithError(err).Error("flush final call state failed")
		}
	}
	if t.notifier != nil {
		t.notifier.CallUpdate(final)
	}

	out := Outcome{
		CallID:     final.ID,
		CampaignID: final.CampaignID,
		ContactID:  final.ContactID,
		Status:     final.Status,
		Reason:     reason,
		Duration:   final.Duration,
	}
	if t.sink != nil {
		t.sink.OnCallOutcome(out)
	}

	t.reg.Remove(callID)
	if t.metrics != nil {
		t.metrics.CallEvents.WithLabelValues(string(final.Status)).Inc()
		t.metrics.ObserveCallDuration(final.Duration)
		t.metrics.ActiveCalls.Set(float64(t.reg.ActiveCount()))
	}
	return out, nil
}

func (t *Terminator) endProviderCall(ctx context.Context, providerCallID string) error {
	var lastErr error
	for attempt := 0; attempt < endCallMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, t.retryBase, t.retryCap)):
			}
		}
		lastErr = t.line.EndCall(ctx, providerCallID)
		if lastErr == nil {
			return nil
		}
		if reliability.KindOf(lastErr) != reliability.KindTransient {
			return lastErr
		}
	}
	return lastErr
}

// ExpireInactive terminates every live call with no channel activity for the
// given timeout. Run periodically by the janitor in main.
func (t *Terminator) ExpireInactive(ctx context.Context, timeout time.Duration) int {
	cutoff := time.Now().UTC().Add(-timeout)
	ids := t.reg.StaleBefore(cutoff)
	for _, id := range ids {
		if _, err := t.Terminate(ctx, id, ReasonInactivity); err != nil && !errors.Is(err, ErrNotFound) {
			t.log.WithError(err).WithField("call_id", id).Warn("inactivity terminate failed")
		}
	}
	return len(ids)
}
