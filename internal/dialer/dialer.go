// Package dialer turns one campaign contact into a live call: it reserves
// an AI agent session, registers the call, stands up the audio bridge with
// the agent leg attached, and asks the telephony provider to dial. The
// telephony leg joins later, when the provider's media stream connects to
// the websocket endpoint.
package dialer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/acme/outdial/internal/agent"
	"github.com/acme/outdial/internal/bridge"
	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/protocol"
	"github.com/acme/outdial/internal/telephony"
)

// Options carry the per-deployment knobs the dialer bakes into every call.
type Options struct {
	// CallbackBaseURL is the public base for provider webhooks and the
	// media stream websocket, e.g. https://outdial.example.com.
	CallbackBaseURL string
	// CallerID is the From number presented on outbound calls.
	CallerID string
	// AgentID selects which configured agent answers the calls.
	AgentID string
	// InactivityTimeout is handed to each bridge's watchdog.
	InactivityTimeout time.Duration
	// Record toggles provider-side call recording.
	Record bool
}

type Service struct {
	agents     agent.Gateway
	phones     telephony.Gateway
	calls      *call.Registry
	bridges    *bridge.Table
	terminator bridge.Terminator
	metrics    *observability.Metrics
	opts       Options
	log        *logrus.Entry
}

func New(agents agent.Gateway, phones telephony.Gateway, calls *call.Registry, bridges *bridge.Table, terminator bridge.Terminator, metrics *observability.Metrics, opts Options) *Service {
	return &Service{
		agents:     agents,
		phones:     phones,
		calls:      calls,
		bridges:    bridges,
		terminator: terminator,
		metrics:    metrics,
		opts:       opts,
		log:        logrus.WithField("component", "dialer"),
	}
}

var _ campaign.Dialer = (*Service)(nil)

// Dial runs the placement sequence for one contact. The agent session is
// reserved before the provider call so a ready conversation is waiting the
// moment the callee answers. Errors out of the provider carry the
// reliability taxonomy and are returned unwrapped for the scheduler to
// classify.
func (s *Service) Dial(ctx context.Context, campaignID string, contact *campaign.Contact) (string, error) {
	ref, err := s.agents.ReserveSession(ctx, s.opts.AgentID)
	if err != nil {
		return "", fmt.Errorf("reserve agent session: %w", err)
	}

	sess := s.calls.Create(campaignID, contact.ID, s.opts.CallerID, contact.Phone)
	s.trackActive()
	if err := s.calls.Update(sess.ID, func(cs *call.Session) {
		cs.ConversationID = ref.ConversationID
	}); err != nil {
		s.log.WithError(err).WithField("call_id", sess.ID).Warn("failed to record conversation id")
	}

	br := bridge.New(sess.ID, s.calls, s.terminator, s.metrics, s.opts.InactivityTimeout)
	s.bridges.Put(sess.ID, br)

	agentCh, err := s.agents.Dial(ctx, ref, protocol.AgentInit{
		FirstMessage: "",
		Variables: map[string]string{
			"contact_name":  contact.Name,
			"contact_phone": contact.Phone,
		},
	})
	if err != nil {
		s.abort(sess.ID)
		return "", fmt.Errorf("dial agent session: %w", err)
	}
	br.AttachAgent(agentCh)

	providerCallID, err := s.phones.PlaceCall(ctx, telephony.PlaceCallRequest{
		From:              s.opts.CallerID,
		To:                contact.Phone,
		StatusCallbackURL: s.opts.CallbackBaseURL + "/v1/telephony/status",
		AMDCallbackURL:    s.opts.CallbackBaseURL + "/v1/telephony/amd",
		MediaStreamURL:    wsBase(s.opts.CallbackBaseURL) + "/v1/telephony/media",
		Record:            s.opts.Record,
	})
	if err != nil {
		s.abort(sess.ID)
		return "", err
	}

	if err := s.calls.BindProviderID(sess.ID, providerCallID); err != nil {
		s.log.WithError(err).WithField("call_id", sess.ID).Warn("failed to bind provider call id")
	}
	if _, _, err := s.calls.Transition(sess.ID, call.StatusRinging); err != nil {
		s.log.WithError(err).WithField("call_id", sess.ID).Warn("failed to mark call ringing")
	}

	s.log.WithFields(logrus.Fields{
		"call_id":          sess.ID,
		"provider_call_id": providerCallID,
		"campaign_id":      campaignID,
	}).Info("outbound call placed")
	return sess.ID, nil
}

// abort tears down the half-built call when placement fails partway.
func (s *Service) abort(callID string) {
	s.bridges.Shutdown(callID)
	s.calls.Remove(callID)
	s.trackActive()
}

func (s *Service) trackActive() {
	if s.metrics != nil {
		s.metrics.ActiveCalls.Set(float64(s.calls.ActiveCount()))
	}
}

func wsBase(httpBase string) string {
	switch {
	case len(httpBase) > 8 && httpBase[:8] == "https://":
		return "wss://" + httpBase[8:]
	case len(httpBase) > 7 && httpBase[:7] == "http://":
		return "ws://" + httpBase[7:]
	}
	return httpBase
}
