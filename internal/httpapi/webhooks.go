package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/telephony"
)

const signatureHeader = "X-Provider-Signature"

// verifiedForm authenticates the webhook and returns its form values.
// Verification covers the full public callback URL, which is the configured
// base plus the request path.
func (s *Server) verifiedForm(w http.ResponseWriter, r *http.Request, webhookType string) (ok bool) {
	if err := r.ParseForm(); err != nil {
		s.metrics.WebhookEvents.WithLabelValues(webhookType, "malformed").Inc()
		respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return false
	}
	callbackURL := strings.TrimRight(s.cfg.CallbackBaseURL, "/") + r.URL.Path
	if err := telephony.VerifySignature(s.cfg.WebhookSigningSecret, callbackURL, r.PostForm, r.Header.Get(signatureHeader)); err != nil {
		s.metrics.WebhookEvents.WithLabelValues(webhookType, "rejected").Inc()
		s.log.WithError(err).WithField("webhook", webhookType).Warn("webhook rejected")
		respondError(w, http.StatusForbidden, "bad_signature", "signature verification failed")
		return false
	}
	return true
}

func (s *Server) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.verifiedForm(w, r, "status") {
		return
	}
	ev, err := telephony.ParseStatusWebhook(r.PostForm)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("status", "malformed").Inc()
		respondError(w, http.StatusBadRequest, "invalid_webhook", err.Error())
		return
	}

	sess, err := s.calls.GetByProviderID(ev.ProviderCallID)
	if err != nil {
		// Late callbacks for evicted calls are expected, not errors.
		s.metrics.WebhookEvents.WithLabelValues("status", "unknown_call").Inc()
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	log := s.log.WithFields(logrus.Fields{
		"call_id":          sess.ID,
		"provider_call_id": ev.ProviderCallID,
		"provider_status":  string(ev.Status),
	})

	if call.IsTerminal(ev.Status) {
		if _, err := s.terminator.TerminateWithStatus(r.Context(), sess.ID, ev.Status, call.ReasonProvider); err != nil && !errors.Is(err, call.ErrNotFound) {
			log.WithError(err).Warn("failed to finalize call from status webhook")
		}
	} else {
		if _, applied, err := s.calls.Transition(sess.ID, ev.Status); err != nil {
			log.WithError(err).Warn("status transition failed")
		} else if applied {
			s.metrics.CallEvents.WithLabelValues(string(ev.Status)).Inc()
			if updated, err := s.calls.Get(sess.ID); err == nil {
				s.hub.CallUpdate(updated)
			}
		}
	}
	if ev.AnsweredBy != "" {
		_ = s.calls.Update(sess.ID, func(cs *call.Session) { cs.AnsweredBy = ev.AnsweredBy })
	}

	s.metrics.WebhookEvents.WithLabelValues("status", "accepted").Inc()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAMDWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.verifiedForm(w, r, "amd") {
		return
	}
	ev, err := telephony.ParseMachineDetectionWebhook(r.PostForm)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("amd", "malformed").Inc()
		respondError(w, http.StatusBadRequest, "invalid_webhook", err.Error())
		return
	}

	sess, err := s.calls.GetByProviderID(ev.ProviderCallID)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("amd", "unknown_call").Inc()
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err := s.calls.Update(sess.ID, func(cs *call.Session) { cs.AnsweredBy = ev.Result }); err != nil {
		s.log.WithError(err).WithField("call_id", sess.ID).Warn("failed to record machine detection result")
	}

	s.metrics.WebhookEvents.WithLabelValues("amd", "accepted").Inc()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRecordingWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.verifiedForm(w, r, "recording") {
		return
	}
	ev, err := telephony.ParseRecordingWebhook(r.PostForm)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("recording", "malformed").Inc()
		respondError(w, http.StatusBadRequest, "invalid_webhook", err.Error())
		return
	}

	sess, err := s.calls.GetByProviderID(ev.ProviderCallID)
	if err != nil {
		s.metrics.WebhookEvents.WithLabelValues("recording", "unknown_call").Inc()
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err := s.calls.Update(sess.ID, func(cs *call.Session) { cs.RecordingRef = ev.RecordingRef }); err != nil {
		s.log.WithError(err).WithField("call_id", sess.ID).Warn("failed to record recording reference")
	}

	s.metrics.WebhookEvents.WithLabelValues("recording", "accepted").Inc()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
