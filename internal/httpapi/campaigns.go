package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acme/outdial/internal/campaign"
)

type createCampaignRequest struct {
	Name             string             `json:"name"`
	Contacts         []campaign.Contact `json:"contacts"`
	ConcurrencyLimit int                `json:"concurrency_limit"`
	PacingIntervalMS int64              `json:"pacing_interval_ms"`
	MaxAttempts      int                `json:"max_attempts"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	for i := range req.Contacts {
		if strings.TrimSpace(req.Contacts[i].Phone) == "" {
			respondError(w, http.StatusBadRequest, "invalid_request", "every contact needs a phone number")
			return
		}
	}

	c, err := s.campaigns.Create(r.Context(), campaign.Spec{
		Name:             req.Name,
		Contacts:         req.Contacts,
		ConcurrencyLimit: req.ConcurrencyLimit,
		PacingInterval:   time.Duration(req.PacingIntervalMS) * time.Millisecond,
		MaxAttempts:      req.MaxAttempts,
	})
	if err != nil {
		if errors.Is(err, campaign.ErrNoContacts) {
			respondError(w, http.StatusBadRequest, "no_contacts", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "campaign_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleActiveCampaigns(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"campaigns": s.campaigns.Active()})
}

func (s *Server) handleCampaignCalls(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.campaigns.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "campaign_not_found", err.Error())
		return
	}
	calls, err := s.store.RecentCalls(r.Context(), id, 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	s.campaignControl(w, r, s.campaigns.Start)
}

func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.campaignControl(w, r, s.campaigns.Pause)
}

func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	s.campaignControl(w, r, s.campaigns.Resume)
}

func (s *Server) handleStopCampaign(w http.ResponseWriter, r *http.Request) {
	s.campaignControl(w, r, s.campaigns.Stop)
}

func (s *Server) campaignControl(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, campaign.ErrNotFound):
			respondError(w, http.StatusNotFound, "campaign_not_found", err.Error())
		case errors.Is(err, campaign.ErrNotRunning), errors.Is(err, campaign.ErrNotPaused), errors.Is(err, campaign.ErrAlreadyActive):
			respondError(w, http.StatusConflict, "invalid_state", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "control_failed", err.Error())
		}
		return
	}
	c, err := s.campaigns.Get(id)
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	respondJSON(w, http.StatusOK, c)
}
