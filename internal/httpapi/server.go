package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/acme/outdial/internal/bridge"
	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
	"github.com/acme/outdial/internal/config"
	"github.com/acme/outdial/internal/notify"
	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/store"
)

type Server struct {
	cfg        config.Config
	calls      *call.Registry
	terminator *call.Terminator
	bridges    *bridge.Table
	campaigns  *campaign.Manager
	store      store.Store
	hub        *notify.Hub
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
	log        *logrus.Entry
}

func New(cfg config.Config, calls *call.Registry, terminator *call.Terminator, bridges *bridge.Table, campaigns *campaign.Manager, st store.Store, hub *notify.Hub, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		calls:      calls,
		terminator: terminator,
		bridges:    bridges,
		campaigns:  campaigns,
		store:      st,
		hub:        hub,
		metrics:    metrics,
		log:        logrus.WithField("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Telephony providers connect without a browser Origin.
				// Browser connections must come from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/campaigns", s.handleCreateCampaign)
	r.Get("/v1/campaigns/active", s.handleActiveCampaigns)
	r.Get("/v1/campaigns/{id}", s.handleGetCampaign)
	r.Get("/v1/campaigns/{id}/calls", s.handleCampaignCalls)
	r.Post("/v1/campaigns/{id}/start", s.handleStartCampaign)
	r.Post("/v1/campaigns/{id}/pause", s.handlePauseCampaign)
	r.Post("/v1/campaigns/{id}/resume", s.handleResumeCampaign)
	r.Post("/v1/campaigns/{id}/stop", s.handleStopCampaign)

	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Post("/v1/calls/{id}/terminate", s.handleTerminateCall)

	r.Post("/v1/telephony/status", s.handleStatusWebhook)
	r.Post("/v1/telephony/amd", s.handleAMDWebhook)
	r.Post("/v1/telephony/recording", s.handleRecordingWebhook)
	r.Get("/v1/telephony/media", s.handleMediaStream)

	r.Get("/v1/events", s.handleEvents)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": s.calls.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Subscribe(conn)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
