package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/acme/outdial/internal/bridge"
	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/protocol"
	"github.com/acme/outdial/internal/reliability"
)

const (
	reserveTimeout   = 10 * time.Second
	handshakeTimeout = 4 * time.Second
)

// SessionRef identifies a reserved agent conversation. Opening SessionURL
// yields the agent leg's duplex channel.
type SessionRef struct {
	SessionURL     string `json:"session_url"`
	ConversationID string `json:"conversation_id"`
}

// Gateway abstracts the conversational-AI provider.
type Gateway interface {
	ReserveSession(ctx context.Context, agentID string) (SessionRef, error)
	Dial(ctx context.Context, ref SessionRef, init protocol.AgentInit) (bridge.Channel, error)
}

// HTTPGateway reserves sessions over REST and opens the agent leg over a
// websocket.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	dialer  websocket.Dialer
	metrics *observability.Metrics
}

// SetMetrics wires provider error counting. Set during startup.
func (g *HTTPGateway) SetMetrics(m *observability.Metrics) { g.metrics = m }

func (g *HTTPGateway) noteErr(err error) error {
	if err != nil && g.metrics != nil {
		g.metrics.ProviderErrors.WithLabelValues("agent", string(reliability.KindOf(err))).Inc()
	}
	return err
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: reserveTimeout},
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (g *HTTPGateway) ReserveSession(ctx context.Context, agentID string) (SessionRef, error) {
	body, _ := json.Marshal(map[string]string{"agent_id": agentID})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/v1/agents/"+url.PathEscape(agentID)+"/sessions", bytes.NewReader(body))
	if err != nil {
		return SessionRef{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return SessionRef{}, g.noteErr(reliability.Transient("network", err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return SessionRef{}, g.noteErr(reliability.ClassifyHTTPStatus(resp.StatusCode, fmt.Sprintf("http_%d", resp.StatusCode), strings.TrimSpace(string(raw))))
	}

	var ref SessionRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return SessionRef{}, fmt.Errorf("decode session ref: %w", err)
	}
	if ref.SessionURL == "" {
		return SessionRef{}, g.noteErr(reliability.Terminal("empty_session_url", "provider returned no session url"))
	}
	return ref, nil
}

// Dial opens the agent leg and sends the init frame carrying the first
// message override and per-call context variables.
func (g *HTTPGateway) Dial(ctx context.Context, ref SessionRef, init protocol.AgentInit) (bridge.Channel, error) {
	wsURL, err := normalizeWSURL(ref.SessionURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if g.apiKey != "" {
		header.Set("Authorization", "Bearer "+g.apiKey)
	}
	conn, _, err := g.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, g.noteErr(reliability.Transient("ws_dial", err.Error()))
	}

	ch := bridge.NewWSChannel(conn)
	init.Type = protocol.TypeAgentInit
	if err := ch.WriteJSON(init); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("send init frame: %w", err)
	}
	return ch, nil
}

func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse session url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported session url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
