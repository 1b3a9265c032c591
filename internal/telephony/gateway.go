package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/reliability"
)

const requestTimeout = 10 * time.Second

// PlaceCallRequest describes an outbound call to create at the provider.
type PlaceCallRequest struct {
	From              string
	To                string
	StatusCallbackURL string
	AMDCallbackURL    string
	MediaStreamURL    string
	Record            bool
}

// CallInfo is the provider's view of a call.
type CallInfo struct {
	ProviderCallID string `json:"sid"`
	Status         string `json:"status"`
	Duration       int    `json:"duration,omitempty"`
}

// Gateway abstracts the telephony provider's REST surface. EndCall returns
// nil both on success and when the provider reports the call already ended.
type Gateway interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error)
	FetchCall(ctx context.Context, providerCallID string) (CallInfo, error)
	EndCall(ctx context.Context, providerCallID string) error
}

// HTTPGateway talks to a REST telephony provider with form-encoded requests
// and basic auth, the scheme most CPaaS vendors use.
type HTTPGateway struct {
	baseURL   string
	accountID string
	authToken string
	client    *http.Client
	metrics   *observability.Metrics
}

func NewHTTPGateway(baseURL, accountID, authToken string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accountID: accountID,
		authToken: authToken,
		client:    &http.Client{Timeout: requestTimeout},
	}
}

// SetMetrics wires provider error counting. Set during startup.
func (g *HTTPGateway) SetMetrics(m *observability.Metrics) { g.metrics = m }

// noteErr counts the error by reliability kind and returns it unchanged.
func (g *HTTPGateway) noteErr(err error) error {
	if err != nil && g.metrics != nil {
		g.metrics.ProviderErrors.WithLabelValues("telephony", string(reliability.KindOf(err))).Inc()
	}
	return err
}

func (g *HTTPGateway) PlaceCall(ctx context.Context, req PlaceCallRequest) (string, error) {
	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	form.Set("StatusCallback", req.StatusCallbackURL)
	if req.AMDCallbackURL != "" {
		form.Set("MachineDetection", "Enable")
		form.Set("MachineDetectionCallback", req.AMDCallbackURL)
	}
	if req.MediaStreamURL != "" {
		form.Set("MediaStreamUrl", req.MediaStreamURL)
	}
	if req.Record {
		form.Set("Record", "true")
	}

	var out CallInfo
	if err := g.post(ctx, "/Calls", form, &out); err != nil {
		return "", g.noteErr(fmt.Errorf("place call: %w", err))
	}
	if out.ProviderCallID == "" {
		return "", g.noteErr(reliability.Terminal("empty_sid", "provider returned no call id"))
	}
	return out.ProviderCallID, nil
}

func (g *HTTPGateway) FetchCall(ctx context.Context, providerCallID string) (CallInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/Calls/"+url.PathEscape(providerCallID), nil)
	if err != nil {
		return CallInfo{}, err
	}
	httpReq.SetBasicAuth(g.accountID, g.authToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return CallInfo{}, g.noteErr(reliability.Transient("network", err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CallInfo{}, g.noteErr(classifyResponse(resp))
	}
	var out CallInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CallInfo{}, fmt.Errorf("decode call info: %w", err)
	}
	return out, nil
}

func (g *HTTPGateway) EndCall(ctx context.Context, providerCallID string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	err := g.post(ctx, "/Calls/"+url.PathEscape(providerCallID), form, nil)
	if err == nil {
		return nil
	}
	// A call that no longer exists, or is already terminal, counts as ended.
	var pe *reliability.ProviderError
	if errors.As(err, &pe) && (pe.Code == "not_found" || pe.Code == "call_already_ended") {
		return nil
	}
	return g.noteErr(fmt.Errorf("end call: %w", err))
}

func (g *HTTPGateway) post(ctx context.Context, path string, form url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(g.accountID, g.authToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return reliability.Transient("network", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type providerErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func classifyResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var eb providerErrorBody
	_ = json.Unmarshal(body, &eb)
	if eb.Code == "" {
		eb.Code = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	if eb.Message == "" {
		eb.Message = strings.TrimSpace(string(body))
	}
	if resp.StatusCode == http.StatusNotFound {
		eb.Code = "not_found"
	}
	switch eb.Code {
	case "invalid_number", "unreachable_number":
		return reliability.Terminal(eb.Code, eb.Message)
	case "insufficient_funds", "account_suspended":
		return reliability.Account(eb.Code, eb.Message)
	}
	return reliability.ClassifyHTTPStatus(resp.StatusCode, eb.Code, eb.Message)
}
