package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/acme/outdial/internal/call"
)

var (
	ErrBadSignature   = errors.New("webhook signature verification failed")
	ErrUnknownWebhook = errors.New("unknown webhook payload")
)

// CallStatusEvent reports a lifecycle change for a provider call.
type CallStatusEvent struct {
	ProviderCallID  string
	Status          call.Status
	AnsweredBy      string
	DurationSeconds int
}

// MachineDetectionEvent arrives asynchronously, possibly after the main
// status stream for the same call.
type MachineDetectionEvent struct {
	ProviderCallID string
	Result         string
}

// RecordingEvent carries the recording reference once the provider has one.
type RecordingEvent struct {
	ProviderCallID  string
	RecordingRef    string
	DurationSeconds int
}

// VerifySignature checks the provider's HMAC-SHA1 webhook signature: the
// full callback URL concatenated with the sorted form parameters, signed
// with the shared secret and base64-encoded.
func VerifySignature(secret, callbackURL string, form url.Values, signature string) error {
	if secret == "" {
		return errors.New("webhook signing secret not configured")
	}
	expected := ComputeSignature(secret, callbackURL, form)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrBadSignature
	}
	return nil
}

// ComputeSignature produces the signature the provider sends. Exported for
// tests and for the mock provider.
func ComputeSignature(secret, callbackURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(callbackURL)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// statusByProvider maps provider status strings onto the call lifecycle.
var statusByProvider = map[string]call.Status{
	"initiated":   call.StatusInitiated,
	"queued":      call.StatusInitiated,
	"ringing":     call.StatusRinging,
	"in-progress": call.StatusInProgress,
	"answered":    call.StatusInProgress,
	"completed":   call.StatusCompleted,
	"busy":        call.StatusBusy,
	"no-answer":   call.StatusNoAnswer,
	"failed":      call.StatusFailed,
	"canceled":    call.StatusCanceled,
}

// ParseStatusWebhook builds a typed event from the status callback form.
func ParseStatusWebhook(form url.Values) (CallStatusEvent, error) {
	sid := strings.TrimSpace(form.Get("CallSid"))
	raw := strings.ToLower(strings.TrimSpace(form.Get("CallStatus")))
	if sid == "" || raw == "" {
		return CallStatusEvent{}, ErrUnknownWebhook
	}
	status, ok := statusByProvider[raw]
	if !ok {
		return CallStatusEvent{}, ErrUnknownWebhook
	}
	duration, _ := strconv.Atoi(form.Get("CallDuration"))
	return CallStatusEvent{
		ProviderCallID:  sid,
		Status:          status,
		AnsweredBy:      strings.TrimSpace(form.Get("AnsweredBy")),
		DurationSeconds: duration,
	}, nil
}

// ParseMachineDetectionWebhook builds a typed event from the AMD callback.
func ParseMachineDetectionWebhook(form url.Values) (MachineDetectionEvent, error) {
	sid := strings.TrimSpace(form.Get("CallSid"))
	result := strings.ToLower(strings.TrimSpace(form.Get("AnsweredBy")))
	if sid == "" || result == "" {
		return MachineDetectionEvent{}, ErrUnknownWebhook
	}
	return MachineDetectionEvent{ProviderCallID: sid, Result: result}, nil
}

// ParseRecordingWebhook builds a typed event from the recording callback.
func ParseRecordingWebhook(form url.Values) (RecordingEvent, error) {
	sid := strings.TrimSpace(form.Get("CallSid"))
	ref := strings.TrimSpace(form.Get("RecordingUrl"))
	if sid == "" || ref == "" {
		return RecordingEvent{}, ErrUnknownWebhook
	}
	duration, _ := strconv.Atoi(form.Get("RecordingDuration"))
	return RecordingEvent{ProviderCallID: sid, RecordingRef: ref, DurationSeconds: duration}, nil
}
