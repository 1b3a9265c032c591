package bridge

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/observability"
	"github.com/acme/outdial/internal/protocol"
)

// Terminator is the call-ending coordinator the bridge reports into.
type Terminator interface {
	Terminate(ctx context.Context, callID string, reason call.Reason) (call.Outcome, error)
}

// closingPhrases is a best-effort secondary end-of-conversation signal,
// matched against agent-role transcript text. The agent's explicit complete
// message remains the primary path.
var closingPhrases = []string{
	"goodbye",
	"bye for now",
	"have a great day",
	"have a good day",
	"talk to you later",
	"thanks for your time",
}

// Bridge relays audio and control frames between the telephony leg and the
// agent leg of one call. Exactly one bridge owns a call's channels at a time.
type Bridge struct {
	callID     string
	reg        *call.Registry
	terminator Terminator
	metrics    *observability.Metrics
	log        *logrus.Entry

	mu            sync.Mutex
	telephony     Channel
	agent         Channel
	pendingToTele *protocol.StreamMedia
	pendingToAg   *protocol.AgentAudio

	inactivity time.Duration
	watchdog   *time.Timer

	outSeq int64

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func New(callID string, reg *call.Registry, terminator Terminator, metrics *observability.Metrics, inactivity time.Duration) *Bridge {
	if inactivity <= 0 {
		inactivity = 60 * time.Second
	}
	b := &Bridge{
		callID:     callID,
		reg:        reg,
		terminator: terminator,
		metrics:    metrics,
		inactivity: inactivity,
		done:       make(chan struct{}),
		log:        logrus.WithFields(logrus.Fields{"component": "bridge", "call_id": callID}),
	}
	b.watchdog = time.AfterFunc(inactivity, b.onInactivity)
	return b
}

// Done closes when the bridge has shut down. Connection handlers block on it
// to keep the underlying socket alive while the bridge owns it.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// AttachTelephony hands the telephony leg to the bridge and starts its relay
// loop. Either leg may attach first; any frame buffered from the other leg
// while this one was missing is flushed immediately.
func (b *Bridge) AttachTelephony(ch Channel) {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		_ = ch.Close()
		return
	}
	b.telephony = ch
	pending := b.pendingToTele
	b.pendingToTele = nil
	b.mu.Unlock()

	if pending != nil {
		b.writeTelephony(*pending)
	}
	go b.telephonyLoop(ch)
}

// AttachAgent hands the agent leg to the bridge and starts its relay loop.
func (b *Bridge) AttachAgent(ch Channel) {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		_ = ch.Close()
		return
	}
	b.agent = ch
	pending := b.pendingToAg
	b.pendingToAg = nil
	b.mu.Unlock()

	if pending != nil {
		b.writeAgent(*pending)
	}
	go b.agentLoop(ch)
}

// Close tears the bridge down: watchdog stopped, both legs closed. Safe to
// call from any goroutine, any number of times.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.watchdog.Stop()

		b.mu.Lock()
		tele, ag := b.telephony, b.agent
		b.telephony, b.agent = nil, nil
		b.mu.Unlock()

		if tele != nil {
			_ = tele.Close()
		}
		if ag != nil {
			_ = ag.Close()
		}
		close(b.done)
	})
}

func (b *Bridge) telephonyLoop(ch Channel) {
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			b.onLegClosed("telephony")
			return
		}
		msg, err := protocol.ParseTelephonyMessage(data)
		if err != nil {
			// A single bad frame never tears down a healthy call.
			b.log.WithError(err).Debug("dropping malformed telephony frame")
			b.countFrame("telephony", "dropped")
			continue
		}
		switch m := msg.(type) {
		case protocol.StreamMedia:
			b.touch()
			b.countFrame("telephony", "audio")
			b.forwardToAgent(protocol.AgentAudio{Type: protocol.TypeAgentAudio, AudioBase64: m.PayloadBase64})
		case protocol.StreamStop:
			b.endCall(call.ReasonPeerClosed)
			return
		case protocol.StreamMark:
			b.countFrame("telephony", "mark")
		case protocol.StreamStart:
			// Already bound by the connection handler; treat as activity.
			b.touch()
		}
	}
}

func (b *Bridge) agentLoop(ch Channel) {
	for {
		data, err := ch.ReadMessage()
		if err != nil {
			b.onLegClosed("agent")
			return
		}
		msg, err := protocol.ParseAgentMessage(data)
		if err != nil {
			b.log.WithError(err).Debug("dropping malformed agent frame")
			b.countFrame("agent", "dropped")
			continue
		}
		switch m := msg.(type) {
		case protocol.AgentAudio:
			b.touch()
			b.countFrame("agent", "audio")
			seq := int(atomic.AddInt64(&b.outSeq, 1))
			b.forwardToTelephony(protocol.StreamMedia{Event: protocol.TypeStreamMedia, Seq: seq, PayloadBase64: m.AudioBase64})
		case protocol.AgentInterruption:
			b.touch()
			b.countFrame("agent", "interruption")
			// Barge-in: flush whatever outbound audio the provider has queued.
			b.writeTelephony(protocol.StreamClear{Event: protocol.TypeStreamClear})
		case protocol.AgentPing:
			b.touch()
			b.writeAgent(protocol.AgentPong{Type: protocol.TypeAgentPong, EventID: m.EventID})
		case protocol.AgentTranscript:
			b.touch()
			b.countFrame("agent", "transcript")
			if m.Role == "agent" && containsClosingPhrase(m.Text) {
				b.endCall(call.ReasonAgentComplete)
				return
			}
		case protocol.AgentComplete:
			b.endCall(call.ReasonAgentComplete)
			return
		case protocol.AgentPong:
			b.touch()
		}
	}
}

func (b *Bridge) forwardToAgent(msg protocol.AgentAudio) {
	b.mu.Lock()
	if b.agent == nil {
		// Keep only the most recent frame while the agent leg is absent.
		b.pendingToAg = &msg
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.writeAgent(msg)
}

func (b *Bridge) forwardToTelephony(msg protocol.StreamMedia) {
	b.mu.Lock()
	if b.telephony == nil {
		b.pendingToTele = &msg
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.writeTelephony(msg)
}

func (b *Bridge) writeAgent(v any) {
	b.mu.Lock()
	ch := b.agent
	b.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.WriteJSON(v); err != nil && !b.closed.Load() {
		b.log.WithError(err).Debug("agent leg write failed")
	}
}

func (b *Bridge) writeTelephony(v any) {
	b.mu.Lock()
	ch := b.telephony
	b.mu.Unlock()
	if ch == nil {
		return
	}
	if err := ch.WriteJSON(v); err != nil && !b.closed.Load() {
		b.log.WithError(err).Debug("telephony leg write failed")
	}
}

// touch resets the inactivity watchdog and the registry's activity stamp.
func (b *Bridge) touch() {
	if b.closed.Load() {
		return
	}
	b.watchdog.Reset(b.inactivity)
	if b.reg != nil {
		_ = b.reg.Update(b.callID, func(*call.Session) {})
	}
}

func (b *Bridge) onInactivity() {
	if b.closed.Load() {
		return
	}
	b.log.Info("inactivity deadline expired")
	b.endCall(call.ReasonInactivity)
}

func (b *Bridge) onLegClosed(leg string) {
	if b.closed.Load() {
		return
	}
	b.log.WithField("leg", leg).Info("leg closed unexpectedly")
	b.endCall(call.ReasonPeerClosed)
}

func (b *Bridge) endCall(reason call.Reason) {
	if b.closed.Load() {
		return
	}
	if _, err := b.terminator.Terminate(context.Background(), b.callID, reason); err != nil {
		b.log.WithError(err).Debug("terminate from bridge")
		// The terminator did not reach Shutdown; close the legs ourselves.
		b.Close()
	}
}

func (b *Bridge) countFrame(leg, kind string) {
	if b.metrics != nil {
		b.metrics.BridgeFrames.WithLabelValues(leg, kind).Inc()
	}
}

func containsClosingPhrase(text string) bool {
	t := strings.ToLower(text)
	for _, p := range closingPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}
