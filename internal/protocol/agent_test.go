package protocol

import (
	"errors"
	"testing"
)

func TestParseAgentMessageAudio(t *testing.T) {
	raw := []byte(`{"type":"audio","audio_base64":"AQID"}`)
	msg, err := ParseAgentMessage(raw)
	if err != nil {
		t.Fatalf("ParseAgentMessage() error = %v", err)
	}

	audio, ok := msg.(AgentAudio)
	if !ok {
		t.Fatalf("message type = %T, want AgentAudio", msg)
	}
	if audio.AudioBase64 != "AQID" {
		t.Fatalf("unexpected audio frame: %+v", audio)
	}
}

func TestParseAgentMessageTranscript(t *testing.T) {
	raw := []byte(`{"type":"transcript","role":"agent","text":"goodbye for now"}`)
	msg, err := ParseAgentMessage(raw)
	if err != nil {
		t.Fatalf("ParseAgentMessage() error = %v", err)
	}

	tr, ok := msg.(AgentTranscript)
	if !ok {
		t.Fatalf("message type = %T, want AgentTranscript", msg)
	}
	if tr.Role != "agent" || tr.Text != "goodbye for now" {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
}

func TestParseAgentMessagePingComplete(t *testing.T) {
	msg, err := ParseAgentMessage([]byte(`{"type":"ping","event_id":7}`))
	if err != nil {
		t.Fatalf("ParseAgentMessage(ping) error = %v", err)
	}
	ping, ok := msg.(AgentPing)
	if !ok || ping.EventID != 7 {
		t.Fatalf("ping = %T %+v, want AgentPing with event_id 7", msg, msg)
	}

	msg, err = ParseAgentMessage([]byte(`{"type":"complete","reason":"done"}`))
	if err != nil {
		t.Fatalf("ParseAgentMessage(complete) error = %v", err)
	}
	if _, ok := msg.(AgentComplete); !ok {
		t.Fatalf("complete = %T, want AgentComplete", msg)
	}
}

func TestParseAgentMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseAgentMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseAgentMessageRejectsEmptyAudio(t *testing.T) {
	if _, err := ParseAgentMessage([]byte(`{"type":"audio","audio_base64":""}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseTelephonyMessageStart(t *testing.T) {
	raw := []byte(`{"event":"start","stream_id":"st1","call_id":"CA9","media_format":"mulaw/8000"}`)
	msg, err := ParseTelephonyMessage(raw)
	if err != nil {
		t.Fatalf("ParseTelephonyMessage() error = %v", err)
	}
	start, ok := msg.(StreamStart)
	if !ok {
		t.Fatalf("message type = %T, want StreamStart", msg)
	}
	if start.ProviderCallID != "CA9" {
		t.Fatalf("unexpected start: %+v", start)
	}
}

func TestParseTelephonyMessageMedia(t *testing.T) {
	raw := []byte(`{"event":"media","seq":3,"payload":"AQID"}`)
	msg, err := ParseTelephonyMessage(raw)
	if err != nil {
		t.Fatalf("ParseTelephonyMessage() error = %v", err)
	}
	media, ok := msg.(StreamMedia)
	if !ok || media.Seq != 3 {
		t.Fatalf("media = %T %+v, want StreamMedia seq 3", msg, msg)
	}
}

func TestParseTelephonyMessageRejectsStartWithoutCallID(t *testing.T) {
	if _, err := ParseTelephonyMessage([]byte(`{"event":"start","stream_id":"st1"}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}
