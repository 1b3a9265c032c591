package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TelephonyEventType identifies telephony media-stream payload variants. The
// provider opens one websocket per answered call and streams these events.
type TelephonyEventType string

const (
	TypeStreamStart TelephonyEventType = "start"
	TypeStreamMedia TelephonyEventType = "media"
	TypeStreamStop  TelephonyEventType = "stop"
	TypeStreamMark  TelephonyEventType = "mark"
	TypeStreamClear TelephonyEventType = "clear"
)

type telephonyEnvelope struct {
	Event TelephonyEventType `json:"event"`
}

// StreamStart binds a media websocket to its provider call.
type StreamStart struct {
	Event          TelephonyEventType `json:"event"`
	StreamID       string             `json:"stream_id"`
	ProviderCallID string             `json:"call_id"`
	MediaFormat    string             `json:"media_format,omitempty"`
}

type StreamMedia struct {
	Event          TelephonyEventType `json:"event"`
	Seq            int                `json:"seq"`
	PayloadBase64  string             `json:"payload"`
	TimestampMilli int64              `json:"timestamp_ms,omitempty"`
}

type StreamStop struct {
	Event TelephonyEventType `json:"event"`
}

type StreamMark struct {
	Event TelephonyEventType `json:"event"`
	Name  string             `json:"name"`
}

// StreamClear is sent outbound to flush buffered audio on barge-in.
type StreamClear struct {
	Event TelephonyEventType `json:"event"`
}

// ParseTelephonyMessage validates a raw media-stream frame into a tagged
// variant.
func ParseTelephonyMessage(raw []byte) (any, error) {
	var env telephonyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case TypeStreamStart:
		var msg StreamStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ProviderCallID == "" {
			return nil, errors.New("invalid start: missing call_id")
		}
		return msg, nil
	case TypeStreamMedia:
		var msg StreamMedia
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PayloadBase64 == "" {
			return nil, errors.New("invalid media: empty payload")
		}
		return msg, nil
	case TypeStreamStop:
		var msg StreamStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeStreamMark:
		var msg StreamMark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
