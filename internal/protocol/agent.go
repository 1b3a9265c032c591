package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AgentMessageType identifies agent-leg websocket payload variants.
type AgentMessageType string

const (
	TypeAgentInit         AgentMessageType = "init"
	TypeAgentAudio        AgentMessageType = "audio"
	TypeAgentTranscript   AgentMessageType = "transcript"
	TypeAgentInterruption AgentMessageType = "interruption"
	TypeAgentPing         AgentMessageType = "ping"
	TypeAgentPong         AgentMessageType = "pong"
	TypeAgentComplete     AgentMessageType = "complete"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type agentEnvelope struct {
	Type AgentMessageType `json:"type"`
}

// AgentInit is sent once when the agent session opens. It carries the first
// message override and per-call context variables.
type AgentInit struct {
	Type         AgentMessageType  `json:"type"`
	FirstMessage string            `json:"first_message,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

type AgentAudio struct {
	Type        AgentMessageType `json:"type"`
	AudioBase64 string           `json:"audio_base64"`
}

type AgentTranscript struct {
	Type AgentMessageType `json:"type"`
	Role string           `json:"role"`
	Text string           `json:"text"`
}

type AgentInterruption struct {
	Type AgentMessageType `json:"type"`
}

type AgentPing struct {
	Type    AgentMessageType `json:"type"`
	EventID int              `json:"event_id,omitempty"`
}

type AgentPong struct {
	Type    AgentMessageType `json:"type"`
	EventID int              `json:"event_id,omitempty"`
}

type AgentComplete struct {
	Type   AgentMessageType `json:"type"`
	Reason string           `json:"reason,omitempty"`
}

// ParseAgentMessage validates a raw agent-leg frame into a tagged variant.
// Anything that does not match a known shape is rejected here, at the
// boundary, so business logic never probes loose fields.
func ParseAgentMessage(raw []byte) (any, error) {
	var env agentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAgentAudio:
		var msg AgentAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioBase64 == "" {
			return nil, errors.New("invalid audio: empty payload")
		}
		return msg, nil
	case TypeAgentTranscript:
		var msg AgentTranscript
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Role == "" {
			return nil, errors.New("invalid transcript: missing role")
		}
		return msg, nil
	case TypeAgentInterruption:
		var msg AgentInterruption
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAgentPing:
		var msg AgentPing
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAgentPong:
		var msg AgentPong
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAgentComplete:
		var msg AgentComplete
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
