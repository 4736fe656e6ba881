package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientSend      MessageType = "client_send"
	TypeClientControl   MessageType = "client_control"
	TypeMessageAppended MessageType = "message_appended"
	TypeTypingState     MessageType = "typing_state"
	TypeErrorEvent      MessageType = "error_event"
)

// Control actions accepted in client_control.
const (
	ActionSkip = "skip"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientSend struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

// MessageAppended mirrors one conversation log entry.
type MessageAppended struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	SequenceID int64       `json:"sequence_id"`
	Role       string      `json:"role"`
	Content    string      `json:"content"`
}

// TypingState drives the viewer's typing indicator. Reason is set when typing
// stops: completed, skipped, superseded, or failed.
type TypingState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	JobID     string      `json:"job_id,omitempty"`
	Typing    bool        `json:"typing"`
	Reason    string      `json:"reason,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSend:
		var msg ClientSend
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid client_send")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action != ActionSkip {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the wire type of a known protocol value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientSend:
		return m.Type, true
	case ClientControl:
		return m.Type, true
	case MessageAppended:
		return m.Type, true
	case TypingState:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
