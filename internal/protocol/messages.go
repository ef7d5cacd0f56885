// Package protocol defines the messages of the sandrun-v1 WebSocket
// subprotocol. Every frame is one JSON-encoded Message.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
)

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "sandrun-v1"

// MessageType identifies the kind of frame.
type MessageType string

const (
	// Client → Gateway
	MsgRun    MessageType = "run"
	MsgCancel MessageType = "cancel"

	// Gateway → Client
	MsgStarted MessageType = "started"
	MsgOutcome MessageType = "outcome"
	MsgError   MessageType = "error"
)

// Message is a single frame. ID is chosen by the client and echoed on every
// reply about the same execution.
type Message struct {
	Type    MessageType       `json:"type"`
	ID      string            `json:"id,omitempty"`
	Request *executor.Request `json:"request,omitempty"`
	Outcome *domain.Outcome   `json:"outcome,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Run builds a run frame.
func Run(id string, req executor.Request) Message {
	return Message{Type: MsgRun, ID: id, Request: &req}
}

// Cancel builds a cancel frame.
func Cancel(id string) Message {
	return Message{Type: MsgCancel, ID: id}
}

// Started builds a started frame.
func Started(id string) Message {
	return Message{Type: MsgStarted, ID: id}
}

// Outcome builds an outcome frame.
func Outcome(id string, out domain.Outcome) Message {
	return Message{Type: MsgOutcome, ID: id, Outcome: &out}
}

// Error builds an error frame.
func Error(id, format string, args ...any) Message {
	return Message{Type: MsgError, ID: id, Message: fmt.Sprintf(format, args...)}
}

// Decode parses a frame and checks the fields its type requires.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	switch m.Type {
	case MsgRun:
		if m.ID == "" {
			return m, fmt.Errorf("run message requires an id")
		}
		if m.Request == nil {
			return m, fmt.Errorf("run message %q requires a request", m.ID)
		}
	case MsgCancel, MsgStarted:
		if m.ID == "" {
			return m, fmt.Errorf("%s message requires an id", m.Type)
		}
	case MsgOutcome:
		if m.Outcome == nil {
			return m, fmt.Errorf("outcome message %q has no outcome", m.ID)
		}
	case MsgError:
	default:
		return m, fmt.Errorf("unknown message type %q", m.Type)
	}
	return m, nil
}
