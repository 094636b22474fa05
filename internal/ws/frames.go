// ABOUTME: Frame shapes and inbound action decoding for the chat socket
// ABOUTME: Raw JSON is decoded once into a closed action type, then matched exhaustively

package ws

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/litemessenger/chat-relay/internal/chat"
)

// clientMessage is the raw inbound frame shape.
type clientMessage struct {
	Action      string `json:"action"`
	ChatID      string `json:"chatId"`
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
}

// ServerMessage is the outbound frame shape shared by status, message,
// and error frames.
type ServerMessage struct {
	Type    string        `json:"type"`
	Payload *chat.Message `json:"payload,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Action is the closed set of inbound client actions. Decoding happens
// once at the frame boundary; handlers switch over the concrete types.
type Action interface {
	isAction()
}

// SendMessage carries either an existing chat id or a recipient to
// resolve the canonical chat against.
type SendMessage struct {
	ChatID      string
	RecipientID string
	Content     string
}

func (SendMessage) isAction() {}

// UnknownAction preserves the unrecognized action tag for the error reply.
type UnknownAction struct {
	Name string
}

func (UnknownAction) isAction() {}

// errInvalidPayload marks frames that do not parse into a known shape.
var errInvalidPayload = errors.New("invalid payload")

// decodeAction parses a text frame into an Action. A frame that is not
// valid JSON or lacks an action tag yields errInvalidPayload; a valid
// frame with an unrecognized tag yields UnknownAction.
func decodeAction(data []byte) (Action, error) {
	var raw clientMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errInvalidPayload
	}
	if raw.Action == "" {
		return nil, errInvalidPayload
	}

	switch strings.ToLower(raw.Action) {
	case "send_message":
		return SendMessage{
			ChatID:      raw.ChatID,
			RecipientID: raw.RecipientID,
			Content:     raw.Content,
		}, nil
	default:
		return UnknownAction{Name: raw.Action}, nil
	}
}
