// ABOUTME: Per-connection protocol loop: authenticate, register, read, dispatch
// ABOUTME: Errors go to the offending connection only; messages fan out to both parties

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/litemessenger/chat-relay/internal/auth"
	"github.com/litemessenger/chat-relay/internal/chat"
	"github.com/litemessenger/chat-relay/internal/hub"
)

// Handler accepts websocket connections at the chat endpoint and runs the
// per-connection protocol loop.
type Handler struct {
	hub            *hub.Hub
	verifier       auth.TokenVerifier
	chats          *chat.Service
	originPatterns []string
	logger         *slog.Logger
}

// NewHandler creates the websocket handler. Pass nil logger for default.
func NewHandler(h *hub.Hub, verifier auth.TokenVerifier, chats *chat.Service, originPatterns []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:            h,
		verifier:       verifier,
		chats:          chats,
		originPatterns: originPatterns,
		logger:         logger.With("component", "ws"),
	}
}

// ServeHTTP upgrades the request and drives the connection from handshake
// to close. The token travels as a query parameter because browsers cannot
// set headers on a websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}

	userID, err := h.verifier.Verify(auth.HandshakeToken(r))
	if err != nil {
		// No registry entry, no status frame: the connection never
		// reaches the authenticated state.
		h.logger.Debug("handshake rejected", "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "missing or invalid token")
		return
	}

	client := hub.NewClient(userID, conn, h.logger)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	h.emit(client, &ServerMessage{Type: "status", Message: "connected"})
	h.logger.Info("connection authenticated", "user_id", userID)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Client close, network failure, or server shutdown all end
			// here; the deferred unregister is the only side effect.
			h.logger.Debug("connection closed", "user_id", userID, "error", err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		h.handleFrame(ctx, client, data)
	}
}

// handleFrame interprets one inbound text frame.
func (h *Handler) handleFrame(ctx context.Context, client *hub.Client, data []byte) {
	action, err := decodeAction(data)
	if err != nil {
		h.emitError(client, "Invalid payload")
		return
	}

	switch act := action.(type) {
	case SendMessage:
		h.handleSendMessage(ctx, client, act)
	case UnknownAction:
		h.emitError(client, "Unknown action "+act.Name)
	}
}

// handleSendMessage resolves the target chat, appends the message, and
// fans the result out to every connection of both participants.
func (h *Handler) handleSendMessage(ctx context.Context, client *hub.Client, act SendMessage) {
	chatID := act.ChatID
	if chatID == "" {
		if act.RecipientID == "" {
			h.emitError(client, "Recipient required")
			return
		}
		resolved, err := h.chats.EnsureChat(ctx, client.UserID, act.RecipientID)
		if err != nil {
			h.emitError(client, h.clientMessageFor(err))
			return
		}
		chatID = resolved.ID
	}

	msg, err := h.chats.Append(ctx, chatID, client.UserID, act.Content)
	if err != nil {
		h.emitError(client, h.clientMessageFor(err))
		return
	}

	payload, err := json.Marshal(&ServerMessage{Type: "message", Payload: msg})
	if err != nil {
		h.logger.Error("marshaling message frame", "error", err)
		return
	}

	// Serialized once, delivered to every device of both parties.
	h.hub.SendToUser(msg.SenderID, payload)
	h.hub.SendToUser(msg.RecipientID, payload)
}

// clientMessageFor maps store-level violations onto the reply sent to the
// offending connection. Unexpected errors are logged and masked.
func (h *Handler) clientMessageFor(err error) string {
	switch {
	case errors.Is(err, chat.ErrSelfChat),
		errors.Is(err, chat.ErrUserNotFound),
		errors.Is(err, chat.ErrChatNotFound),
		errors.Is(err, chat.ErrNotAParticipant),
		errors.Is(err, chat.ErrEmptyMessage):
		return err.Error()
	default:
		h.logger.Error("send failed", "error", err)
		return "Unable to send"
	}
}

// emitError sends an error frame to this connection only.
func (h *Handler) emitError(client *hub.Client, message string) {
	h.emit(client, &ServerMessage{Type: "error", Message: message})
}

func (h *Handler) emit(client *hub.Client, msg *ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshaling frame", "error", err)
		return
	}
	if !client.Send(payload) {
		h.logger.Warn("dropped frame for closing connection", "user_id", client.UserID)
	}
}
