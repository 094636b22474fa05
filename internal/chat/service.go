// ABOUTME: Chat service owning the canonical pairing and message log invariants
// ABOUTME: All message reads and writes flow through here - the store is the source of truth

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/litemessenger/chat-relay/internal/store"
	"github.com/litemessenger/chat-relay/internal/user"
)

// Chat errors. These are local decisions returned to the caller; none of
// them is fatal to the connection that triggered them.
var (
	ErrSelfChat        = errors.New("cannot start a chat with yourself")
	ErrUserNotFound    = errors.New("user does not exist")
	ErrChatNotFound    = errors.New("chat not found")
	ErrNotAParticipant = errors.New("you are not part of this chat")
	ErrEmptyMessage    = errors.New("message cannot be empty")
)

// Message is the wire shape of one persisted message. Sender name and
// avatar are resolved at build time, so renames show up on the next
// message rather than sticking to a connection-time snapshot.
type Message struct {
	ID              string `json:"id"`
	ChatID          string `json:"chatId"`
	SenderID        string `json:"senderId"`
	RecipientID     string `json:"recipientId"`
	SenderName      string `json:"senderName"`
	Content         string `json:"content"`
	Timestamp       int64  `json:"timestamp"`
	SenderAvatarURL string `json:"senderAvatarUrl,omitempty"`
}

// Summary is the wire shape of one entry in a user's chat list.
type Summary struct {
	ChatID      string        `json:"chatId"`
	Contact     *user.Preview `json:"contact"`
	LastMessage *Message      `json:"lastMessage,omitempty"`
}

// Service implements the conversation operations over the store.
type Service struct {
	store  store.Store
	users  *user.Service
	logger *slog.Logger
}

// New creates a chat service. Pass nil logger for default.
func New(st store.Store, users *user.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		users:  users,
		logger: logger.With("component", "chat"),
	}
}

// EnsureChat returns the canonical chat for the unordered pair {a, b},
// creating it if absent. Safe under concurrent callers racing to create
// the same pair: the UNIQUE index over the normalized pair guarantees a
// single row, and the loser of the race re-reads the winner's.
func (s *Service) EnsureChat(ctx context.Context, a, b string) (*store.Chat, error) {
	if a == b {
		return nil, ErrSelfChat
	}

	existing, err := s.store.GetChatByPair(ctx, a, b)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up chat: %w", err)
	}

	// Both members must exist before a chat can reference them
	for _, id := range []string{a, b} {
		if _, err := s.store.GetUser(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("looking up user: %w", err)
		}
	}

	chat := &store.Chat{
		ID:        uuid.New().String(),
		UserA:     a,
		UserB:     b,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		if errors.Is(err, store.ErrDuplicateChat) {
			// Another request created the pair between our lookup and
			// insert; their row is the canonical one.
			winner, lookupErr := s.store.GetChatByPair(ctx, a, b)
			if lookupErr == nil {
				s.logger.Debug("found existing chat after race", "chat_id", winner.ID)
				return winner, nil
			}
			return nil, fmt.Errorf("re-reading chat after duplicate: %w", lookupErr)
		}
		return nil, fmt.Errorf("creating chat: %w", err)
	}

	s.logger.Debug("chat created", "chat_id", chat.ID)
	return chat, nil
}

// ListChats returns every chat the user is a member of, each with the
// other participant's preview and the most recent message, if any.
func (s *Service) ListChats(ctx context.Context, userID string) ([]*Summary, error) {
	chats, err := s.store.ListChatsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}

	summaries := make([]*Summary, 0, len(chats))
	for _, chat := range chats {
		summary, err := s.summarize(ctx, chat, userID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Summary builds the chat-list entry for one chat as seen by the given user.
func (s *Service) Summary(ctx context.Context, chatID, userID string) (*Summary, error) {
	chat, err := s.getMemberChat(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, chat, userID)
}

// History returns all messages of a chat in persistence order.
// The requester must be a member.
func (s *Service) History(ctx context.Context, chatID, requesterID string) ([]*Message, error) {
	if _, err := s.getMemberChat(ctx, chatID, requesterID); err != nil {
		return nil, err
	}

	stored, err := s.store.GetChatMessages(ctx, chatID, 0)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	messages := make([]*Message, 0, len(stored))
	for _, msg := range stored {
		messages = append(messages, s.toWire(ctx, msg))
	}
	return messages, nil
}

// Append validates and persists a message, assigning the timestamp at
// persistence time, and returns the fully resolved wire message.
func (s *Service) Append(ctx context.Context, chatID, senderID, content string) (*Message, error) {
	chat, err := s.getMemberChat(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	msg := &store.Message{
		ID:          uuid.New().String(),
		ChatID:      chat.ID,
		SenderID:    senderID,
		RecipientID: chat.OtherMember(senderID),
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	s.logger.Debug("message appended",
		"chat_id", chat.ID,
		"message_id", msg.ID,
		"sender", senderID)

	return s.toWire(ctx, msg), nil
}

// getMemberChat loads a chat and checks the given user is a member.
func (s *Service) getMemberChat(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("looking up chat: %w", err)
	}
	if !chat.HasMember(userID) {
		return nil, ErrNotAParticipant
	}
	return chat, nil
}

func (s *Service) summarize(ctx context.Context, chat *store.Chat, forUser string) (*Summary, error) {
	contactID := chat.OtherMember(forUser)
	contact, err := s.users.Preview(ctx, contactID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading contact: %w", err)
		}
		contact = &user.Preview{ID: contactID, Name: "Unknown", Abbreviation: "UN"}
	}

	summary := &Summary{
		ChatID:  chat.ID,
		Contact: contact,
	}

	last, err := s.store.GetLastMessage(ctx, chat.ID)
	if err == nil {
		summary.LastMessage = s.toWire(ctx, last)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading last message: %w", err)
	}

	return summary, nil
}

// toWire resolves the sender's current name and avatar onto the message.
func (s *Service) toWire(ctx context.Context, msg *store.Message) *Message {
	senderName := "Unknown"
	senderAvatar := ""
	if preview, err := s.users.Preview(ctx, msg.SenderID); err == nil {
		senderName = preview.Name
		senderAvatar = preview.AvatarURL
	}

	return &Message{
		ID:              msg.ID,
		ChatID:          msg.ChatID,
		SenderID:        msg.SenderID,
		RecipientID:     msg.RecipientID,
		SenderName:      senderName,
		Content:         msg.Content,
		Timestamp:       msg.CreatedAt.UnixMilli(),
		SenderAvatarURL: senderAvatar,
	}
}
