// ABOUTME: Store interface and data types for chat-relay persistence
// ABOUTME: Defines User, Chat, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateChat is returned when trying to create a chat for a pair
// of users that already has one
var ErrDuplicateChat = errors.New("chat already exists")

// ErrDuplicateEmail is returned when trying to create a user with an
// email that is already registered
var ErrDuplicateEmail = errors.New("email already registered")

// User represents a registered account
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	AvatarFile   string // empty when no avatar has been uploaded
	Abbreviation string
	CreatedAt    time.Time
}

// Chat represents the canonical conversation between two users.
// UserA and UserB are stored in normalized order (UserA < UserB) so the
// unordered pair maps to exactly one row.
type Chat struct {
	ID        string
	UserA     string
	UserB     string
	CreatedAt time.Time
}

// OtherMember returns the chat member that is not the given user.
func (c *Chat) OtherMember(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// HasMember reports whether the given user is one of the chat's two members.
func (c *Chat) HasMember(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// Message represents a single persisted message within a chat
type Message struct {
	ID          string
	ChatID      string
	SenderID    string
	RecipientID string
	Content     string
	CreatedAt   time.Time
}

// NormalizePair orders two user ids so that the unordered pair {a, b}
// always maps to the same (UserA, UserB) storage order.
func NormalizePair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Store defines the interface for user, chat, and message persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUserAvatar(ctx context.Context, id, avatarFile string) error
	SearchUsers(ctx context.Context, term string, limit int) ([]*User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Chats
	CreateChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	GetChatByPair(ctx context.Context, a, b string) (*Chat, error)
	ListChatsByUser(ctx context.Context, userID string) ([]*Chat, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetChatMessages(ctx context.Context, chatID string, limit int) ([]*Message, error)
	GetLastMessage(ctx context.Context, chatID string) (*Message, error)

	// Close releases any resources held by the store
	Close() error
}
