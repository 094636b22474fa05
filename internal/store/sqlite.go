// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/chat/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			avatar_file   TEXT,
			abbreviation  TEXT NOT NULL,
			created_at    DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			user_a     TEXT NOT NULL,
			user_b     TEXT NOT NULL,
			created_at DATETIME NOT NULL,

			FOREIGN KEY (user_a) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (user_b) REFERENCES users(id) ON DELETE CASCADE,
			CHECK (user_a < user_b)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_pair
			ON chats(user_a, user_b);

		CREATE INDEX IF NOT EXISTS idx_chats_user_a ON chats(user_a);
		CREATE INDEX IF NOT EXISTS idx_chats_user_b ON chats(user_b);

		CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			chat_id      TEXT NOT NULL,
			sender_id    TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			content      TEXT NOT NULL,
			created_at   INTEGER NOT NULL,

			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE,
			FOREIGN KEY (sender_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (recipient_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages(chat_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateUser inserts a new user.
// Returns ErrDuplicateEmail if the email is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, email, password_hash, avatar_file, abbreviation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var avatar any
	if user.AvatarFile != "" {
		avatar = user.AvatarFile
	}

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		avatar,
		user.Abbreviation,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "email", user.Email)
	return nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, name, email, password_hash, avatar_file, abbreviation, created_at
		FROM users WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByEmail retrieves a user by email.
// Returns ErrNotFound if no user has the given email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, name, email, password_hash, avatar_file, abbreviation, created_at
		FROM users WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

// UpdateUserAvatar sets the stored avatar file name for a user.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) UpdateUserAvatar(ctx context.Context, id, avatarFile string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET avatar_file = ? WHERE id = ?`, avatarFile, id)
	if err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchUsers returns users whose name or email contains the given term.
func (s *SQLiteStore) SearchUsers(ctx context.Context, term string, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + term + "%"

	query := `
		SELECT id, name, email, password_hash, avatar_file, abbreviation, created_at
		FROM users
		WHERE name LIKE ? OR email LIKE ?
		ORDER BY name
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := s.scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of registered users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// CreateChat creates a new chat between two users. The pair is normalized
// before insert so the unordered pair maps to exactly one row; a concurrent
// insert of the same pair hits the UNIQUE index and returns ErrDuplicateChat.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	chat.UserA, chat.UserB = NormalizePair(chat.UserA, chat.UserB)

	query := `
		INSERT INTO chats (id, user_a, user_b, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		chat.ID,
		chat.UserA,
		chat.UserB,
		chat.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateChat
		}
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "id", chat.ID, "user_a", chat.UserA, "user_b", chat.UserB)
	return nil
}

// GetChat retrieves a chat by ID.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	query := `SELECT id, user_a, user_b, created_at FROM chats WHERE id = ?`
	return s.scanChat(s.db.QueryRowContext(ctx, query, id))
}

// GetChatByPair retrieves the chat for an unordered pair of users.
// Returns ErrNotFound if no chat exists for the pair.
func (s *SQLiteStore) GetChatByPair(ctx context.Context, a, b string) (*Chat, error) {
	lo, hi := NormalizePair(a, b)
	query := `SELECT id, user_a, user_b, created_at FROM chats WHERE user_a = ? AND user_b = ?`
	return s.scanChat(s.db.QueryRowContext(ctx, query, lo, hi))
}

// ListChatsByUser returns every chat the given user is a member of,
// in creation order.
func (s *SQLiteStore) ListChatsByUser(ctx context.Context, userID string) ([]*Chat, error) {
	query := `
		SELECT id, user_a, user_b, created_at
		FROM chats
		WHERE user_a = ? OR user_b = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var chat Chat
		var createdAt string
		if err := rows.Scan(&chat.ID, &chat.UserA, &chat.UserB, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chat.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

// SaveMessage persists a message. The created_at column stores unix
// milliseconds; ties within a millisecond keep insertion order via rowid.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, chat_id, sender_id, recipient_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ChatID,
		msg.SenderID,
		msg.RecipientID,
		msg.Content,
		msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "chat_id", msg.ChatID)
	return nil
}

// GetChatMessages returns the messages of a chat in persistence order
// (created_at ascending, insertion order within a millisecond).
// A limit <= 0 returns all messages.
func (s *SQLiteStore) GetChatMessages(ctx context.Context, chatID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, chat_id, sender_id, recipient_id, content, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at, rowid
	`
	args := []any{chatID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetLastMessage returns the most recent message in a chat.
// Returns ErrNotFound if the chat has no messages.
func (s *SQLiteStore) GetLastMessage(ctx context.Context, chatID string) (*Message, error) {
	query := `
		SELECT id, chat_id, sender_id, recipient_id, content, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	msg, err := scanMessageRow(s.db.QueryRowContext(ctx, query, chatID))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanUser(row rowScanner) (*User, error) {
	return s.scanUserRow(row)
}

func (s *SQLiteStore) scanUserRow(row rowScanner) (*User, error) {
	var user User
	var avatar sql.NullString
	var createdAt string

	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash,
		&avatar, &user.Abbreviation, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.AvatarFile = avatar.String
	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &user, nil
}

func (s *SQLiteStore) scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var createdAt string

	err := row.Scan(&chat.ID, &chat.UserA, &chat.UserB, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning chat: %w", err)
	}

	chat.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &chat, nil
}

func scanMessageRow(row rowScanner) (*Message, error) {
	var msg Message
	var createdAt int64

	err := row.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.RecipientID,
		&msg.Content, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &msg, nil
}
