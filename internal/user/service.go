// ABOUTME: Account service for registration, login, search, and avatar updates
// ABOUTME: Hashes passwords with bcrypt and builds wire-facing profile shapes

package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/litemessenger/chat-relay/internal/avatars"
	"github.com/litemessenger/chat-relay/internal/store"
)

// Account errors
var (
	ErrNameRequired       = errors.New("name is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrPasswordRequired   = errors.New("password is required")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Profile is the wire shape of the caller's own account.
type Profile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Abbreviation string `json:"abbreviation"`
}

// Preview is the wire shape of another user as shown in chat lists and search.
type Preview struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Service provides account operations over the store.
type Service struct {
	store   store.Store
	avatars *avatars.Service
	logger  *slog.Logger
}

// New creates an account service. Pass nil logger for default.
func New(st store.Store, av *avatars.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   st,
		avatars: av,
		logger:  logger.With("component", "user"),
	}
}

// Register creates a new account and returns its profile.
func (s *Service) Register(ctx context.Context, name, email, password string) (*Profile, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return nil, ErrNameRequired
	}
	if email == "" {
		return nil, ErrEmailRequired
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &store.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Abbreviation: abbreviationFrom(name),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered", "user_id", u.ID)
	return s.toProfile(u), nil
}

// Login checks the credentials and returns the matching profile.
// Returns ErrInvalidCredentials for an unknown email or wrong password.
func (s *Service) Login(ctx context.Context, email, password string) (*Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return s.toProfile(u), nil
}

// Profile returns the profile for a user ID.
func (s *Service) Profile(ctx context.Context, id string) (*Profile, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toProfile(u), nil
}

// Preview returns the preview shape for a user ID.
func (s *Service) Preview(ctx context.Context, id string) (*Preview, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toPreview(u), nil
}

// Search returns previews of users matching the term by name or email.
// The caller is excluded from the results; a blank term matches nobody.
func (s *Service) Search(ctx context.Context, callerID, term string) ([]*Preview, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*Preview{}, nil
	}

	users, err := s.store.SearchUsers(ctx, term, 50)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}

	previews := make([]*Preview, 0, len(users))
	for _, u := range users {
		if u.ID == callerID {
			continue
		}
		previews = append(previews, s.toPreview(u))
	}
	return previews, nil
}

// UpdateAvatar stores the uploaded image and points the user's profile at it.
func (s *Service) UpdateAvatar(ctx context.Context, userID string, data []byte) (*Profile, error) {
	fileName, err := s.avatars.Save(data)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateUserAvatar(ctx, userID, fileName); err != nil {
		return nil, err
	}

	s.logger.Info("avatar updated", "user_id", userID, "file", fileName)
	return s.Profile(ctx, userID)
}

// Count returns the number of registered users.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountUsers(ctx)
}

func (s *Service) toProfile(u *store.User) *Profile {
	return &Profile{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		AvatarURL:    s.avatars.PublicURL(u.AvatarFile),
		Abbreviation: u.Abbreviation,
	}
}

func (s *Service) toPreview(u *store.User) *Preview {
	return &Preview{
		ID:           u.ID,
		Name:         u.Name,
		Abbreviation: u.Abbreviation,
		AvatarURL:    s.avatars.PublicURL(u.AvatarFile),
		Email:        u.Email,
	}
}

// abbreviationFrom derives a two-letter tag from a display name:
// initials of the first two words, or the first two letters of a
// single-word name.
func abbreviationFrom(name string) string {
	words := strings.Fields(name)

	var letters []rune
	for _, word := range words {
		for _, r := range word {
			letters = append(letters, unicode.ToUpper(r))
			break
		}
		if len(letters) == 2 {
			break
		}
	}

	if len(letters) < 2 && len(words) > 0 {
		runes := []rune(words[0])
		for i := 1; i < len(runes) && len(letters) < 2; i++ {
			letters = append(letters, unicode.ToUpper(runes[i]))
		}
	}

	switch len(letters) {
	case 0:
		return "XY"
	case 1:
		return string(letters) + "Y"
	default:
		return string(letters[:2])
	}
}
