// ABOUTME: Tests for the account service
// ABOUTME: Covers registration, login, search exclusion, and abbreviation derivation

package user

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litemessenger/chat-relay/internal/avatars"
	"github.com/litemessenger/chat-relay/internal/store"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	tmpDir := t.TempDir()

	st, err := store.NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	av, err := avatars.New(filepath.Join(tmpDir, "avatars"))
	require.NoError(t, err)

	return New(st, av, nil)
}

func TestService_Register(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	profile, err := svc.Register(ctx, "  Alice Carter ", "Alice@Example.com", "hunter2")
	require.NoError(t, err)

	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, "Alice Carter", profile.Name)
	assert.Equal(t, "alice@example.com", profile.Email)
	assert.Equal(t, "AC", profile.Abbreviation)
	assert.Empty(t, profile.AvatarURL)
}

func TestService_Register_Validation(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "   ", "a@example.com", "pw")
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = svc.Register(ctx, "Alice", "", "pw")
	assert.ErrorIs(t, err, ErrEmailRequired)

	_, err = svc.Register(ctx, "Alice", "a@example.com", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestService_Register_DuplicateEmail(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Alice", "same@example.com", "pw")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Other Alice", "SAME@example.com", "pw2")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestService_Login(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "Alice", "alice@example.com", "hunter2")
	require.NoError(t, err)

	profile, err := svc.Login(ctx, "alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, profile.ID)

	_, err = svc.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_Search_ExcludesCaller(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	alice, err := svc.Register(ctx, "Alice Carter", "alice@example.com", "pw")
	require.NoError(t, err)
	bob, err := svc.Register(ctx, "Alice Stone", "stone@example.com", "pw")
	require.NoError(t, err)

	results, err := svc.Search(ctx, alice.ID, "Alice")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, bob.ID, results[0].ID)
}

func TestService_Search_BlankTerm(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	results, err := svc.Search(ctx, "caller", "   ")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestService_UpdateAvatar(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	profile, err := svc.Register(ctx, "Alice", "alice@example.com", "pw")
	require.NoError(t, err)

	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	updated, err := svc.UpdateAvatar(ctx, profile.ID, png)
	require.NoError(t, err)
	assert.Contains(t, updated.AvatarURL, "/avatars/")
}

func TestAbbreviationFrom(t *testing.T) {
	assert.Equal(t, "AC", abbreviationFrom("Alice Carter"))
	assert.Equal(t, "AL", abbreviationFrom("alice"))
	assert.Equal(t, "AB", abbreviationFrom("Alice Bob Carter"))
	assert.Equal(t, "XY", abbreviationFrom(""))
}
