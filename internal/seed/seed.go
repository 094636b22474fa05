// ABOUTME: Demo data seeding for fresh databases
// ABOUTME: Creates a handful of accounts and scripted conversations, once

package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/litemessenger/chat-relay/internal/chat"
	"github.com/litemessenger/chat-relay/internal/user"
)

// DemoPassword is the shared password of every seeded account.
const DemoPassword = "123456"

var demoUsers = []struct {
	name  string
	email string
}{
	{"User One", "user1@email.com"},
	{"User Two", "user2@email.com"},
	{"User Three", "user3@email.com"},
	{"User Four", "user4@email.com"},
	{"User Five", "user5@email.com"},
}

// script is a conversation between two seeded users, indexed into demoUsers.
type script struct {
	a, b  int
	lines []line
}

type line struct {
	from int
	text string
}

var demoChats = []script{
	{a: 0, b: 1, lines: []line{
		{0, "Hey, are you around?"},
		{1, "Yep, what's up?"},
		{0, "Wanted to check the demo works end to end."},
		{1, "Looks good from here."},
	}},
	{a: 0, b: 2, lines: []line{
		{2, "Welcome aboard!"},
		{0, "Thanks, happy to be here."},
	}},
	{a: 1, b: 3, lines: []line{
		{1, "Lunch tomorrow?"},
		{3, "Sure, noon works."},
		{1, "See you then."},
	}},
}

// Run populates a fresh database with demo accounts and conversations.
// A database that already has users is left untouched.
func Run(ctx context.Context, users *user.Service, chats *chat.Service, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "seed")

	count, err := users.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		logger.Debug("database already populated, skipping seed", "users", count)
		return nil
	}

	ids := make([]string, len(demoUsers))
	for i, du := range demoUsers {
		profile, err := users.Register(ctx, du.name, du.email, DemoPassword)
		if err != nil {
			return fmt.Errorf("seeding user %s: %w", du.email, err)
		}
		ids[i] = profile.ID
	}

	for _, sc := range demoChats {
		c, err := chats.EnsureChat(ctx, ids[sc.a], ids[sc.b])
		if err != nil {
			return fmt.Errorf("seeding chat: %w", err)
		}
		for _, l := range sc.lines {
			if _, err := chats.Append(ctx, c.ID, ids[l.from], l.text); err != nil {
				return fmt.Errorf("seeding message: %w", err)
			}
		}
	}

	logger.Info("seeded demo data", "users", len(demoUsers), "chats", len(demoChats))
	return nil
}
