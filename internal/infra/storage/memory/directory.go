package memory

import (
	"context"
	"strings"
	"sync"

	"jobchat/internal/domain/chat"
)

// Directory serves profiles and session tokens from memory.
type Directory struct {
	mu       sync.RWMutex
	profiles map[chat.UserID]chat.Profile
	tokens   map[string]chat.UserID
}

// NewDirectory builds a directory holding profiles.
func NewDirectory(profiles ...chat.Profile) *Directory {
	d := &Directory{
		profiles: make(map[chat.UserID]chat.Profile),
		tokens:   make(map[string]chat.UserID),
	}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

// AddProfile stores or replaces a profile.
func (d *Directory) AddProfile(p chat.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

// IssueToken binds a bearer token to user.
func (d *Directory) IssueToken(token string, user chat.UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[token] = user
}

// LoadTokens parses "token=user,token=user" pairs.
func (d *Directory) LoadTokens(raw string) {
	for _, pair := range strings.Split(raw, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || user == "" {
			continue
		}
		d.IssueToken(token, chat.UserID(user))
	}
}

func (d *Directory) Profiles(ctx context.Context, ids []chat.UserID) (map[chat.UserID]chat.Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[chat.UserID]chat.Profile, len(ids))
	for _, id := range ids {
		if p, ok := d.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (d *Directory) CurrentUser(ctx context.Context, token string) (chat.UserID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	user, ok := d.tokens[strings.TrimSpace(token)]
	if !ok {
		return "", chat.ErrUnauthenticated
	}
	return user, nil
}
