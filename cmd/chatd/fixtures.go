package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"jobchat/internal/domain/chat"
)

type fixtureSink struct {
	saveJob     func(ctx context.Context, job chat.Job) error
	saveProfile func(ctx context.Context, p chat.Profile) error
	issueToken  func(ctx context.Context, token string, user chat.UserID) error
}

type chatFixtures struct {
	Profiles []profileFixture `json:"profiles"`
	Jobs     []jobFixture     `json:"jobs"`
}

type profileFixture struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Support     bool   `json:"support"`
	Token       string `json:"token"`
}

type jobFixture struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	SeekerID   string     `json:"seeker_id"`
	ProviderID string     `json:"provider_id"`
	Status     string     `json:"status"`
	Schedule   string     `json:"schedule"`
	Address    string     `json:"address"`
	Budget     string     `json:"budget"`
	Notes      string     `json:"notes"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// loadFixtures seeds profiles, tokens and jobs from a JSON file. A
// missing file is not an error.
func loadFixtures(ctx context.Context, path string, sink fixtureSink, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("chat fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	var fx chatFixtures
	if err := json.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for _, p := range fx.Profiles {
		if err := sink.saveProfile(ctx, chat.Profile{ID: chat.UserID(p.ID), DisplayName: p.DisplayName, Support: p.Support}); err != nil {
			return fmt.Errorf("profile %s: %w", p.ID, err)
		}
		if p.Token != "" {
			if err := sink.issueToken(ctx, p.Token, chat.UserID(p.ID)); err != nil {
				return fmt.Errorf("token for %s: %w", p.ID, err)
			}
		}
	}
	now := time.Now().UTC()
	for _, j := range fx.Jobs {
		status := j.Status
		if status == "" {
			status = chat.StatusOpen
		}
		job := chat.Job{
			ID:         chat.ConversationID(j.ID),
			Title:      j.Title,
			SeekerID:   chat.UserID(j.SeekerID),
			ProviderID: chat.UserID(j.ProviderID),
			Status:     status,
			Schedule:   j.Schedule,
			Address:    j.Address,
			Budget:     j.Budget,
			Notes:      j.Notes,
			ExpiresAt:  j.ExpiresAt,
			UpdatedAt:  now,
		}
		if err := sink.saveJob(ctx, job); err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
	}
	logger.Info("chat fixtures loaded", "profiles", len(fx.Profiles), "jobs", len(fx.Jobs))
	return nil
}

// loadDevTokens binds tokens given as "token=user,token=user".
func loadDevTokens(ctx context.Context, raw string, sink fixtureSink) error {
	for _, pair := range strings.Split(raw, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || token == "" || user == "" {
			continue
		}
		if err := sink.issueToken(ctx, strings.TrimSpace(token), chat.UserID(strings.TrimSpace(user))); err != nil {
			return err
		}
	}
	return nil
}
