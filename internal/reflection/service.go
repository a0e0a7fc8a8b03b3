// Package reflection turns a user's latest entries into a short AI-written
// reflection.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"journal/api/internal/journal"
	"journal/api/internal/metrics"
	"journal/api/internal/store"
)

const (
	SystemPrompt  = "You are an AI that writes warm, thoughtful reflections based on a user's recent diary entries."
	NoEntriesText = "No diary entries found."
	NoReplyText   = "No AI response."
	RecentLimit   = 5
)

var (
	ErrRateLimited   = errors.New("reflection rate limit exceeded")
	ErrProvider      = errors.New("reflection provider failed")
	ErrNotConfigured = errors.New("reflection provider is not configured")
)

type EntrySource interface {
	RecentEntries(ctx context.Context, userID string, limit int) ([]store.Entry, error)
}

type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type Limiter interface {
	Allow(key string) bool
}

type Service struct {
	entries EntrySource
	gen     Generator
	limiter Limiter
	logger  *slog.Logger
}

// NewService wires the reflection flow. gen may be nil, in which case
// Reflect fails with ErrNotConfigured once entries exist; limiter may be nil.
func NewService(entries EntrySource, gen Generator, limiter Limiter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{entries: entries, gen: gen, limiter: limiter, logger: logger}
}

// Reflect returns the provider's reply for the user's five most recent
// entries, newest first, joined by blank lines.
func (s *Service) Reflect(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", journal.ErrNotAuthenticated
	}
	if s.limiter != nil && !s.limiter.Allow(userID) {
		metrics.Reflections.WithLabelValues("rate_limited").Inc()
		return "", ErrRateLimited
	}

	entries, err := s.entries.RecentEntries(ctx, userID, RecentLimit)
	if err != nil {
		return "", err
	}
	text := joinContent(entries)
	if strings.TrimSpace(text) == "" {
		metrics.Reflections.WithLabelValues("empty").Inc()
		return NoEntriesText, nil
	}

	if s.gen == nil {
		return "", ErrNotConfigured
	}

	reply, err := s.gen.Generate(ctx, SystemPrompt, text)
	if errors.Is(err, ErrNoChoices) {
		metrics.Reflections.WithLabelValues("ok").Inc()
		return NoReplyText, nil
	}
	if err != nil {
		metrics.Reflections.WithLabelValues("provider_error").Inc()
		s.logger.Error("reflection provider failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrProvider, err)
	}
	metrics.Reflections.WithLabelValues("ok").Inc()
	return reply, nil
}

func joinContent(entries []store.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		parts = append(parts, entry.Content)
	}
	return strings.Join(parts, "\n\n")
}
