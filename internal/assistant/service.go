package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/occasio/occasio/internal/db"
)

// Service owns the assistant settings: one active row in the database,
// cached in memory for the ingestion path. Reload and Update are the only
// ways the cache changes.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings
	matcher *Matcher
}

// NewService creates a settings service seeded with defaults. Call Load to
// pick up the stored configuration.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	defaults := DefaultSettings()
	return &Service{
		pool:    pool,
		logger:  log.With(slog.String("service", "assistant")),
		current: defaults,
		matcher: NewMatcher(defaults.UnavailabilityKeywords),
	}
}

// Current returns the cached settings.
func (s *Service) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// UnavailabilityMatcher returns the matcher compiled from the cached
// keywords.
func (s *Service) UnavailabilityMatcher() *Matcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matcher
}

const settingsColumns = `id, enabled, respond_to_all, system_prompt, keywords, unavailability_keywords,
	pause_bot_on_price_offer, typing_min_delay_ms, typing_max_delay_ms, typing_words_per_minute,
	typing_jitter, max_history, updated_at`

func scanSettings(row pgx.Row) (Settings, error) {
	var (
		id        pgtype.UUID
		out       Settings
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &out.Enabled, &out.RespondToAll, &out.SystemPrompt,
		&out.Keywords, &out.UnavailabilityKeywords,
		&out.PauseBotOnPriceOffer,
		&out.Typing.MinDelayMs, &out.Typing.MaxDelayMs, &out.Typing.WordsPerMinute,
		&out.Typing.Jitter, &out.MaxHistory, &updatedAt,
	)
	if err != nil {
		return Settings{}, err
	}
	out.ID = db.UUIDToString(id)
	out.UpdatedAt = db.TimeFromPg(updatedAt)
	return out, nil
}

// Load reads the active settings row into the cache. Without a stored row
// the defaults stay in place.
func (s *Service) Load(ctx context.Context) (Settings, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settingsColumns+` FROM assistant_config WHERE active ORDER BY created_at DESC LIMIT 1`,
	)
	loaded, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Info("no stored assistant settings, using defaults")
			return s.Current(), nil
		}
		return Settings{}, fmt.Errorf("load assistant settings: %w", err)
	}
	s.swap(loaded)
	s.logger.Info("assistant settings loaded",
		slog.Bool("enabled", loaded.Enabled),
		slog.Bool("respond_to_all", loaded.RespondToAll),
		slog.Int("keywords", len(loaded.Keywords)))
	return loaded, nil
}

// Update persists new settings and refreshes the cache. The previous active
// row is deactivated and kept for history.
func (s *Service) Update(ctx context.Context, next Settings) (Settings, error) {
	next = normalize(next)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("update assistant settings: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE assistant_config SET active = FALSE, updated_at = now() WHERE active`); err != nil {
		return Settings{}, fmt.Errorf("deactivate assistant settings: %w", err)
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO assistant_config (
			enabled, respond_to_all, system_prompt, keywords, unavailability_keywords,
			pause_bot_on_price_offer, typing_min_delay_ms, typing_max_delay_ms,
			typing_words_per_minute, typing_jitter, max_history, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
		RETURNING `+settingsColumns,
		next.Enabled, next.RespondToAll, next.SystemPrompt, next.Keywords, next.UnavailabilityKeywords,
		next.PauseBotOnPriceOffer, next.Typing.MinDelayMs, next.Typing.MaxDelayMs,
		next.Typing.WordsPerMinute, next.Typing.Jitter, next.MaxHistory,
	)
	stored, err := scanSettings(row)
	if err != nil {
		return Settings{}, fmt.Errorf("insert assistant settings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Settings{}, fmt.Errorf("commit assistant settings: %w", err)
	}

	s.swap(stored)
	s.logger.Info("assistant settings updated", slog.String("id", stored.ID))
	return stored, nil
}

func (s *Service) swap(next Settings) {
	matcher := NewMatcher(next.UnavailabilityKeywords)
	s.mu.Lock()
	s.current = next
	s.matcher = matcher
	s.mu.Unlock()
}

func normalize(in Settings) Settings {
	if in.Typing.MinDelayMs <= 0 {
		in.Typing.MinDelayMs = DefaultMinDelayMs
	}
	if in.Typing.MaxDelayMs < in.Typing.MinDelayMs {
		in.Typing.MaxDelayMs = DefaultMaxDelayMs
	}
	if in.Typing.MaxDelayMs < in.Typing.MinDelayMs {
		in.Typing.MaxDelayMs = in.Typing.MinDelayMs
	}
	if in.Typing.WordsPerMinute <= 0 {
		in.Typing.WordsPerMinute = DefaultWordsPerMinute
	}
	if in.MaxHistory <= 0 {
		in.MaxHistory = DefaultMaxHistory
	}
	if in.Keywords == nil {
		in.Keywords = []string{}
	}
	if in.UnavailabilityKeywords == nil {
		in.UnavailabilityKeywords = []string{}
	}
	return in
}
