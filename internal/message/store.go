package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/occasio/occasio/internal/db"
)

// Store persists messages in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a message store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "message")),
	}
}

const messageColumns = `id, conversation_id, body, is_from_me, external_message_id, user_id, "timestamp", created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var (
		id         pgtype.UUID
		convID     pgtype.UUID
		body       string
		isFromMe   bool
		externalID pgtype.Text
		userID     pgtype.Text
		ts         pgtype.Timestamptz
		createdAt  pgtype.Timestamptz
	)
	if err := row.Scan(&id, &convID, &body, &isFromMe, &externalID, &userID, &ts, &createdAt); err != nil {
		return Message{}, err
	}
	return Message{
		ID:                db.UUIDToString(id),
		ConversationID:    db.UUIDToString(convID),
		Body:              body,
		IsFromMe:          isFromMe,
		ExternalMessageID: db.TextToString(externalID),
		UserID:            db.TextToString(userID),
		Timestamp:         db.TimeFromPg(ts),
		CreatedAt:         db.TimeFromPg(createdAt),
	}, nil
}

// FindDuplicate looks for an already stored copy of an incoming message.
// A matching external id in the same conversation is an exact duplicate;
// otherwise the same body and direction within the duplicate window counts.
func (s *Store) FindDuplicate(ctx context.Context, conversationID, body string, isFromMe bool, externalID string, ts time.Time) (Message, bool, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Message{}, false, fmt.Errorf("invalid conversation id: %w", err)
	}

	if externalID != "" {
		row := s.pool.QueryRow(ctx,
			`SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND external_message_id = $2`,
			pgConvID, externalID,
		)
		msg, err := scanMessage(row)
		if err == nil {
			return msg, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Message{}, false, fmt.Errorf("find duplicate by external id: %w", err)
		}
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 AND body = $2 AND is_from_me = $3
			AND "timestamp" BETWEEN $4 AND $5
		ORDER BY "timestamp"
		LIMIT 1`,
		pgConvID, body, isFromMe,
		db.ToPgTime(ts.Add(-DuplicateWindow)), db.ToPgTime(ts.Add(DuplicateWindow)),
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("find duplicate in window: %w", err)
	}
	return msg, true, nil
}

// Insert stores a message. The partial unique index on external ids backstops
// the duplicate check; a collision surfaces as ErrDuplicate.
func (s *Store) Insert(ctx context.Context, msg Message) (Message, error) {
	pgConvID, err := db.ParseUUID(msg.ConversationID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, body, is_from_me, external_message_id, user_id, "timestamp")
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageColumns,
		pgConvID, msg.Body, msg.IsFromMe, db.ToPgText(msg.ExternalMessageID), db.ToPgText(msg.UserID), db.ToPgTime(ts),
	)
	stored, err := scanMessage(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Message{}, ErrDuplicate
		}
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

// ListByConversation returns all messages of a conversation in chronological
// order.
func (s *Store) ListByConversation(ctx context.Context, conversationID string) ([]Message, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1
		ORDER BY "timestamp", created_at`,
		pgConvID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ListRecent returns the newest limit messages of a conversation in
// chronological order, for assistant history.
func (s *Store) ListRecent(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	if limit <= 0 {
		limit = 15
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1
			ORDER BY "timestamp" DESC, created_at DESC
			LIMIT $2
		) recent
		ORDER BY "timestamp", created_at`,
		pgConvID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return msgs, nil
}

// SweepDuplicates deletes stored duplicates: messages with the same
// conversation, body, and direction whose timestamp follows another copy
// within the duplicate window. The earliest copy of each group survives.
// Dependent price offer rows keep their data; their message link is nulled
// by the foreign key action.
func (s *Store) SweepDuplicates(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM messages WHERE id IN (
			SELECT id FROM (
				SELECT id,
					"timestamp" - lag("timestamp") OVER (
						PARTITION BY conversation_id, body, is_from_me
						ORDER BY "timestamp", created_at, id
					) AS gap
				FROM messages
			) spaced
			WHERE gap IS NOT NULL AND gap <= $1::interval
		)`,
		fmt.Sprintf("%d seconds", int(DuplicateWindow.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep duplicates: %w", err)
	}
	removed := tag.RowsAffected()
	if removed > 0 {
		s.logger.Info("removed duplicate messages", slog.Int64("count", removed))
	}
	return removed, nil
}
