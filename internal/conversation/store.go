package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/occasio/occasio/internal/db"
)

// Store persists conversations in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "conversation")),
	}
}

const conversationColumns = `id, phone_key, chat_id, listing_id, user_id, state, state_change_reason,
	is_demo, detected_price, price_detected_at, price_detected_message_id,
	last_message_at, last_state_change, created_at, updated_at`

type conversationRow struct {
	ID                     pgtype.UUID
	PhoneKey               string
	ChatID                 string
	ListingID              pgtype.UUID
	UserID                 pgtype.Text
	State                  string
	StateChangeReason      pgtype.Text
	IsDemo                 bool
	DetectedPrice          pgtype.Float8
	PriceDetectedAt        pgtype.Timestamptz
	PriceDetectedMessageID pgtype.UUID
	LastMessageAt          pgtype.Timestamptz
	LastStateChange        pgtype.Timestamptz
	CreatedAt              pgtype.Timestamptz
	UpdatedAt              pgtype.Timestamptz
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var r conversationRow
	err := row.Scan(
		&r.ID, &r.PhoneKey, &r.ChatID, &r.ListingID, &r.UserID, &r.State, &r.StateChangeReason,
		&r.IsDemo, &r.DetectedPrice, &r.PriceDetectedAt, &r.PriceDetectedMessageID,
		&r.LastMessageAt, &r.LastStateChange, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return Conversation{}, err
	}
	return toConversation(r), nil
}

func toConversation(r conversationRow) Conversation {
	c := Conversation{
		ID:                     db.UUIDToString(r.ID),
		PhoneKey:               r.PhoneKey,
		ChatID:                 r.ChatID,
		ListingID:              db.UUIDToString(r.ListingID),
		UserID:                 db.TextToString(r.UserID),
		State:                  State(r.State),
		StateChangeReason:      db.TextToString(r.StateChangeReason),
		IsDemo:                 r.IsDemo,
		PriceDetectedMessageID: db.UUIDToString(r.PriceDetectedMessageID),
		LastMessageAt:          db.TimePtrFromPg(r.LastMessageAt),
		LastStateChange:        db.TimePtrFromPg(r.LastStateChange),
		CreatedAt:              db.TimeFromPg(r.CreatedAt),
		UpdatedAt:              db.TimeFromPg(r.UpdatedAt),
	}
	if r.DetectedPrice.Valid {
		price := r.DetectedPrice.Float64
		c.DetectedPrice = &price
	}
	c.PriceDetectedAt = db.TimePtrFromPg(r.PriceDetectedAt)
	return c
}

// FindOrCreateByPhone returns the conversation for a phone key, creating it
// when missing. Concurrent creates for the same key are resolved through the
// unique index: the loser re-reads the winner's row.
func (s *Store) FindOrCreateByPhone(ctx context.Context, phoneKey, chatID, listingID string, isDemo bool) (Conversation, bool, error) {
	conv, err := s.findByPhone(ctx, phoneKey)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, false, err
	}

	pgListingID, err := db.ParseOptionalUUID(listingID)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("invalid listing id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (phone_key, chat_id, listing_id, is_demo, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+conversationColumns,
		phoneKey, chatID, pgListingID, isDemo, string(StateActive),
	)
	conv, err = scanConversation(row)
	if err == nil {
		return conv, true, nil
	}
	if db.IsUniqueViolation(err) {
		conv, err = s.findByPhone(ctx, phoneKey)
		if err != nil {
			return Conversation{}, false, fmt.Errorf("re-read after create race: %w", err)
		}
		return conv, false, nil
	}
	return Conversation{}, false, fmt.Errorf("create conversation: %w", err)
}

func (s *Store) findByPhone(ctx context.Context, phoneKey string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE phone_key = $1`,
		phoneKey,
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("find conversation: %w", err)
	}
	return conv, nil
}

// Get looks up a conversation by id.
func (s *Store) Get(ctx context.Context, id string) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`,
		pgID,
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// List returns one page of conversations ordered by recent activity, each
// with its newest message preview, plus the total count.
func (s *Store) List(ctx context.Context, page, limit int) ([]ListItem, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conversations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+prefixColumns("c", conversationColumns)+`,
			m.body, m.is_from_me, m."timestamp"
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT body, is_from_me, "timestamp"
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY "timestamp" DESC
			LIMIT 1
		) m ON TRUE
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var r conversationRow
		var body pgtype.Text
		var isFromMe pgtype.Bool
		var ts pgtype.Timestamptz
		err := rows.Scan(
			&r.ID, &r.PhoneKey, &r.ChatID, &r.ListingID, &r.UserID, &r.State, &r.StateChangeReason,
			&r.IsDemo, &r.DetectedPrice, &r.PriceDetectedAt, &r.PriceDetectedMessageID,
			&r.LastMessageAt, &r.LastStateChange, &r.CreatedAt, &r.UpdatedAt,
			&body, &isFromMe, &ts,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		item := ListItem{Conversation: toConversation(r)}
		if body.Valid {
			item.LastMessage = &LastMessage{
				Body:      body.String,
				IsFromMe:  isFromMe.Bool,
				Timestamp: db.TimeFromPg(ts),
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	return items, total, nil
}

// PriceMark carries the detected price columns that must change together.
type PriceMark struct {
	Price     float64
	MessageID string
	At        time.Time
}

// Transition moves a conversation from one state to another with optimistic
// concurrency: the update only applies while the row is still in the expected
// state. On a lost race it re-reads once and retries from the observed state;
// a second loss returns ErrStateConflict.
//
// When mark is non-nil the detected price columns are set with the state;
// when clearPrice is true they are nulled. Both keep the columns consistent
// as a unit.
func (s *Store) Transition(ctx context.Context, id string, from, to State, reason string, mark *PriceMark, clearPrice bool) (Conversation, error) {
	if !to.Valid() {
		return Conversation{}, ErrInvalidState
	}

	conv, err := s.transitionOnce(ctx, id, from, to, reason, mark, clearPrice)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrStateConflict) {
		return Conversation{}, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if current.State == to {
		return current, nil
	}
	conv, err = s.transitionOnce(ctx, id, current.State, to, reason, mark, clearPrice)
	if err != nil {
		if errors.Is(err, ErrStateConflict) {
			s.logger.Warn("state transition lost race twice",
				slog.String("conversation_id", id),
				slog.String("to", string(to)))
		}
		return Conversation{}, err
	}
	return conv, nil
}

func (s *Store) transitionOnce(ctx context.Context, id string, from, to State, reason string, mark *PriceMark, clearPrice bool) (Conversation, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, ErrNotFound
	}

	var row pgx.Row
	switch {
	case mark != nil:
		pgMsgID, err := db.ParseOptionalUUID(mark.MessageID)
		if err != nil {
			return Conversation{}, fmt.Errorf("invalid message id: %w", err)
		}
		row = s.pool.QueryRow(ctx, `
			UPDATE conversations
			SET state = $3, state_change_reason = $4,
				detected_price = $5, price_detected_at = $6, price_detected_message_id = $7,
				last_state_change = now(), updated_at = now()
			WHERE id = $1 AND state = $2
			RETURNING `+conversationColumns,
			pgID, string(from), string(to), db.ToPgText(reason),
			mark.Price, db.ToPgTime(mark.At), pgMsgID,
		)
	case clearPrice:
		row = s.pool.QueryRow(ctx, `
			UPDATE conversations
			SET state = $3, state_change_reason = $4,
				detected_price = NULL, price_detected_at = NULL, price_detected_message_id = NULL,
				last_state_change = now(), updated_at = now()
			WHERE id = $1 AND state = $2
			RETURNING `+conversationColumns,
			pgID, string(from), string(to), db.ToPgText(reason),
		)
	default:
		row = s.pool.QueryRow(ctx, `
			UPDATE conversations
			SET state = $3, state_change_reason = $4,
				last_state_change = now(), updated_at = now()
			WHERE id = $1 AND state = $2
			RETURNING `+conversationColumns,
			pgID, string(from), string(to), db.ToPgText(reason),
		)
	}

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrStateConflict
		}
		return Conversation{}, fmt.Errorf("update conversation state: %w", err)
	}
	return conv, nil
}

// SetLastMessageAt bumps the activity timestamp.
func (s *Store) SetLastMessageAt(ctx context.Context, id string, at time.Time) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET last_message_at = $2, updated_at = now() WHERE id = $1`,
		pgID, db.ToPgTime(at),
	)
	if err != nil {
		return fmt.Errorf("set last message at: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetListing links a conversation to a listing.
func (s *Store) SetListing(ctx context.Context, id, listingID string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	pgListingID, err := db.ParseUUID(listingID)
	if err != nil {
		return fmt.Errorf("invalid listing id: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE conversations SET listing_id = $2, updated_at = now() WHERE id = $1`,
		pgID, pgListingID,
	)
	if err != nil {
		return fmt.Errorf("set listing: %w", err)
	}
	return nil
}

// Delete removes a conversation; messages and offers cascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// prefixColumns qualifies a comma separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
