// Package offer records detected price offers for operator review.
package offer

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

// Status values for a recorded offer.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// ErrNotFound is returned when an offer does not exist.
var ErrNotFound = errors.New("offer not found")

// Offer is one detected price offer.
type Offer struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	OfferedPrice   float64   `json:"offered_price"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists price offers in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an offer store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "offer")),
	}
}

const offerColumns = `id, conversation_id, message_id, offered_price, offer_currency, status, notes, created_at, updated_at`

func scanOffer(row pgx.Row) (Offer, error) {
	var (
		id        pgtype.UUID
		convID    pgtype.UUID
		msgID     pgtype.UUID
		price     float64
		currency  string
		status    string
		notes     pgtype.Text
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &convID, &msgID, &price, &currency, &status, &notes, &createdAt, &updatedAt); err != nil {
		return Offer{}, err
	}
	return Offer{
		ID:             db.UUIDToString(id),
		ConversationID: db.UUIDToString(convID),
		MessageID:      db.UUIDToString(msgID),
		OfferedPrice:   price,
		Currency:       currency,
		Status:         status,
		Notes:          notes.String,
		CreatedAt:      db.TimeFromPg(createdAt),
		UpdatedAt:      db.TimeFromPg(updatedAt),
	}, nil
}

// Create records a new offer in pending status.
func (s *Store) Create(ctx context.Context, conversationID, messageID string, price float64, currency, notes string) (Offer, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return Offer{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	pgMsgID, err := db.ParseOptionalUUID(messageID)
	if err != nil {
		return Offer{}, fmt.Errorf("invalid message id: %w", err)
	}
	if currency == "" {
		currency = "EUR"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO price_offers (conversation_id, message_id, offered_price, offer_currency, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+offerColumns,
		pgConvID, pgMsgID, price, currency, db.ToPgText(notes),
	)
	created, err := scanOffer(row)
	if err != nil {
		return Offer{}, fmt.Errorf("create offer: %w", err)
	}
	return created, nil
}

// ListByConversation returns a conversation's offers, newest first.
func (s *Store) ListByConversation(ctx context.Context, conversationID string) ([]Offer, error) {
	pgConvID, err := db.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+offerColumns+` FROM price_offers
		WHERE conversation_id = $1
		ORDER BY created_at DESC`,
		pgConvID,
	)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var offers []Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	return offers, nil
}

// UpdateStatus moves an offer between pending, accepted, and rejected.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) (Offer, error) {
	switch status {
	case StatusPending, StatusAccepted, StatusRejected:
	default:
		return Offer{}, fmt.Errorf("invalid offer status: %s", status)
	}
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Offer{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE price_offers SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+offerColumns,
		pgID, status,
	)
	updated, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Offer{}, ErrNotFound
		}
		return Offer{}, fmt.Errorf("update offer status: %w", err)
	}
	return updated, nil
}
