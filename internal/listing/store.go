// Package listing tracks the vehicle ads the assistant reaches out about.
package listing

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
	"github.com/occasio/occasio/internal/phone"
)

// Contact status values for a listing.
const (
	StatusNew       = "new"
	StatusContacted = "contacted"
	StatusSold      = "sold"
)

// ErrNotFound is returned when a listing does not exist.
var ErrNotFound = errors.New("listing not found")

// Listing is one vehicle ad.
type Listing struct {
	ID              string     `json:"id"`
	Phone           string     `json:"phone"`
	Brand           string     `json:"brand"`
	Model           string     `json:"model"`
	Year            int        `json:"year,omitempty"`
	Price           float64    `json:"price,omitempty"`
	ImageURL        string     `json:"image_url,omitempty"`
	ContactStatus   string     `json:"contact_status"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Store persists listings in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a listing store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		pool:   pool,
		logger: log.With(slog.String("service", "listing")),
	}
}

const listingColumns = `id, phone, brand, model, year, price, image_url, contact_status, last_contacted_at, created_at, updated_at`

func scanListing(row pgx.Row) (Listing, error) {
	var (
		id            pgtype.UUID
		phoneCol      string
		brand         string
		model         string
		year          pgtype.Int4
		price         pgtype.Float8
		imageURL      pgtype.Text
		contactStatus string
		lastContacted pgtype.Timestamptz
		createdAt     pgtype.Timestamptz
		updatedAt     pgtype.Timestamptz
	)
	if err := row.Scan(&id, &phoneCol, &brand, &model, &year, &price, &imageURL, &contactStatus, &lastContacted, &createdAt, &updatedAt); err != nil {
		return Listing{}, err
	}
	return Listing{
		ID:              db.UUIDToString(id),
		Phone:           phoneCol,
		Brand:           brand,
		Model:           model,
		Year:            int(year.Int32),
		Price:           price.Float64,
		ImageURL:        db.TextToString(imageURL),
		ContactStatus:   contactStatus,
		LastContactedAt: db.TimePtrFromPg(lastContacted),
		CreatedAt:       db.TimeFromPg(createdAt),
		UpdatedAt:       db.TimeFromPg(updatedAt),
	}, nil
}

// Create stores a new listing. The phone number is normalized before storage
// so lookups by conversation key succeed.
func (s *Store) Create(ctx context.Context, l Listing) (Listing, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO listings (phone, brand, model, year, price, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+listingColumns,
		phone.Normalize(l.Phone), l.Brand, l.Model, l.Year, l.Price, db.ToPgText(l.ImageURL),
	)
	created, err := scanListing(row)
	if err != nil {
		return Listing{}, fmt.Errorf("create listing: %w", err)
	}
	return created, nil
}

// Get looks up a listing by id.
func (s *Store) Get(ctx context.Context, id string) (Listing, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Listing{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, pgID)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("get listing: %w", err)
	}
	return l, nil
}

// FindByPhone looks up the newest listing for a normalized phone key.
func (s *Store) FindByPhone(ctx context.Context, phoneKey string) (Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings
		WHERE phone = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		phone.Normalize(phoneKey),
	)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("find listing by phone: %w", err)
	}
	return l, nil
}

// MarkContacted records that the seller was reached, once; sold listings are
// left as they are.
func (s *Store) MarkContacted(ctx context.Context, id string, at time.Time) error {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return ErrNotFound
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE listings
		SET contact_status = $2, last_contacted_at = $3, updated_at = now()
		WHERE id = $1 AND contact_status <> $4`,
		pgID, StatusContacted, db.ToPgTime(at), StatusSold,
	)
	if err != nil {
		return fmt.Errorf("mark listing contacted: %w", err)
	}
	return nil
}

// MarkSold flags a listing as gone. Operators call this when the counterpart
// says the vehicle is no longer available.
func (s *Store) MarkSold(ctx context.Context, id string) (Listing, error) {
	pgID, err := db.ParseUUID(id)
	if err != nil {
		return Listing{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE listings SET contact_status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+listingColumns,
		pgID, StatusSold,
	)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("mark listing sold: %w", err)
	}
	return l, nil
}
