package booking

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists booking data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed booking store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bookingColumns = `id, client_id, stylist_id, service, scheduled_at,
		       price, currency, status, dispute_reason, disputed_by,
		       resolution, version, archived, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, b *Booking) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings (
			id, client_id, stylist_id, service, scheduled_at,
			price, currency, status, dispute_reason, disputed_by,
			resolution, version, archived, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(12,2), $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`,
		b.ID, b.ClientID, b.StylistID, b.Service, b.ScheduledAt,
		b.Price.String(), b.Currency, string(b.Status),
		nullString(b.DisputeReason), nullString(b.DisputedBy),
		nullString(b.Resolution), b.Version, b.Archived, b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// UpdateVersioned performs the optimistic-concurrency write: the row is
// updated only when its version column still matches expectedVersion.
func (p *PostgresStore) UpdateVersioned(ctx context.Context, b *Booking, expectedVersion int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE bookings SET
			status = $1, dispute_reason = $2, disputed_by = $3,
			resolution = $4, version = $5, updated_at = $6
		WHERE id = $7 AND version = $8`,
		string(b.Status), nullString(b.DisputeReason), nullString(b.DisputedBy),
		nullString(b.Resolution), b.Version, b.UpdatedAt,
		b.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the booking is gone or the version moved underneath us.
		if _, getErr := p.Get(ctx, b.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE NOT archived`
	args := []interface{}{}
	idx := 1

	if filter.ClientID != "" {
		query += ` AND client_id = $` + itoa(idx)
		args = append(args, filter.ClientID)
		idx++
	}
	if filter.StylistID != "" {
		query += ` AND stylist_id = $` + itoa(idx)
		args = append(args, filter.StylistID)
		idx++
	}
	if filter.Status != "" {
		query += ` AND status = $` + itoa(idx)
		args = append(args, string(filter.Status))
		idx++
	}
	if !filter.BeforeTime.IsZero() {
		query += ` AND (created_at, id) < ($` + itoa(idx) + `, $` + itoa(idx+1) + `)`
		args = append(args, filter.BeforeTime, filter.BeforeID)
		idx += 2
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + itoa(idx)
	args = append(args, filter.Limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBookings(rows)
}

func (p *PostgresStore) ListArchivable(ctx context.Context, before time.Time, limit int) ([]*Booking, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE NOT archived
		  AND status IN ('rejected', 'completed', 'cancelled')
		  AND updated_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBookings(rows)
}

func (p *PostgresStore) MarkArchived(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET archived = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// Migrate creates the bookings table if it doesn't exist. The goose
// migrations are authoritative; this keeps fresh dev databases working.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			stylist_id TEXT NOT NULL,
			service TEXT NOT NULL,
			scheduled_at TIMESTAMPTZ NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			dispute_reason TEXT,
			disputed_by TEXT,
			resolution TEXT,
			version BIGINT NOT NULL DEFAULT 1,
			archived BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_bookings_client ON bookings(client_id);
		CREATE INDEX IF NOT EXISTS idx_bookings_stylist ON bookings(stylist_id);
		CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status);
	`)
	return err
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(s scanner) (*Booking, error) {
	var b Booking
	var price string
	var disputeReason, disputedBy, resolution sql.NullString

	err := s.Scan(
		&b.ID, &b.ClientID, &b.StylistID, &b.Service, &b.ScheduledAt,
		&price, &b.Currency, &b.Status, &disputeReason, &disputedBy,
		&resolution, &b.Version, &b.Archived, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, err
	}
	b.DisputeReason = disputeReason.String
	b.DisputedBy = disputedBy.String
	b.Resolution = resolution.String
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]*Booking, error) {
	var result []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
