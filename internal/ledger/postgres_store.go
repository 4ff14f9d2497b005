package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore is a Postgres-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `id, party_id, type, amount, currency, status, booking_id, reference, provider_ref, description, created_at`

func (s *PostgresStore) Append(ctx context.Context, tx *Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4::NUMERIC(12,2), $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.PartyID, string(tx.Type), tx.Amount.StringFixed(2), tx.Currency,
		string(tx.Status), nullString(tx.BookingID), tx.Reference,
		nullString(tx.ProviderRef), nullString(tx.Description), tx.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+txColumns+` FROM wallet_transactions WHERE reference = $1`, reference)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	return tx, err
}

func (s *PostgresStore) AdvanceStatus(ctx context.Context, id string, to TxStatus, providerRef string) error {
	// The status list in the WHERE clause restates the allowed progression
	// so concurrent advancers cannot both win.
	var froms []string
	for from, tos := range statusSuccessors {
		for _, t := range tos {
			if t == to {
				froms = append(froms, string(from))
			}
		}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE wallet_transactions
		SET status = $1, provider_ref = COALESCE(NULLIF($4, ''), provider_ref)
		WHERE id = $2 AND status = ANY($3)`,
		string(to), id, pq.Array(froms), providerRef,
	)
	if err != nil {
		return fmt.Errorf("advance transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM wallet_transactions WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		if TxStatus(current) == to {
			return nil
		}
		return ErrInvalidStatusChange
	}
	return nil
}

func (s *PostgresStore) ListByBooking(ctx context.Context, bookingID string) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM wallet_transactions
		WHERE booking_id = $1 ORDER BY created_at ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (s *PostgresStore) ListByParty(ctx context.Context, partyID string, limit int) ([]*Transaction, error) {
	q := `SELECT ` + txColumns + ` FROM wallet_transactions
		WHERE party_id = $1 ORDER BY created_at DESC`
	args := []any{partyID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// Migrate creates the wallet_transactions table. Production deployments run
// the goose migrations instead.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallet_transactions (
			id           TEXT PRIMARY KEY,
			party_id     TEXT NOT NULL,
			type         TEXT NOT NULL,
			amount       NUMERIC(12,2) NOT NULL,
			currency     TEXT NOT NULL,
			status       TEXT NOT NULL,
			booking_id   TEXT,
			reference    TEXT NOT NULL UNIQUE,
			provider_ref TEXT,
			description  TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_wallet_tx_party ON wallet_transactions(party_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_wallet_tx_booking ON wallet_transactions(booking_id);
	`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var tx Transaction
	var typ, status string
	var amount string
	var bookingID, providerRef, description sql.NullString
	err := row.Scan(&tx.ID, &tx.PartyID, &typ, &amount, &tx.Currency,
		&status, &bookingID, &tx.Reference, &providerRef, &description, &tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tx.Type = Type(typ)
	tx.Status = TxStatus(status)
	tx.BookingID = bookingID.String
	tx.ProviderRef = providerRef.String
	tx.Description = description.String
	return &tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
