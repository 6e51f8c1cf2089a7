package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/models"
)

const floatColumns = `id, seq, reference, direction, amount, currency, source, destination, purpose, status, balance, created_at`

// Repository persists float_ledger_entries. Rows are insert-only; the
// table's triggers reject UPDATE, DELETE and TRUNCATE.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanFloat(row pgx.Row) (*models.FloatEntry, error) {
	var e models.FloatEntry
	err := row.Scan(&e.ID, &e.Seq, &e.Reference, &e.Direction, &e.Amount, &e.Currency, &e.Source, &e.Destination,
		&e.Purpose, &e.Status, &e.Balance, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// LockCurrency serializes appends to one currency's float ledger until the
// transaction ends. It also covers the empty ledger, where there is no last
// row to lock.
func (r *Repository) LockCurrency(ctx context.Context, tx pgx.Tx, currency string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('float_ledger:' || $1))`, currency)
	return err
}

// LastBalance returns the running balance of the latest entry, zero when
// the ledger is empty. Call after LockCurrency.
func (r *Repository) LastBalance(ctx context.Context, tx pgx.Tx, currency string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT balance FROM float_ledger_entries
		WHERE currency = $1
		ORDER BY seq DESC
		LIMIT 1
	`, currency).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	return balance, err
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e *models.FloatEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO float_ledger_entries (id, reference, direction, amount, currency, source, destination, purpose, status, balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq, created_at
	`, e.ID, e.Reference, e.Direction, e.Amount, e.Currency, e.Source, e.Destination, e.Purpose, e.Status, e.Balance).
		Scan(&e.Seq, &e.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return ErrDuplicateReference
	}
	return err
}

// List returns entries newest first. beforeSeq of 0 starts at the head.
func (r *Repository) List(ctx context.Context, currency string, limit int, beforeSeq int64) ([]*models.FloatEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+floatColumns+`
		FROM float_ledger_entries
		WHERE currency = $1 AND ($2::bigint = 0 OR seq < $2)
		ORDER BY seq DESC
		LIMIT $3
	`, currency, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.FloatEntry
	for rows.Next() {
		e, err := scanFloat(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// Replay streams every entry for currency oldest first.
func (r *Repository) Replay(ctx context.Context, currency string, fn func(*models.FloatEntry) error) error {
	rows, err := r.pool.Query(ctx, `
		SELECT `+floatColumns+`
		FROM float_ledger_entries WHERE currency = $1 ORDER BY seq ASC
	`, currency)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanFloat(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}
