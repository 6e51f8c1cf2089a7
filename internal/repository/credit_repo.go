package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/models"
)

const entryColumns = `id, seq, reference, wallet_id, entry_type, category, amount, balance_after, description, external_reference, task_id, created_at`

// WalletLedgerRepo appends to wallet_ledger_entries. Entries are never
// updated or deleted; the table triggers reject both.
type WalletLedgerRepo struct {
	pool *pgxpool.Pool
}

func NewWalletLedgerRepo(pool *pgxpool.Pool) *WalletLedgerRepo {
	return &WalletLedgerRepo{pool: pool}
}

func scanEntry(row pgx.Row) (*models.WalletLedgerEntry, error) {
	var e models.WalletLedgerEntry
	err := row.Scan(&e.ID, &e.Seq, &e.Reference, &e.WalletID, &e.EntryType, &e.Category, &e.Amount, &e.BalanceAfter,
		&e.Description, &e.ExternalReference, &e.TaskID, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *WalletLedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.WalletLedgerEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO wallet_ledger_entries (id, reference, wallet_id, entry_type, category, amount, balance_after, description, external_reference, task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq, created_at
	`, e.ID, e.Reference, e.WalletID, e.EntryType, e.Category, e.Amount, e.BalanceAfter, e.Description, e.ExternalReference, e.TaskID).
		Scan(&e.Seq, &e.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return ErrAlreadyExists
	}
	return err
}

// ListByWallet returns entries newest first. beforeSeq of 0 starts at the head.
func (r *WalletLedgerRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit int, beforeSeq int64) ([]*models.WalletLedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_ledger_entries
		WHERE wallet_id = $1 AND ($2::bigint = 0 OR seq < $2)
		ORDER BY seq DESC
		LIMIT $3
	`, walletID, beforeSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WalletLedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// LastForWallet returns the most recent entry, or ErrNotFound for a wallet
// with no history.
func (r *WalletLedgerRepo) LastForWallet(ctx context.Context, walletID uuid.UUID) (*models.WalletLedgerEntry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM wallet_ledger_entries WHERE wallet_id = $1 ORDER BY seq DESC LIMIT 1
	`, walletID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// SumForWallet returns the algebraic sum of all entries and their count.
func (r *WalletLedgerRepo) SumForWallet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, int64, error) {
	var sum decimal.Decimal
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'debit' THEN -amount ELSE amount END), 0), COUNT(*)
		FROM wallet_ledger_entries WHERE wallet_id = $1
	`, walletID).Scan(&sum, &n)
	return sum, n, err
}
