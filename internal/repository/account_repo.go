package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/models"
)

const walletColumns = `id, user_id, balance, currency, status, created_at, updated_at`

// WalletRepo stores wallet_accounts. Every balance change must be paired
// with a WalletLedgerRepo.CreateTx in the same transaction.
type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

func scanWallet(row pgx.Row) (*models.WalletAccount, error) {
	var w models.WalletAccount
	err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// EnsureUserWallet returns the id of the user's wallet, creating it with a
// zero balance when it does not exist yet.
func (r *WalletRepo) EnsureUserWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (uuid.UUID, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_accounts (id, user_id, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, currency) WHERE user_id IS NOT NULL DO NOTHING
	`, uuid.New(), userID, currency)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure user wallet: %w", err)
	}
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM wallet_accounts WHERE user_id = $1 AND currency = $2
	`, userID, currency).Scan(&id)
	return id, notFound(err)
}

// EnsurePlatformWallet is the first-or-create of the platform wallet for currency.
func (r *WalletRepo) EnsurePlatformWallet(ctx context.Context, tx pgx.Tx, currency string) (uuid.UUID, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_accounts (id, user_id, currency)
		VALUES ($1, NULL, $2)
		ON CONFLICT (currency) WHERE user_id IS NULL DO NOTHING
	`, uuid.New(), currency)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure platform wallet: %w", err)
	}
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM wallet_accounts WHERE user_id IS NULL AND currency = $1
	`, currency).Scan(&id)
	return id, notFound(err)
}

// GetByIDForUpdate locks the wallet row for update. Call within a transaction.
func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WalletAccount, error) {
	return scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallet_accounts WHERE id = $1 FOR UPDATE
	`, id))
}

// GetByUserForUpdate locks the user's wallet. Returns ErrNotFound when the
// user has no wallet in currency.
func (r *WalletRepo) GetByUserForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*models.WalletAccount, error) {
	return scanWallet(tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallet_accounts WHERE user_id = $1 AND currency = $2 FOR UPDATE
	`, userID, currency))
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WalletAccount, error) {
	return scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallet_accounts WHERE id = $1
	`, id))
}

func (r *WalletRepo) GetByUser(ctx context.Context, userID uuid.UUID, currency string) (*models.WalletAccount, error) {
	return scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallet_accounts WHERE user_id = $1 AND currency = $2
	`, userID, currency))
}

func (r *WalletRepo) GetPlatform(ctx context.Context, currency string) (*models.WalletAccount, error) {
	return scanWallet(r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallet_accounts WHERE user_id IS NULL AND currency = $1
	`, currency))
}

// ApplyDelta adds delta (negative for debits) to the wallet balance and
// returns the new balance. The balance >= 0 check constraint rejects overdrafts.
func (r *WalletRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE wallet_accounts SET balance = balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance
	`, delta, id).Scan(&balance)
	return balance, notFound(err)
}

// SetStatus changes the wallet status. Call after GetByUserForUpdate in same tx.
func (r *WalletRepo) SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallet_accounts SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
