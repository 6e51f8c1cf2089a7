package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/models"
	"github.com/gigledger/backend/internal/repository"
)

// WalletStore is the wallet_accounts access the services need.
type WalletStore interface {
	EnsureUserWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (uuid.UUID, error)
	EnsurePlatformWallet(ctx context.Context, tx pgx.Tx, currency string) (uuid.UUID, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WalletAccount, error)
	GetByUserForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency string) (*models.WalletAccount, error)
	ApplyDelta(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
}

// EntryStore appends wallet ledger entries.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.WalletLedgerEntry) error
}

// posting is one wallet balance change and its ledger entry.
type posting struct {
	wallet      *models.WalletAccount
	entryType   string
	category    string
	amount      decimal.Decimal
	reference   string
	description string
	externalRef *string
	taskID      *uuid.UUID
}

// post applies p to the locked wallet and appends the matching entry, so a
// balance never moves without its ledger row.
func post(ctx context.Context, tx pgx.Tx, wallets WalletStore, entries EntryStore, p posting) (*models.WalletLedgerEntry, error) {
	delta := p.amount
	if p.entryType == models.EntryTypeDebit {
		delta = delta.Neg()
	}
	balance, err := wallets.ApplyDelta(ctx, tx, p.wallet.ID, delta)
	if err != nil {
		return nil, fmt.Errorf("apply %s to wallet %s: %w", p.entryType, p.wallet.ID, err)
	}
	p.wallet.Balance = balance
	entry := &models.WalletLedgerEntry{
		ID:                uuid.New(),
		Reference:         p.reference,
		WalletID:          p.wallet.ID,
		EntryType:         p.entryType,
		Category:          p.category,
		Amount:            p.amount,
		BalanceAfter:      balance,
		Description:       p.description,
		ExternalReference: p.externalRef,
		TaskID:            p.taskID,
	}
	if err := entries.CreateTx(ctx, tx, entry); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("append ledger entry %s: %w", p.reference, err)
	}
	return entry, nil
}

// lockWallets takes row locks in ascending id order so concurrent transfers
// touching the same wallets cannot deadlock.
func lockWallets(ctx context.Context, tx pgx.Tx, wallets WalletStore, ids ...uuid.UUID) (map[uuid.UUID]*models.WalletAccount, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })
	locked := make(map[uuid.UUID]*models.WalletAccount, len(sorted))
	for _, id := range sorted {
		if _, ok := locked[id]; ok {
			continue
		}
		w, err := wallets.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("lock wallet %s: %w", id, err)
		}
		locked[id] = w
	}
	return locked, nil
}
