package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet ledger entry_type enums.
const (
	EntryTypeCredit = "credit"
	EntryTypeDebit  = "debit"
)

// Wallet ledger category enums.
const (
	CategoryEscrowHold    = "escrow_hold"
	CategoryEscrowRelease = "escrow_release"
	CategoryPlatformFee   = "platform_fee"
	CategoryEscrowRefund  = "escrow_refund"
	CategoryTopUp         = "top_up"
	CategoryPayout        = "payout"
)

// WalletLedgerEntry is one immutable row of a wallet's transaction history.
// BalanceAfter is the wallet balance once this entry was applied.
type WalletLedgerEntry struct {
	ID                uuid.UUID       `json:"id"`
	Seq               int64           `json:"seq"`
	Reference         string          `json:"reference"`
	WalletID          uuid.UUID       `json:"wallet_id"`
	EntryType         string          `json:"entry_type"`
	Category          string          `json:"category"`
	Amount            decimal.Decimal `json:"amount"`
	BalanceAfter      decimal.Decimal `json:"balance_after"`
	Description       string          `json:"description"`
	ExternalReference *string         `json:"external_reference,omitempty"`
	TaskID            *uuid.UUID      `json:"task_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Signed returns the amount as it affects the wallet balance.
func (e *WalletLedgerEntry) Signed() decimal.Decimal {
	if e.EntryType == EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
