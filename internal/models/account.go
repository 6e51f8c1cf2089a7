package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet status enums.
const (
	WalletStatusActive    = "active"
	WalletStatusSuspended = "suspended"
	WalletStatusClosed    = "closed"
)

// WalletAccount is the current-balance projection of one owner's ledger.
// UserID is nil for the platform wallet of a currency.
type WalletAccount struct {
	ID        uuid.UUID       `json:"id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsPlatform reports whether the wallet is the platform-owned account.
func (w *WalletAccount) IsPlatform() bool { return w.UserID == nil }

// ValidWalletStatus reports whether s is a known wallet status.
func ValidWalletStatus(s string) bool {
	switch s {
	case WalletStatusActive, WalletStatusSuspended, WalletStatusClosed:
		return true
	}
	return false
}
