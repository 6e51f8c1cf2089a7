package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow status enums. held is the only non-terminal state.
const (
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

// EscrowTransaction is the record of one task's held funds.
type EscrowTransaction struct {
	ID          uuid.UUID       `json:"id"`
	TaskID      uuid.UUID       `json:"task_id"`
	TaskTitle   string          `json:"task_title"`
	Reference   string          `json:"reference"`
	PayerID     uuid.UUID       `json:"payer_id"`
	PayeeID     uuid.UUID       `json:"payee_id"`
	Amount      decimal.Decimal `json:"amount"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	FeeRate     decimal.Decimal `json:"fee_rate"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`
}
