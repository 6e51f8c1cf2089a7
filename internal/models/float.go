package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Float ledger direction enums.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Float ledger actors.
const (
	ActorBank  = "bank"
	ActorMpesa = "mpesa"
	ActorUser  = "user"
	ActorFloat = "float"
)

// Float ledger status enums.
const (
	FloatStatusPending   = "pending"
	FloatStatusCompleted = "completed"
	FloatStatusFailed    = "failed"
)

// FloatEntry is one immutable row of the platform float ledger. Balance is
// the running custodial balance for Currency after this entry.
type FloatEntry struct {
	ID          uuid.UUID       `json:"id"`
	Seq         int64           `json:"seq"`
	Reference   string          `json:"reference"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Purpose     string          `json:"purpose"`
	Status      string          `json:"status"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Signed returns the amount as it affects the float balance.
func (e *FloatEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionOut {
		return e.Amount.Neg()
	}
	return e.Amount
}

// ValidActor reports whether a is a known float counterpart.
func ValidActor(a string) bool {
	switch a {
	case ActorBank, ActorMpesa, ActorUser, ActorFloat:
		return true
	}
	return false
}
