package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/gigledger/backend/internal/db"
	"github.com/gigledger/backend/internal/money"
)

var (
	// ErrInsufficientBalance matches any *InsufficientBalanceError via errors.Is.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrMissingHeldTransaction means release or refund found no held funds
	// for the task: the hold never committed or the funds already settled.
	ErrMissingHeldTransaction = errors.New("no held transaction for task")
	ErrEscrowAlreadyHeld      = errors.New("funds already held for task")
	ErrEscrowMismatch         = errors.New("request does not match held transaction")
	ErrEscrowNotFound         = errors.New("escrow not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTask            = errors.New("task id is required")
	ErrSamePayerPayee         = errors.New("payer and payee must differ")
	ErrWalletInactive         = errors.New("wallet is not active")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrInvalidStatus          = errors.New("invalid wallet status")
	ErrInvalidGateway         = errors.New("gateway must be bank or mpesa")
	ErrDuplicateExternalRef   = errors.New("external reference already applied")
)

// InsufficientBalanceError carries the amounts a caller needs to compute a
// top-up. It is never retried automatically.
type InsufficientBalanceError struct {
	Required decimal.Decimal
	Current  decimal.Decimal
	Currency string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, current %s",
		money.Format(e.Required, e.Currency), money.Format(e.Current, e.Currency))
}

// Shortfall is the amount missing from the wallet.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Current)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// IsRetryable reports whether the whole operation may be retried: only
// transient storage failures, never business rejections.
func IsRetryable(err error) bool {
	return errors.Is(err, db.ErrTransient)
}
