// Package money holds the fixed-point rules shared by the wallet, escrow and
// float ledgers. Amounts are shopspring decimals at a scale of two places.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits stored for every monetary column.
const Scale int32 = 2

// FeeRateScale is the number of fractional digits stored for a fee rate.
const FeeRateScale int32 = 4

// MaxAmount is the exclusive upper bound of a numeric(18,2) column.
var MaxAmount = decimal.New(1, 16)

// DefaultCurrency is the currency of the reference deployment.
const DefaultCurrency = "KES"

// DefaultPlatformFeeRate is the share of a held amount kept by the platform.
var DefaultPlatformFeeRate = decimal.RequireFromString("0.15")

var (
	ErrNonPositive = errors.New("amount must be greater than zero")
	ErrTooPrecise  = errors.New("amount has more than 2 decimal places")
	ErrTooLarge    = errors.New("amount must be less than 10000000000000000")
	ErrBadCurrency = errors.New("currency must be a 3-letter ISO code")
	ErrBadFeeRate  = errors.New("fee rate must be within [0, 1) with at most 4 decimal places")
)

// Validate checks that amount is a positive value representable at Scale.
func Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositive
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return ErrTooLarge
	}
	if !amount.Equal(amount.Truncate(Scale)) {
		return ErrTooPrecise
	}
	return nil
}

// Round applies the ledger rounding policy: round half to even at Scale.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(Scale)
}

// PlatformFee computes the fee charged on amount at rate.
func PlatformFee(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate))
}

// Split divides a held amount into the payee share and the platform fee.
// The fee is the one stored at hold time, so the split never depends on the
// current rate.
func Split(held, fee decimal.Decimal) (payout decimal.Decimal, platform decimal.Decimal) {
	return held.Sub(fee), fee
}

// ValidateFeeRate rejects rates outside [0, 1) or finer than FeeRateScale.
func ValidateFeeRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) || !rate.Equal(rate.Truncate(FeeRateScale)) {
		return ErrBadFeeRate
	}
	return nil
}

// NormalizeCurrency upper-cases and validates an ISO 4217 style code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", ErrBadCurrency
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", ErrBadCurrency
		}
	}
	return c, nil
}

// Format renders amount with its currency, e.g. "KES 510.00".
func Format(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", currency, amount.StringFixed(Scale))
}
