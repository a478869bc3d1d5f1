// Package core provides money parsing and handling utilities.
//
// Amounts are exact decimals backed by shopspring/decimal. Floating point is
// never used for balances or transaction amounts.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount.
type Money = decimal.Decimal

// Zero is the zero amount.
var Zero = decimal.Zero

// ParseMoney parses a decimal string, accepting both dot (12.34) and comma (12,34)
// separators. Signed values are accepted; callers enforce positivity where needed.
//
// Examples:
//
//	ParseMoney("12.34") -> 12.34, nil
//	ParseMoney("12,34") -> 12.34, nil
//	ParseMoney("-5")    -> -5, nil
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, ErrInvalidAmount
	}
	return d, nil
}

// ParseAmount parses a transaction magnitude. Zero and negative values are rejected.
func ParseAmount(s string) (Money, error) {
	d, err := ParseMoney(s)
	if err != nil {
		return Zero, err
	}
	if !d.IsPositive() {
		return Zero, ErrInvalidAmount
	}
	return d, nil
}

// MustMoney parses s and panics on failure. Intended for tests and constants.
func MustMoney(s string) Money {
	d, err := ParseMoney(s)
	if err != nil {
		panic("core: invalid money literal " + s)
	}
	return d
}

// FormatMoney renders m without exponent and without trailing zeros beyond the value's scale.
func FormatMoney(m Money) string {
	return m.String()
}
