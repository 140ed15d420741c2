/*
Package ledger provides the append-only transaction log at the heart of the
student accounts engine.

PURPOSE:
  The log is the immutable source of truth for every balance change on a
  student account: assessments, payments, fees, adjustments. Account
  balances are never stored authoritatively - they are always reproducible
  by replaying the log from empty state.

KEY CONCEPTS IN THIS FILE (money.go):
  Money is an integer count of minor currency units (centavos). All ledger
  arithmetic is integer arithmetic - no floating point, no rounding until a
  value crosses the API boundary, where it becomes a decimal string with
  exactly two fraction digits (e.g. "6500.00").

DESIGN PRINCIPLES:
  1. Immutability: transactions are never modified once completed
  2. Precision: integer minor units internally, decimal.Decimal at the edge
  3. Idempotency: every payment carries a caller-supplied reference

SEE ALSO:
  - transaction.go: ledger entry types
  - log.go: the append-only log itself
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer minor currency units
// =============================================================================

// Money is an amount in minor currency units (centavos).
// Never a floating-point value.
type Money int64

var hundred = decimal.NewFromInt(100)

// ParseMoney parses a boundary decimal string ("6500.00") into minor units.
// At most two fraction digits are accepted; anything finer would silently
// lose precision, so it is rejected. So is any magnitude the int64 minor
// unit cannot hold, which IntPart would otherwise truncate silently.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid money value %q: %w", s, err)
	}
	if d.Exponent() < -2 {
		return 0, fmt.Errorf("invalid money value %q: more than two fraction digits", s)
	}
	cents := d.Mul(hundred)
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("invalid money value %q: magnitude out of range", s)
	}
	return Money(cents.IntPart()), nil
}

// MustParseMoney is ParseMoney for constants and tests. Panics on bad input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// String formats the amount as a decimal string with exactly two fraction
// digits, the only representation money takes outside the process.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Decimal returns the amount in major units as a decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) Add(n Money) Money   { return m + n }
func (m Money) Sub(n Money) Money   { return m - n }
func (m Money) Neg() Money          { return -m }
func (m Money) IsZero() bool        { return m == 0 }
func (m Money) IsNegative() bool    { return m < 0 }
func (m Money) IsPositive() bool    { return m > 0 }
func (m Money) Min(n Money) Money   { if m < n { return m }; return n }
func (m Money) Max(n Money) Money   { if m > n { return m }; return n }

// ClampNonNegative returns the amount floored at zero. Derived balances
// (remaining balance, per-period dues) are never allowed below zero.
func (m Money) ClampNonNegative() Money {
	if m < 0 {
		return 0
	}
	return m
}

// PercentOf returns rate% of the amount, rounded half-up to the nearest
// minor unit. Used for percentage surcharges (e.g. a 2% gateway fee).
func PercentOf(m Money, rate decimal.Decimal) Money {
	fee := decimal.NewFromInt(int64(m)).Mul(rate).Div(hundred).Round(0)
	return Money(fee.IntPart())
}
