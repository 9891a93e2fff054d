// Package money provides fixed-point decimal arithmetic for every monetary
// value the escrow orchestrator computes or compares. Binary floating point
// never appears on a money-bearing path.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a fixed-point monetary value, always normalized to 2 fractional
// digits on construction and after arithmetic.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// NewFromString parses a decimal string (e.g. "385000.00") into an Amount.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Amount{d: d.Round(2)}, nil
}

// NewFromCents constructs an Amount from an integer count of cents, avoiding
// any decimal-string parsing for call sites that already carry an integer
// minor-unit value.
func NewFromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -2)}
}

// MustNewFromString is NewFromString for call sites with a compile-time
// constant input (tests, defaults); it panics on a malformed literal.
func MustNewFromString(s string) Amount {
	a, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	return a.d.StringFixed(2)
}

// MarshalText implements encoding.TextMarshaler so Amount serializes as a
// decimal string (§6: "all monetary amounts serialize as decimal strings").
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := NewFromString(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d).Round(2)}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{d: a.d.Sub(b.d).Round(2)}
}

// MulRate multiplies the amount by a rate (e.g. a 0.03 commission rate) and
// rounds the result with banker's rounding at 2 fractional digits.
func (a Amount) MulRate(rate decimal.Decimal) Amount {
	return Amount{d: a.d.Mul(rate).RoundBank(2)}
}

// Sum totals a slice of Amounts, each addition rounded at 2 fractional
// digits so intermediate totals never carry unrepresentable fractions.
func Sum(amounts ...Amount) Amount {
	total := Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

func (a Amount) GreaterThan(b Amount) bool {
	return a.d.GreaterThan(b.d)
}

func (a Amount) GreaterThanOrEqual(b Amount) bool {
	return a.d.GreaterThanOrEqual(b.d)
}

func (a Amount) LessThan(b Amount) bool {
	return a.d.LessThan(b.d)
}

func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

func (a Amount) IsNegative() bool {
	return a.d.IsNegative()
}

func (a Amount) IsPositive() bool {
	return a.d.IsPositive()
}

// Equal compares two Amounts for decimal equality (not representation
// equality — "10.00" and "10" are equal).
func (a Amount) Equal(b Amount) bool {
	return a.d.Equal(b.d)
}
