// Package money holds the two-decimal amount type used for every monetary
// field. Parsing is total: anything that is not a finite number becomes zero.
package money

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in hundredths (cents).
type Amount int64

// maxUnits bounds parsed values to what a float64 can carry exactly.
const maxUnits = 1 << 53

var hundred = decimal.NewFromInt(100)

// FromDecimal rounds d to two decimals.
func FromDecimal(d decimal.Decimal) Amount {
	cents := d.Round(2).Mul(hundred)
	if cents.Abs().GreaterThan(decimal.NewFromInt(maxUnits)) {
		return 0
	}

	return Amount(cents.IntPart())
}

// Parse coerces v into an Amount. NaN, ±Inf, out of range and unparseable
// inputs yield 0.
func Parse(v any) Amount {
	switch n := v.(type) {
	case nil:
		return 0
	case Amount:
		return n
	case decimal.Decimal:
		return FromDecimal(n)
	case int:
		return fromInt(int64(n))
	case int32:
		return fromInt(int64(n))
	case int64:
		return fromInt(n)
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case json.Number:
		return fromString(n.String())
	case string:
		return fromString(n)
	default:
		return 0
	}
}

func fromInt(n int64) Amount {
	if n > maxUnits/100 || n < -maxUnits/100 {
		return 0
	}

	return Amount(n * 100)
}

func fromFloat(f float64) Amount {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}

	return FromDecimal(decimal.NewFromFloat(f))
}

func fromString(s string) Amount {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}

	return FromDecimal(d)
}

// ParseEuropean parses amounts written as "1.234,56" or "-588,74".
func ParseEuropean(s string) (Amount, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ".", "")
	clean = strings.ReplaceAll(clean, ",", ".")

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}

	return FromDecimal(d), nil
}

// Decimal returns the amount as a decimal with two places.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -2)
}

func (a Amount) Float64() float64 {
	f, _ := a.Decimal().Float64()
	return f
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(2)
}

// NonNegative clamps negative amounts to zero.
func (a Amount) NonNegative() Amount {
	if a < 0 {
		return 0
	}

	return a
}

// MarshalJSON writes the amount as a plain JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = 0
		return nil
	}

	*a = Parse(strings.Trim(s, `"`))

	return nil
}
