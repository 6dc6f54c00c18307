// Package amount implements the fixed-point token amount used throughout the
// crowdfunding engine. Amounts are unsigned integers scaled by 10^6, matching
// the six decimals of the campaign stablecoin. Arithmetic never touches
// floating point.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Decimals is the number of fractional digits carried by an Amount.
const Decimals = 6

// ErrInvalidAmount reports a decimal string that cannot be represented as an Amount.
var ErrInvalidAmount = errors.New("amount: invalid amount")

var (
	unit        = uint256.NewInt(1_000_000)
	displayUnit = uint256.NewInt(10_000)
	displayHalf = uint256.NewInt(5_000)
	hundred     = uint256.NewInt(100)

	displayPrinter = message.NewPrinter(language.AmericanEnglish)
)

// Amount is a non-negative fixed-point value with six fractional digits.
// The zero value represents 0.
type Amount struct {
	v uint256.Int
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// FromUnits builds an Amount from raw integer units (10^-6 of a token).
func FromUnits(units uint64) Amount {
	var a Amount
	a.v.SetUint64(units)
	return a
}

// FromBig converts a raw integer unit count into an Amount. Negative values and
// values wider than 256 bits are rejected.
func FromBig(units *big.Int) (Amount, error) {
	if units == nil {
		return Amount{}, nil
	}
	if units.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative units %s", ErrInvalidAmount, units.String())
	}
	v, overflow := uint256.FromBig(units)
	if overflow {
		return Amount{}, fmt.Errorf("%w: units exceed 256 bits", ErrInvalidAmount)
	}
	return Amount{v: *v}, nil
}

// FromUint256 wraps a uint256 unit count.
func FromUint256(units *uint256.Int) Amount {
	var a Amount
	if units != nil {
		a.v.Set(units)
	}
	return a
}

// Parse converts a human decimal string such as "12.5" into an Amount. The
// string must be a non-negative decimal number with at most six fractional
// digits and no surrounding whitespace; anything else fails with
// ErrInvalidAmount.
func Parse(text string) (Amount, error) {
	if text == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	whole, frac, _ := strings.Cut(text, ".")
	if whole == "" && frac == "" {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if !allDigits(whole) || !allDigits(frac) {
		return Amount{}, fmt.Errorf("%w: %q is not a non-negative decimal", ErrInvalidAmount, text)
	}
	if len(frac) > Decimals {
		return Amount{}, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, text, Decimals)
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", Decimals-len(frac)), "0")
	if digits == "" {
		return Amount{}, nil
	}
	var a Amount
	if err := a.v.SetFromDecimal(digits); err != nil {
		return Amount{}, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, text)
	}
	return a, nil
}

// MustParse is Parse for constants and tests.
func MustParse(text string) Amount {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Units returns the raw integer unit count as a decimal string.
func (a Amount) Units() string { return a.v.Dec() }

// Big returns the raw unit count as a big.Int suitable for ABI encoding.
func (a Amount) Big() *big.Int { return a.v.ToBig() }

// Uint256 returns a copy of the raw unit count.
func (a Amount) Uint256() *uint256.Int { return new(uint256.Int).Set(&a.v) }

// IsZero reports whether the amount is 0.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// Less reports whether a < b.
func (a Amount) Less(b Amount) bool { return a.v.Lt(&b.v) }

// Add returns a+b. ok is false on overflow.
func (a Amount) Add(b Amount) (sum Amount, ok bool) {
	_, overflow := sum.v.AddOverflow(&a.v, &b.v)
	return sum, !overflow
}

// Sub returns a-b. ok is false when b > a.
func (a Amount) Sub(b Amount) (diff Amount, ok bool) {
	_, underflow := diff.v.SubOverflow(&a.v, &b.v)
	return diff, !underflow
}

// MulDiv returns floor(a*num/den) computed with a 512-bit intermediate.
// ok is false when den is zero or the result does not fit in 256 bits.
func (a Amount) MulDiv(num, den uint64) (out Amount, ok bool) {
	if den == 0 {
		return Amount{}, false
	}
	_, overflow := out.v.MulDivOverflow(&a.v, uint256.NewInt(num), uint256.NewInt(den))
	return out, !overflow
}

// Percent returns floor(a*100/of) without an upper clamp. ok is false when of is zero.
func (a Amount) Percent(of Amount) (pct uint64, ok bool) {
	if of.v.IsZero() {
		return 0, false
	}
	var out uint256.Int
	if _, overflow := out.MulDivOverflow(&a.v, hundred, &of.v); overflow || !out.IsUint64() {
		return ^uint64(0), true
	}
	return out.Uint64(), true
}

// String renders the exact decimal value, trimming trailing fractional zeros
// but keeping at least one ("1.0", "12.345678"). The output parses back to
// the same Amount.
func (a Amount) String() string {
	var whole, frac uint256.Int
	whole.DivMod(&a.v, unit, &frac)
	f := fmt.Sprintf("%06d", frac.Uint64())
	f = strings.TrimRight(f, "0")
	if f == "" {
		f = "0"
	}
	return whole.Dec() + "." + f
}

// FormatForDisplay renders the amount with exactly two decimals and en-US
// thousands grouping, rounding half up ("1,234.57"). The result is lossy and
// must not be parsed back as an exact amount.
func FormatForDisplay(a Amount) string {
	var cents uint256.Int
	cents.Add(&a.v, displayHalf)
	if cents.Lt(&a.v) {
		// wrapped on the rounding increment; only reachable at the 256-bit ceiling
		cents.Set(&a.v)
	}
	cents.Div(&cents, displayUnit)
	var whole, rem uint256.Int
	whole.DivMod(&cents, hundred, &rem)
	var head string
	if whole.IsUint64() {
		head = displayPrinter.Sprintf("%d", whole.Uint64())
	} else {
		head = whole.Dec()
	}
	return fmt.Sprintf("%s.%02d", head, rem.Uint64())
}

// MarshalText implements encoding.TextMarshaler using the raw unit count.
func (a Amount) MarshalText() ([]byte, error) { return []byte(a.v.Dec()), nil }

// UnmarshalText implements encoding.TextUnmarshaler using the raw unit count.
func (a *Amount) UnmarshalText(text []byte) error {
	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		a.v.Clear()
		return nil
	}
	if !allDigits(trimmed) {
		return fmt.Errorf("%w: units %q", ErrInvalidAmount, trimmed)
	}
	if err := a.v.SetFromDecimal(trimmed); err != nil {
		return fmt.Errorf("%w: units %q", ErrInvalidAmount, trimmed)
	}
	return nil
}
