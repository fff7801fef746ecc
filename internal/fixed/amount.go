// Package fixed implements the 18-decimal fixed-point token amount used for
// every reserve, swap and liquidity quantity in the engine.
package fixed

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// Decimals is the number of fractional digits carried by every Amount.
const Decimals = 18

var (
	ErrOverflow       = errors.New("fixed: amount overflow")
	ErrUnderflow      = errors.New("fixed: amount underflow")
	ErrDivisionByZero = errors.New("fixed: division by zero")
	ErrInvalidAmount  = errors.New("fixed: invalid amount")
)

var unit = uint256.NewInt(1_000_000_000_000_000_000)

// Amount is an unsigned quantity of base units (10^-18 of a token).
// The zero value is a valid zero amount.
type Amount struct {
	v uint256.Int
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// FromUint64 returns n base units.
func FromUint64(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// Units returns n whole tokens.
func Units(n uint64) Amount {
	var a Amount
	a.v.Mul(uint256.NewInt(n), unit)
	return a
}

// One returns exactly one whole token.
func One() Amount { return Units(1) }

// FromUint256 copies v into an Amount.
func FromUint256(v *uint256.Int) Amount {
	var a Amount
	if v != nil {
		a.v.Set(v)
	}
	return a
}

// FromBig converts a non-negative big.Int of base units.
func FromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative value %s", ErrInvalidAmount, b)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Amount{}, ErrOverflow
	}
	return Amount{v: *v}, nil
}

// ParseBaseUnits parses an integer string of base units.
func ParseBaseUnits(input string) (Amount, error) {
	input = strings.TrimSpace(input)
	if !isDigits(input) {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	v, err := uint256.FromDecimal(input)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, input, err)
	}
	return Amount{v: *v}, nil
}

// Parse parses a decimal token string such as "12.5" into base units.
// More than 18 fractional digits are rejected rather than rounded.
func Parse(input string) (Amount, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	whole, frac, hasDot := strings.Cut(input, ".")
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (hasDot && frac != "" && !isDigits(frac)) {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, input)
	}
	if len(frac) > Decimals {
		return Amount{}, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, input, Decimals)
	}
	frac += strings.Repeat("0", Decimals-len(frac))
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return Amount{}, nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, input, err)
	}
	return Amount{v: *v}, nil
}

// MustParse is Parse for constants and tests.
func MustParse(input string) Amount {
	a, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return a
}

func isDigits(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

// String returns the amount as an integer count of base units.
func (a Amount) String() string { return a.v.Dec() }

// Format renders the amount in whole tokens, trimming trailing zeros.
func (a Amount) Format() string {
	var whole, rem uint256.Int
	whole.DivMod(&a.v, unit, &rem)
	if rem.IsZero() {
		return whole.Dec()
	}
	frac := rem.Dec()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return whole.Dec() + "." + strings.TrimRight(frac, "0")
}

// Big returns the amount as a new big.Int.
func (a Amount) Big() *big.Int { return a.v.ToBig() }

// Uint256 returns a copy of the underlying integer.
func (a Amount) Uint256() *uint256.Int { return a.v.Clone() }

func (a Amount) IsZero() bool { return a.v.IsZero() }
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }
func (a Amount) Lt(b Amount) bool { return a.v.Lt(&b.v) }
func (a Amount) Gt(b Amount) bool { return a.v.Gt(&b.v) }
func (a Amount) Eq(b Amount) bool { return a.v.Eq(&b.v) }

// Add returns a+b or ErrOverflow.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrOverflow
	}
	return out, nil
}

// Sub returns a-b or ErrUnderflow when b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, underflow := out.v.SubOverflow(&a.v, &b.v); underflow {
		return Amount{}, ErrUnderflow
	}
	return out, nil
}

// Mul returns a*b or ErrOverflow.
func (a Amount) Mul(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.MulOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrOverflow
	}
	return out, nil
}

// Div returns floor(a/b).
func (a Amount) Div(b Amount) (Amount, error) {
	if b.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	var out Amount
	out.v.Div(&a.v, &b.v)
	return out, nil
}

// MulDiv returns floor(a*b/d) using a 512-bit intermediate product.
func MulDiv(a, b, d Amount) (Amount, error) {
	if d.IsZero() {
		return Amount{}, ErrDivisionByZero
	}
	var out Amount
	if _, overflow := out.v.MulDivOverflow(&a.v, &b.v, &d.v); overflow {
		return Amount{}, ErrOverflow
	}
	return out, nil
}

// MulBps returns floor(a*bps/10000).
func (a Amount) MulBps(bps uint64) (Amount, error) {
	return MulDiv(a, FromUint64(bps), FromUint64(BpsDenominator))
}

// Sqrt returns floor(sqrt(a)).
func (a Amount) Sqrt() Amount {
	var out Amount
	out.v.Sqrt(&a.v)
	return out
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Lt(b) {
		return a
	}
	return b
}

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

// MarshalText encodes the amount as base units.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

// UnmarshalText decodes base units.
func (a *Amount) UnmarshalText(data []byte) error {
	parsed, err := ParseBaseUnits(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
