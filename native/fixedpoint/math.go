// Package fixedpoint implements the 1e9-scaled integer arithmetic shared by
// the price feed and the collateralised debt engine. Every operation works on
// uint64 amounts and widens into 256-bit intermediates so that products never
// wrap silently; results that do not fit back into uint64 fail with
// ErrOverflow.
package fixedpoint

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

const (
	// DecimalPrecision is the fixed point unit: 1e9 represents 1.0 or 100%.
	DecimalPrecision uint64 = 1_000_000_000
	// NICRPrecision scales nominal collateral ratios used for ordering only.
	NICRPrecision uint64 = 100_000_000_000
	// MaxDecayMinutes caps decPow exponents at roughly 1000 years of minutes.
	MaxDecayMinutes uint64 = 525_600_000
	// InfiniteRatio is returned for positions without debt.
	InfiniteRatio uint64 = math.MaxUint64
)

// ErrOverflow reports an arithmetic result that does not fit its target type
// or a division by a value that must never be zero. It is never caused by
// caller input alone and is treated as fatal by the engine.
var ErrOverflow = errors.New("fixedpoint: arithmetic overflow")

var (
	unit     = uint256.NewInt(DecimalPrecision)
	halfUnit = uint256.NewInt(DecimalPrecision / 2)
)

// DecMul multiplies two 1e9-scaled values, rounding half up.
func DecMul(x, y uint64) (uint64, error) {
	prod := new(uint256.Int).Mul(uint256.NewInt(x), uint256.NewInt(y))
	prod.Add(prod, halfUnit)
	prod.Div(prod, unit)
	return toUint64(prod)
}

// DecPow raises a 1e9-scaled base to an integer power using binary
// exponentiation. The exponent is capped at MaxDecayMinutes.
func DecPow(base, n uint64) (uint64, error) {
	if n == 0 {
		return DecimalPrecision, nil
	}
	if n > MaxDecayMinutes {
		n = MaxDecayMinutes
	}
	y := DecimalPrecision
	x := base
	var err error
	for n > 1 {
		if n%2 == 0 {
			if x, err = DecMul(x, x); err != nil {
				return 0, err
			}
			n /= 2
			continue
		}
		if y, err = DecMul(x, y); err != nil {
			return 0, err
		}
		if x, err = DecMul(x, x); err != nil {
			return 0, err
		}
		n = (n - 1) / 2
	}
	return DecMul(x, y)
}

// ComputeCR returns coll*price/debt, or InfiniteRatio when debt is zero.
func ComputeCR(coll, debt, price uint64) (uint64, error) {
	if debt == 0 {
		return InfiniteRatio, nil
	}
	return MulDiv(coll, price, debt)
}

// ComputeNominalCR returns coll*NICRPrecision/debt, or InfiniteRatio when
// debt is zero.
func ComputeNominalCR(coll, debt uint64) (uint64, error) {
	if debt == 0 {
		return InfiniteRatio, nil
	}
	return MulDiv(coll, NICRPrecision, debt)
}

// MulDiv computes a*b/d with a 256-bit intermediate product.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrOverflow
	}
	out := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	out.Div(out, uint256.NewInt(d))
	return toUint64(out)
}

// Add returns a+b or ErrOverflow.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrOverflow when b exceeds a.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	out := a * b
	if out/b != a {
		return 0, ErrOverflow
	}
	return out, nil
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func toUint64(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}
