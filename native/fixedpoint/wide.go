package fixedpoint

import "github.com/holiman/uint256"

// Accumulators such as the redistribution terms and the stability pool sums
// are 128-bit quantities. They are carried as uint256 values and checked
// against the 128-bit bound after every update.

// Wide lifts a uint64 into a fresh 256-bit integer.
func Wide(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// CheckU128 fails when v no longer fits in 128 bits.
func CheckU128(v *uint256.Int) error {
	if v == nil || v.BitLen() > 128 {
		return ErrOverflow
	}
	return nil
}

// WideAdd returns a+b bounded to 128 bits.
func WideAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, CheckU128(out)
}

// WideSub returns a-b and fails on underflow.
func WideSub(a, b *uint256.Int) (*uint256.Int, error) {
	if a.Lt(b) {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// WideMul returns a*b bounded to 128 bits.
func WideMul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return out, CheckU128(out)
}

// WideDiv returns a/d and fails when d is zero.
func WideDiv(a, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Div(a, d), nil
}

// Narrow converts a wide value back to uint64.
func Narrow(v *uint256.Int) (uint64, error) {
	return toUint64(v)
}
