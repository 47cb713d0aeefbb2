package domain

import "math/big"

var ten = big.NewInt(10)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}

// ConvertScale converts an integer amount between two decimal scales.
// Scaling up always succeeds. Scaling down must be exact: a non-zero
// remainder means the amount cannot be represented on the target side and
// the second return value is false. Sub-unit precision loss is never
// silently truncated.
func ConvertScale(amount *big.Int, fromDecimals, toDecimals int) (*big.Int, bool) {
	if amount == nil {
		return nil, false
	}
	switch {
	case fromDecimals == toDecimals:
		return new(big.Int).Set(amount), true
	case toDecimals > fromDecimals:
		return new(big.Int).Mul(amount, pow10(toDecimals-fromDecimals)), true
	default:
		q, r := new(big.Int).QuoRem(amount, pow10(fromDecimals-toDecimals), new(big.Int))
		if r.Sign() != 0 {
			return nil, false
		}
		return q, true
	}
}

// SameAfterScaling reports whether a source-side amount and a
// destination-side amount denote the same value once decimal scales are
// normalized.
func SameAfterScaling(srcAmount *big.Int, srcDecimals int, dstAmount *big.Int, dstDecimals int) bool {
	converted, ok := ConvertScale(srcAmount, srcDecimals, dstDecimals)
	if !ok {
		return false
	}
	return converted.Cmp(dstAmount) == 0
}
