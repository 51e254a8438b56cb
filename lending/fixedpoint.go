package lending

import (
	"github.com/holiman/uint256"
)

// =============================================================================
// 64.64 FIXED POINT
// =============================================================================
//
// Values are held in 256-bit words with 64 fractional bits. The valid range
// is that of a signed 64.64 number (below 2^127); anything larger is an
// overflow. All inputs to the engine are non-negative, so the sign bit is
// never needed.

const fractionalBits = 64

var (
	fixedOne   = new(uint256.Int).Lsh(uint256.NewInt(1), fractionalBits)
	fixedHalf  = new(uint256.Int).Lsh(uint256.NewInt(1), fractionalBits-1)
	fixedLimit = new(uint256.Int).Lsh(uint256.NewInt(1), 127)
)

// fixedFromRatio returns floor(num / den) as 64.64.
func fixedFromRatio(num, den uint64) *uint256.Int {
	z := new(uint256.Int).Lsh(uint256.NewInt(num), fractionalBits)
	return z.Div(z, uint256.NewInt(den))
}

// fixedMul multiplies two 64.64 values, truncating the extra fraction.
func fixedMul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	z.Rsh(z, fractionalBits)
	if !z.Lt(fixedLimit) {
		return nil, ErrArithmeticOverflow
	}
	return z, nil
}

// fixedPow raises a 64.64 value to an integer power by squaring.
func fixedPow(x *uint256.Int, n uint64) (*uint256.Int, error) {
	result := new(uint256.Int).Set(fixedOne)
	base := new(uint256.Int).Set(x)
	var err error
	for n > 0 {
		if n&1 == 1 {
			if result, err = fixedMul(result, base); err != nil {
				return nil, err
			}
		}
		n >>= 1
		if n > 0 {
			if base, err = fixedMul(base, base); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// fixedApply returns round(amount * f) with half-up rounding on the final
// shift. The result must fit an amount.
func fixedApply(amount uint64, f *uint256.Int) (uint64, error) {
	z := new(uint256.Int).Mul(uint256.NewInt(amount), f)
	z.Add(z, fixedHalf)
	z.Rsh(z, fractionalBits)
	if !z.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return z.Uint64(), nil
}

// compoundGrowth returns round(balance * (1 + rate/RateFactor)^days).
func compoundGrowth(balance uint64, rate uint32, days int64) (uint64, error) {
	if balance == 0 || rate == 0 || days <= 0 {
		return balance, nil
	}
	factor := new(uint256.Int).Add(fixedOne, fixedFromRatio(uint64(rate), RateFactor))
	power, err := fixedPow(factor, uint64(days))
	if err != nil {
		return 0, err
	}
	return fixedApply(balance, power)
}

// mulDivRound returns round(a * b / d), half up, in 256-bit precision.
func mulDivRound(a, b, d uint64) (uint64, error) {
	z := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	half := uint256.NewInt(d / 2)
	z.Add(z, half)
	z.Div(z, uint256.NewInt(d))
	if !z.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return z.Uint64(), nil
}

// roundToAccuracy rounds to the nearest multiple of AccuracyFactor, half up.
func roundToAccuracy(v uint64) uint64 {
	rem := v % AccuracyFactor
	down := v - rem
	if rem >= AccuracyFactor/2 {
		if down > RepayAll-AccuracyFactor {
			return down
		}
		return down + AccuracyFactor
	}
	return down
}
