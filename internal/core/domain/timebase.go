package domain

import (
	"fmt"
	"math/big"
)

// NoPTS marks a frame or packet without a presentation timestamp.
const NoPTS int64 = -1 << 63

// Rational is a time base expressed as ticks per second (Num/Den seconds
// per tick).
type Rational struct {
	Num int
	Den int
}

func (r Rational) IsZero() bool { return r.Num == 0 || r.Den == 0 }

func (r Rational) Invert() Rational { return Rational{Num: r.Den, Den: r.Num} }

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }

// TimeBaseForRate returns the time base of one tick per frame at the given
// frame rate. Fractional rates are kept exact to the millihertz.
func TimeBaseForRate(fps float64) Rational {
	if fps <= 0 {
		return Rational{}
	}
	if fps == float64(int(fps)) {
		return Rational{Num: 1, Den: int(fps)}
	}
	return Rational{Num: 1000, Den: int(fps*1000 + 0.5)}
}

// Rescale converts ts from one time base to another, rounding to the
// nearest tick with halves away from zero.
func Rescale(ts int64, from, to Rational) int64 {
	if ts == NoPTS || from.IsZero() || to.IsZero() || from == to {
		return ts
	}
	num := big.NewInt(ts)
	num.Mul(num, big.NewInt(int64(from.Num)))
	num.Mul(num, big.NewInt(int64(to.Den)))
	den := big.NewInt(int64(from.Den))
	den.Mul(den, big.NewInt(int64(to.Num)))
	if den.Sign() < 0 {
		num.Neg(num)
		den.Neg(den)
	}

	half := new(big.Int).Rsh(den, 1)
	if num.Sign() >= 0 {
		num.Add(num, half)
	} else {
		num.Sub(num, half)
	}
	return num.Quo(num, den).Int64()
}
