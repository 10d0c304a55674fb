// Package token implements arithmetic on the signed 64-bit token ring used
// to partition data across a cluster. All sizes and offsets that may exceed
// the range of an int64 are carried as *big.Int, mirroring the big-integer
// handling the partitioner needs for the full ring and its sub-ranges.
package token

import (
	"math"
	"math/big"

	"github.com/pkg/errors"
)

// Range is a half-open interval [Start, End) on the ring. Start == End
// denotes the full ring.
type Range struct {
	Start int64
	End   int64
}

// Valid reports whether the range's size lies in [1, FULL_RANGE].
func (r Range) Valid() bool {
	size := Ring{}.RangeSize(r)
	return size.Sign() > 0 && size.Cmp(fullRange) <= 0
}

// ErrOutOfRing is returned by WrapToInt64 when a value lies further than one
// full rotation outside [MinInt64, MaxInt64]. Given the invariants of the
// ranges handed to this package this should never happen.
var ErrOutOfRing = errors.New("token: value out of ring")

var (
	fullRange = new(big.Int).Lsh(big.NewInt(1), 64)
	minI64    = big.NewInt(math.MinInt64)
	maxI64    = big.NewInt(math.MaxInt64)
)

// Ring models the cyclic token space [MinInt64, MaxInt64] with exactly
// FullRangeSize tokens. It carries no state; its methods are pure.
type Ring struct{}

// New returns a Ring.
func New() Ring {
	return Ring{}
}

// FullRangeSize returns 2^64, the total number of tokens on the ring.
func (Ring) FullRangeSize() *big.Int {
	return new(big.Int).Set(fullRange)
}

// RangeSize returns the number of tokens covered by r, accounting for
// wrap-around when r.Start >= r.End.
func (Ring) RangeSize(r Range) *big.Int {
	s := big.NewInt(r.Start)
	e := big.NewInt(r.End)

	if r.Start < r.End {
		return new(big.Int).Sub(e, s)
	}

	// Wrap-around: size = FULL_RANGE - (start - end).
	diff := new(big.Int).Sub(s, e)
	return new(big.Int).Sub(fullRange, diff)
}

// WrapToInt64 reduces a big integer that has overflowed past MaxInt64 by at
// most one full rotation of the ring back into [MinInt64, MaxInt64]. Values
// already in range pass through unchanged. Returns ErrOutOfRing for anything
// further out, which the invariants of this package should make impossible.
func (Ring) WrapToInt64(v *big.Int) (int64, error) {
	if v.Cmp(minI64) >= 0 && v.Cmp(maxI64) <= 0 {
		return v.Int64(), nil
	}

	wrapped := new(big.Int).Sub(v, fullRange)
	if wrapped.Cmp(minI64) >= 0 && wrapped.Cmp(maxI64) <= 0 {
		return wrapped.Int64(), nil
	}

	return 0, ErrOutOfRing
}
