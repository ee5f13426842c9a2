package service

import (
	"math"

	"github.com/pmezard/go-difflib/difflib"
)

// IndexMapper estimates, for an offset in text A, the corresponding offset
// in a similar text B. Offsets are rune offsets.
//
// The estimate comes from the opcodes of an LCS-based sequence matcher run
// over the two texts one rune at a time. It is monotonic but deliberately
// coarse: diff boundaries rarely coincide with citation segment boundaries,
// so callers use it to seed a local search rather than as a final answer.
type IndexMapper struct {
	ops  []difflib.OpCode
	lenB int
}

// NewIndexMapper diffs a against b and returns a mapper from a-offsets to
// b-offsets.
func NewIndexMapper(a, b []rune) *IndexMapper {
	m := difflib.NewMatcher(runeElems(a), runeElems(b))
	return &IndexMapper{
		ops:  m.GetOpCodes(),
		lenB: len(b),
	}
}

// Map returns the estimated offset in B for offset i in A, always within
// [0, len(B)].
func (m *IndexMapper) Map(i int) int {
	if len(m.ops) == 0 {
		return clamp(i, 0, m.lenB)
	}
	if i <= 0 {
		return m.ops[0].J1
	}

	for _, op := range m.ops {
		if i < op.I1 {
			return op.J1
		}
		if i <= op.I2 {
			if op.I2 == op.I1 {
				return op.J1
			}
			t := float64(i-op.I1) / float64(op.I2-op.I1)
			j := float64(op.J1) + t*float64(op.J2-op.J1)
			return clamp(int(math.RoundToEven(j)), 0, m.lenB)
		}
	}

	return m.lenB
}

// runeElems splits text into one-rune elements for the sequence matcher.
func runeElems(rs []rune) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
