// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import "math/bits"

// LowestSetBit returns the value of the lowest set bit of v, or 0 for v == 0.
// The alignment of a tree index is the width of the largest canonical block
// that can start there.
func LowestSetBit(v uint32) uint32 {
	return v & -v
}

// HighestSetBit returns the value of the highest set bit of v, or 0 for
// v == 0. The largest power of two not exceeding v.
func HighestSetBit(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return 1 << (bits.Len32(v) - 1)
}

// HighestBitIndex returns the index of the highest set bit (log2 of v for
// powers of two). Returns -1 for v == 0.
func HighestBitIndex(v uint32) int {
	return bits.Len32(v) - 1
}

// IsPow2 reports whether v is a perfect power of two.
func IsPow2(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
