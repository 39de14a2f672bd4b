// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import "fmt"

// Key packs a canonical node's (base, width) into one integer: base in the
// low 32 bits, width in the high 32 bits. A canonical node covers tree
// indexes [base, base+width) with width a power of two and base a multiple
// of width. Parent and child keys are derived arithmetically; no tree links
// are ever stored.
type Key uint64

// EncodeKey validates and packs (base, width) against the market's root
// width. Every stored node and checkpoint is addressed by the resulting key.
func EncodeKey(base, width, rootWidth uint32) (Key, error) {
	if !IsPow2(width) {
		return 0, fmt.Errorf("%w: width=%d", ErrWidthNotPow2, width)
	}
	if base&(width-1) != 0 {
		return 0, fmt.Errorf("%w: base=%d width=%d", ErrBaseUnaligned, base, width)
	}
	if width > rootWidth || base > rootWidth-width {
		return 0, fmt.Errorf("%w: base=%d width=%d root=%d", ErrInvalidKey, base, width, rootWidth)
	}
	return Key(uint64(width)<<32 | uint64(base)), nil
}

// mustKey packs without validation. Trusted internal callers only: the
// walker emits (base, width) pairs that are canonical by construction.
func mustKey(base, width uint32) Key {
	return Key(uint64(width)<<32 | uint64(base))
}

// DecodeKey is the pure inverse of EncodeKey.
func DecodeKey(k Key) (base, width uint32) {
	return uint32(k), uint32(k >> 32)
}

// Base returns the first tree index covered by the node.
func (k Key) Base() uint32 { return uint32(k) }

// Width returns the number of tree indexes covered by the node.
func (k Key) Width() uint32 { return uint32(k >> 32) }

// Children returns the two half-width child keys. Calling Children on a
// width-1 leaf is invalid.
func (k Key) Children() (left, right Key) {
	base, width := DecodeKey(k)
	half := width / 2
	return mustKey(base, half), mustKey(base+half, half)
}

// Parent returns the next aligned ancestor key. The parent's base is the
// node's base cleared to double-width alignment.
func (k Key) Parent() Key {
	base, width := DecodeKey(k)
	pw := width * 2
	return mustKey(base&^(pw-1), pw)
}

// IsRoot reports whether the node spans the whole tree.
func (k Key) IsRoot(rootWidth uint32) bool {
	return k.Base() == 0 && k.Width() == rootWidth
}

// Contains reports whether idx falls inside the node's span.
func (k Key) Contains(idx uint32) bool {
	base, width := DecodeKey(k)
	return idx >= base && idx < base+width
}

// String renders the key for logs and errors.
func (k Key) String() string {
	base, width := DecodeKey(k)
	return fmt.Sprintf("[%d,%d)", base, base+width)
}
