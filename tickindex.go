// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import "fmt"

// Tick indexes live in an unsigned coordinate space centered on the root:
// index = tick/spacing + rootWidth/2. The root width is fixed once per
// market at first use and never changes afterward, since every stored key
// and checkpoint is expressed in that coordinate system.

// TickToIndex maps a spacing-aligned tick into the market's tree index
// space.
func TickToIndex(tick int24, rootWidth uint32, spacing int24) (uint32, error) {
	if spacing <= 0 {
		return 0, fmt.Errorf("%w: spacing=%d", ErrIncompatibleRange, spacing)
	}
	if tick%spacing != 0 {
		return 0, fmt.Errorf("%w: tick=%d spacing=%d", ErrUnalignedTick, tick, spacing)
	}
	idx := int64(tick/spacing) + int64(rootWidth/2)
	if idx < 0 || idx > int64(rootWidth) {
		return 0, fmt.Errorf("%w: tick=%d index=%d root=%d", ErrIndexOutOfRange, tick, idx, rootWidth)
	}
	return uint32(idx), nil
}

// IndexToTick is the unchecked inverse of TickToIndex. Trusted internal
// input only.
func IndexToTick(idx uint32, rootWidth uint32, spacing int24) int24 {
	return (int24(idx) - int24(rootWidth/2)) * spacing
}

// ComputeRootWidth derives the tree's root width from the market's tick
// bounds: the largest power-of-two half width that fits below |minTick|/
// spacing, doubled. The half width must still leave room on the positive
// side, otherwise the bounds cannot share one centered tree.
func ComputeRootWidth(minTick, maxTick int24, spacing int24) (uint32, error) {
	if spacing <= 0 || minTick >= 0 || maxTick <= 0 {
		return 0, fmt.Errorf("%w: min=%d max=%d spacing=%d", ErrIncompatibleRange, minTick, maxTick, spacing)
	}
	negRange := uint32(-(minTick / spacing))
	posRange := uint32(maxTick / spacing)

	halfWidth := HighestSetBit(negRange)
	if halfWidth == 0 || halfWidth >= posRange {
		return 0, fmt.Errorf("%w: halfWidth=%d posRange=%d", ErrIncompatibleRange, halfWidth, posRange)
	}
	return 2 * halfWidth, nil
}
