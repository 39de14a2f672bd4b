// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"math/big"

	"github.com/holiman/uint256"
)

// sqrtRatioConsts are sqrt(1.0001^(2^i)) factors in Q128, indexed by bit.
// Index 0 is the odd-tick factor, index 1 the even-tick initial value.
var sqrtRatioConsts = [21]*uint256.Int{
	uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
	uint256.MustFromHex("0x100000000000000000000000000000000"),
	uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
	uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
	uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
	uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
	uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
	uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
	uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
	uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
	uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
	uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
	uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
	uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
	uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
	uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
	uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
}

var uint256Max = new(uint256.Int).Not(uint256.NewInt(0))

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96 as a Q64.96 value
// (Uniswap v3 tick math on 256-bit words).
func SqrtRatioAtTick(tick int24) *big.Int {
	var absTick uint64
	if tick < 0 {
		absTick = uint64(-int64(tick))
	} else {
		absTick = uint64(tick)
	}

	ratio := new(uint256.Int)
	if absTick&1 != 0 {
		ratio.Set(sqrtRatioConsts[0])
	} else {
		ratio.Set(sqrtRatioConsts[1])
	}
	for i := 0; i < 19; i++ {
		if absTick&(1<<(i+1)) != 0 {
			ratio.Mul(ratio, sqrtRatioConsts[i+2])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(uint256Max, ratio)
	}

	// Round up on the Q128 -> Q96 truncation so the inverse direction
	// stays consistent.
	rem := new(uint256.Int).Mod(ratio, new(uint256.Int).Lsh(uint256.NewInt(1), 32))
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio.ToBig()
}

// TickAtSqrtRatio returns the largest tick whose sqrt ratio does not exceed
// sqrtPriceX96, by binary search over the exact forward function.
func TickAtSqrtRatio(sqrtPriceX96 *big.Int) int24 {
	if sqrtPriceX96 == nil || sqrtPriceX96.Cmp(MinSqrtRatio) <= 0 {
		return MinTick
	}
	if sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return MaxTick
	}
	low, high := MinTick, MaxTick
	for low < high {
		mid := low + (high-low+1)/2
		if SqrtRatioAtTick(mid).Cmp(sqrtPriceX96) <= 0 {
			low = mid
		} else {
			high = mid - 1
		}
	}
	return low
}

// Amount0ForLiquidity returns the token0 amount backing liquidity over
// [sqrtA, sqrtB]: L * 2^96 * (sqrtB - sqrtA) / (sqrtB * sqrtA).
func Amount0ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	if sqrtA.Sign() == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Lsh(liquidity, 96)
	num.Mul(num, new(big.Int).Sub(sqrtB, sqrtA))
	num.Div(num, sqrtB)
	return num.Div(num, sqrtA)
}

// Amount1ForLiquidity returns the token1 amount backing liquidity over
// [sqrtA, sqrtB]: L * (sqrtB - sqrtA) / 2^96.
func Amount1ForLiquidity(sqrtA, sqrtB, liquidity *big.Int) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	amount := new(big.Int).Mul(liquidity, new(big.Int).Sub(sqrtB, sqrtA))
	return amount.Div(amount, Q96)
}

// AmountsForLiquidity returns the (token0, token1) amounts backing
// liquidity over [sqrtA, sqrtB] at current price sqrtP: all token0 below
// the range, all token1 above it, split at sqrtP inside it.
func AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity *big.Int) (*big.Int, *big.Int) {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	switch {
	case sqrtP.Cmp(sqrtA) <= 0:
		return Amount0ForLiquidity(sqrtA, sqrtB, liquidity), big.NewInt(0)
	case sqrtP.Cmp(sqrtB) >= 0:
		return big.NewInt(0), Amount1ForLiquidity(sqrtA, sqrtB, liquidity)
	default:
		return Amount0ForLiquidity(sqrtP, sqrtB, liquidity),
			Amount1ForLiquidity(sqrtA, sqrtP, liquidity)
	}
}

// LiquidityForAmounts returns the largest liquidity fully backed by
// (amount0, amount1) over [sqrtA, sqrtB] at current price sqrtP. Used when
// compounding harvested fees back into a range.
func LiquidityForAmounts(sqrtP, sqrtA, sqrtB, amount0, amount1 *big.Int) *big.Int {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	switch {
	case sqrtP.Cmp(sqrtA) <= 0:
		return liquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtP.Cmp(sqrtB) >= 0:
		return liquidityForAmount1(sqrtA, sqrtB, amount1)
	default:
		l0 := liquidityForAmount0(sqrtP, sqrtB, amount0)
		l1 := liquidityForAmount1(sqrtA, sqrtP, amount1)
		if l0.Cmp(l1) < 0 {
			return l0
		}
		return l1
	}
}

func liquidityForAmount0(sqrtA, sqrtB, amount0 *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	l := new(big.Int).Mul(amount0, sqrtA)
	l.Mul(l, sqrtB)
	l.Div(l, Q96)
	return l.Div(l, diff)
}

func liquidityForAmount1(sqrtA, sqrtB, amount1 *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	l := new(big.Int).Mul(amount1, Q96)
	return l.Div(l, diff)
}
