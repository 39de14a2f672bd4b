// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"math/big"
)

// FeeCurve maps node utilization (borrowed / total maker liquidity) to the
// protocol/LP fee split and to the taker reservation rate. The reservation
// rate uses a two-slope kink model:
// Rate = BaseRate + Utilization * Slope1 (below kink)
// Rate = BaseRate + Kink * Slope1 + (Utilization - Kink) * Slope2 (above kink)
//
// Low utilization keeps borrowing cheap; past the kink the rate climbs
// steeply so takers release liquidity makers want back.
type FeeCurve struct {
	// Base annual rate at 0% utilization (scaled by 1e18)
	BaseRate *big.Int

	// Slope of rate increase below optimal utilization (scaled by 1e18)
	Slope1 *big.Int

	// Slope of rate increase above optimal utilization (scaled by 1e18)
	Slope2 *big.Int

	// Optimal utilization / kink point (scaled by 1e18, 0.8e18 = 80%)
	OptimalUtilization *big.Int

	// Protocol share of fee income at 0% utilization (scaled by 1e18).
	// The share tapers linearly to ProtocolShareMin at 100% utilization:
	// high utilization shifts fee income toward makers as borrow
	// compensation.
	ProtocolShareMax *big.Int
	ProtocolShareMin *big.Int

	// JITWindow is the holding period (seconds) under which maker fee
	// credit is discounted, decaying linearly to full credit at the
	// window boundary.
	JITWindow int64
}

// DefaultFeeCurve returns the standard curve:
// - 1% base reservation rate
// - 9% slope below kink, 120% above
// - 80% optimal utilization
// - protocol share tapering 20% -> 5%
// - 10 minute JIT window
func DefaultFeeCurve() *FeeCurve {
	return &FeeCurve{
		BaseRate:           pct(1),
		Slope1:             pct(9),
		Slope2:             pct(120),
		OptimalUtilization: pct(80),
		ProtocolShareMax:   pct(20),
		ProtocolShareMin:   pct(5),
		JITWindow:          600,
	}
}

// StableFeeCurve returns a curve tuned for low-volatility markets.
func StableFeeCurve() *FeeCurve {
	return &FeeCurve{
		BaseRate:           big.NewInt(0),
		Slope1:             pct(4),
		Slope2:             pct(60),
		OptimalUtilization: pct(90),
		ProtocolShareMax:   pct(15),
		ProtocolShareMin:   pct(5),
		JITWindow:          300,
	}
}

// pct returns n% scaled by 1e18.
func pct(n int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), RAY)
	return v.Div(v, big.NewInt(100))
}

// Utilization returns borrowed * RAY / total, capped at RAY. Zero total
// with outstanding borrows reads as full utilization.
func (c *FeeCurve) Utilization(borrowed, total *big.Int) *big.Int {
	if borrowed.Sign() == 0 {
		return big.NewInt(0)
	}
	if total.Sign() <= 0 {
		return new(big.Int).Set(RAY)
	}
	u := new(big.Int).Mul(borrowed, RAY)
	u.Div(u, total)
	if u.Cmp(RAY) > 0 {
		return new(big.Int).Set(RAY)
	}
	return u
}

// ReservationRate returns the annual reservation rate (scaled by 1e18) at
// the given utilization.
func (c *FeeCurve) ReservationRate(utilization *big.Int) *big.Int {
	if utilization.Cmp(c.OptimalUtilization) <= 0 {
		rate := new(big.Int).Mul(utilization, c.Slope1)
		rate.Div(rate, RAY)
		rate.Add(rate, c.BaseRate)
		return rate
	}

	normalRate := new(big.Int).Mul(c.OptimalUtilization, c.Slope1)
	normalRate.Div(normalRate, RAY)
	normalRate.Add(normalRate, c.BaseRate)

	excess := new(big.Int).Sub(utilization, c.OptimalUtilization)
	excessRate := new(big.Int).Mul(excess, c.Slope2)
	excessRate.Div(excessRate, RAY)

	return normalRate.Add(normalRate, excessRate)
}

// AccrueReservation computes the reservation fee owed for borrowed
// liquidity held over elapsed seconds:
// borrowed * widthFactor * rate(utilization) * elapsed / year.
// widthFactor (scaled by 1e18) widens the charge for ranges spanning more
// of the tree. Zero elapsed time accrues zero.
func (c *FeeCurve) AccrueReservation(borrowed, widthFactor, utilization *big.Int, elapsed int64) *big.Int {
	if elapsed <= 0 || borrowed.Sign() <= 0 {
		return big.NewInt(0)
	}
	rate := c.ReservationRate(utilization)

	fee := new(big.Int).Mul(borrowed, rate)
	fee.Mul(fee, big.NewInt(elapsed))
	fee.Div(fee, SecondsPerYear)
	fee.Div(fee, RAY)

	fee.Mul(fee, widthFactor)
	fee.Div(fee, RAY)
	return fee
}

// ProtocolShare returns the protocol's share of fee income (scaled by 1e18)
// at the given utilization, tapering linearly from ProtocolShareMax toward
// ProtocolShareMin as utilization rises.
func (c *FeeCurve) ProtocolShare(utilization *big.Int) *big.Int {
	span := new(big.Int).Sub(c.ProtocolShareMax, c.ProtocolShareMin)
	taper := new(big.Int).Mul(span, utilization)
	taper.Div(taper, RAY)
	return new(big.Int).Sub(c.ProtocolShareMax, taper)
}

// SplitFee divides a fee amount into (lp, protocol) portions.
func (c *FeeCurve) SplitFee(fee, utilization *big.Int) (lp, protocol *big.Int) {
	if fee.Sign() <= 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	share := c.ProtocolShare(utilization)
	protocol = new(big.Int).Mul(fee, share)
	protocol.Div(protocol, RAY)
	lp = new(big.Int).Sub(fee, protocol)
	return lp, protocol
}

// JITPenalty returns the fee-credit factor (scaled by 1e18) for maker
// liquidity held for heldFor seconds: heldFor/JITWindow, capped at full
// credit. Liquidity added just before fees arrive earns proportionally
// less, discouraging fee front-running.
func (c *FeeCurve) JITPenalty(heldFor int64) *big.Int {
	if c.JITWindow <= 0 || heldFor >= c.JITWindow {
		return new(big.Int).Set(RAY)
	}
	if heldFor <= 0 {
		return big.NewInt(0)
	}
	f := new(big.Int).Mul(RAY, big.NewInt(heldFor))
	return f.Div(f, big.NewInt(c.JITWindow))
}

// WidthFactor returns the range-width factor (scaled by 1e18) for a range
// covering spanIndexes of a rootWidth tree: 1 + span/root, so borrowing the
// whole tree costs up to twice the base rate.
func WidthFactor(spanIndexes, rootWidth uint32) *big.Int {
	if rootWidth == 0 {
		return new(big.Int).Set(RAY)
	}
	extra := new(big.Int).Mul(RAY, big.NewInt(int64(spanIndexes)))
	extra.Div(extra, big.NewInt(int64(rootWidth)))
	return extra.Add(extra, RAY)
}
