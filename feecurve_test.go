// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"math/big"
	"testing"
)

// =========================================================================
// Fee Curve Tests
// =========================================================================

func TestFeeCurve_Default(t *testing.T) {
	curve := DefaultFeeCurve()

	if curve.BaseRate.Cmp(pct(1)) != 0 {
		t.Errorf("base rate: %v", curve.BaseRate)
	}
	if curve.OptimalUtilization.Cmp(pct(80)) != 0 {
		t.Errorf("kink: %v", curve.OptimalUtilization)
	}
	if curve.JITWindow != 600 {
		t.Errorf("jit window: %d", curve.JITWindow)
	}
}

func TestFeeCurve_Utilization(t *testing.T) {
	curve := DefaultFeeCurve()

	if curve.Utilization(big.NewInt(0), big.NewInt(1000)).Sign() != 0 {
		t.Error("no borrows must read 0%")
	}

	half := curve.Utilization(big.NewInt(500), big.NewInt(1000))
	if half.Cmp(new(big.Int).Div(RAY, big.NewInt(2))) != 0 {
		t.Errorf("expected 50%%, got %v", half)
	}

	// Borrows against zero covering liquidity read fully utilized, and
	// the ratio caps at 100%.
	if curve.Utilization(big.NewInt(10), big.NewInt(0)).Cmp(RAY) != 0 {
		t.Error("zero total with borrows must read 100%")
	}
	if curve.Utilization(big.NewInt(2000), big.NewInt(1000)).Cmp(RAY) != 0 {
		t.Error("utilization must cap at 100%")
	}
}

func TestFeeCurve_RateBelowKink(t *testing.T) {
	curve := DefaultFeeCurve()

	// 40% utilization: 1% + 0.4*9% = 4.6%
	rate := curve.ReservationRate(pct(40))
	expected := new(big.Int).Add(pct(1), new(big.Int).Div(new(big.Int).Mul(pct(9), pct(40)), RAY))
	if rate.Cmp(expected) != 0 {
		t.Errorf("expected %v, got %v", expected, rate)
	}
}

func TestFeeCurve_RateAboveKink(t *testing.T) {
	curve := DefaultFeeCurve()

	atKink := curve.ReservationRate(pct(80))
	above := curve.ReservationRate(pct(90))

	// 10% past the kink at 120% slope adds 12%.
	jump := new(big.Int).Sub(above, atKink)
	if jump.Cmp(pct(12)) != 0 {
		t.Errorf("expected 12%% jump past kink, got %v", jump)
	}

	// The curve is monotonically increasing through the kink.
	if above.Cmp(atKink) <= 0 || atKink.Cmp(curve.ReservationRate(pct(40))) <= 0 {
		t.Error("rate must increase with utilization")
	}
}

func TestFeeCurve_AccrueReservation(t *testing.T) {
	curve := DefaultFeeCurve()
	borrowed := big.NewInt(1_000_000)

	if curve.AccrueReservation(borrowed, RAY, pct(50), 0).Sign() != 0 {
		t.Error("zero elapsed must accrue zero")
	}
	if curve.AccrueReservation(big.NewInt(0), RAY, pct(50), 3600).Sign() != 0 {
		t.Error("zero borrow must accrue zero")
	}

	// A full year at 50% utilization: 1% + 0.5*9% = 5.5% of 1M = 55000.
	year := int64(31536000)
	fee := curve.AccrueReservation(borrowed, RAY, pct(50), year)
	if fee.Cmp(big.NewInt(55000)) != 0 {
		t.Errorf("expected 55000, got %v", fee)
	}

	// Doubling the width factor doubles the fee.
	double := curve.AccrueReservation(borrowed, new(big.Int).Mul(RAY, big.NewInt(2)), pct(50), year)
	if double.Cmp(new(big.Int).Mul(fee, big.NewInt(2))) != 0 {
		t.Errorf("width factor not proportional: %v vs %v", double, fee)
	}
}

func TestFeeCurve_ProtocolShareTaper(t *testing.T) {
	curve := DefaultFeeCurve()

	if curve.ProtocolShare(big.NewInt(0)).Cmp(pct(20)) != 0 {
		t.Error("idle share must be the max")
	}
	if curve.ProtocolShare(RAY).Cmp(pct(5)) != 0 {
		t.Error("full utilization share must be the min")
	}

	// Halfway: 20% - 0.5*(20%-5%) = 12.5%
	mid := curve.ProtocolShare(pct(50))
	expected := new(big.Int).Div(new(big.Int).Mul(big.NewInt(125), RAY), big.NewInt(1000))
	if mid.Cmp(expected) != 0 {
		t.Errorf("expected 12.5%%, got %v", mid)
	}
}

func TestFeeCurve_SplitFee(t *testing.T) {
	curve := DefaultFeeCurve()

	lp, protocol := curve.SplitFee(big.NewInt(10000), big.NewInt(0))
	if protocol.Cmp(big.NewInt(2000)) != 0 || lp.Cmp(big.NewInt(8000)) != 0 {
		t.Errorf("split at idle: lp=%v protocol=%v", lp, protocol)
	}
	if sum := new(big.Int).Add(lp, protocol); sum.Cmp(big.NewInt(10000)) != 0 {
		t.Errorf("split must conserve the fee, got %v", sum)
	}

	lp, protocol = curve.SplitFee(big.NewInt(0), pct(50))
	if lp.Sign() != 0 || protocol.Sign() != 0 {
		t.Error("zero fee must split to zero")
	}
}

func TestFeeCurve_JITPenalty(t *testing.T) {
	curve := DefaultFeeCurve()

	if curve.JITPenalty(0).Sign() != 0 {
		t.Error("instant harvest gets no credit")
	}
	if curve.JITPenalty(600).Cmp(RAY) != 0 {
		t.Error("window boundary gets full credit")
	}
	if curve.JITPenalty(7200).Cmp(RAY) != 0 {
		t.Error("long holds get full credit")
	}

	// Half the window earns half credit.
	if curve.JITPenalty(300).Cmp(new(big.Int).Div(RAY, big.NewInt(2))) != 0 {
		t.Errorf("half window: %v", curve.JITPenalty(300))
	}
}

func TestWidthFactor(t *testing.T) {
	// Zero-span range pays the base factor.
	if WidthFactor(0, 16384).Cmp(RAY) != 0 {
		t.Error("zero span must be 1.0")
	}
	// Whole-tree range pays double.
	if WidthFactor(16384, 16384).Cmp(new(big.Int).Mul(RAY, big.NewInt(2))) != 0 {
		t.Error("full span must be 2.0")
	}
	// Half-tree is 1.5.
	expected := new(big.Int).Div(new(big.Int).Mul(big.NewInt(3), RAY), big.NewInt(2))
	if WidthFactor(8192, 16384).Cmp(expected) != 0 {
		t.Error("half span must be 1.5")
	}
}
