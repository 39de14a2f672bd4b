// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"math/big"
	"testing"
)

// =========================================================================
// Range Decomposition Tests
// =========================================================================

func TestDecomposeRange_Empty(t *testing.T) {
	keys, err := DecomposeRange(5, 5, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys for empty range, got %d", len(keys))
	}
}

func TestDecomposeRange_FullRoot(t *testing.T) {
	keys, err := DecomposeRange(0, 16, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 || keys[0] != mustKey(0, 16) {
		t.Errorf("expected single root node, got %v", keys)
	}
}

func TestDecomposeRange_Canonical(t *testing.T) {
	// [2,14) of a 16-wide tree peels left-first into four blocks.
	keys, err := DecomposeRange(2, 14, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []Key{mustKey(2, 2), mustKey(4, 4), mustKey(8, 4), mustKey(12, 2)}
	if len(keys) != len(expected) {
		t.Fatalf("expected %d keys, got %d: %v", len(expected), len(keys), keys)
	}
	for i, k := range expected {
		if keys[i] != k {
			t.Errorf("key %d: expected %v, got %v", i, k, keys[i])
		}
	}
}

func TestDecomposeRange_Rejects(t *testing.T) {
	if _, err := DecomposeRange(10, 2, 16); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := DecomposeRange(0, 32, 16); err == nil {
		t.Error("expected error for range past root")
	}
}

// Every decomposition must tile the range exactly: disjoint canonical
// nodes, consecutive, covering [low, high) with nothing left over, within
// the 2*log2(rootWidth) node bound.
func TestDecomposeRange_TilesExactly(t *testing.T) {
	const rootWidth = 256
	maxNodes := 2 * HighestBitIndex(rootWidth)

	for low := uint32(0); low <= rootWidth; low += 7 {
		for high := low; high <= rootWidth; high += 13 {
			keys, err := DecomposeRange(low, high, rootWidth)
			if err != nil {
				t.Fatalf("[%d,%d): %v", low, high, err)
			}
			if len(keys) > maxNodes {
				t.Errorf("[%d,%d): %d nodes exceeds bound %d", low, high, len(keys), maxNodes)
			}

			cursor := low
			for _, k := range keys {
				base, width := DecodeKey(k)
				if base != cursor {
					t.Fatalf("[%d,%d): gap or overlap at %d, node %v", low, high, cursor, k)
				}
				if !IsPow2(width) || base%width != 0 {
					t.Fatalf("[%d,%d): non-canonical node %v", low, high, k)
				}
				cursor = base + width
			}
			if cursor != high {
				t.Errorf("[%d,%d): cover stops at %d", low, high, cursor)
			}
		}
	}
}

// The decomposition is a pure function of the range: add and remove paths
// see identical node sets, so checkpoints always line up.
func TestDecomposeRange_Deterministic(t *testing.T) {
	a, _ := DecomposeRange(3, 201, 256)
	b, _ := DecomposeRange(3, 201, 256)
	if len(a) != len(b) {
		t.Fatalf("nondeterministic length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("key %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

// =========================================================================
// Walker Tests
// =========================================================================

func newTestStore() *NodeStore {
	return NewNodeStore(16384, 60)
}

func testAsset(kind AssetKind, tickLower, tickUpper int24, liquidity int64) *Asset {
	return &Asset{
		Kind:       kind,
		TickLower:  tickLower,
		TickUpper:  tickUpper,
		Liquidity:  big.NewInt(liquidity),
		Collateral: big.NewInt(0),
	}
}

func runModify(t *testing.T, store *NodeStore, asset *Asset, delta int64, now int64) *walkResult {
	t.Helper()
	market := &Market{
		Info:          MarketInfo{SqrtPriceX96: new(big.Int).Set(Q96), TickSpacing: 60},
		store:         store,
		ProtocolFees0: big.NewInt(0),
		ProtocolFees1: big.NewInt(0),
	}
	tx := store.begin()
	ckpt := beginCheckpoints(asset)
	w := newWalker(market, tx, ckpt, DefaultFeeCurve(), now)
	res, err := w.modify(asset, big.NewInt(delta), false)
	if err != nil {
		t.Fatalf("modify failed: %v", err)
	}
	tx.commit()
	ckpt.commit()
	return res
}

func TestWalker_MakerDepositUpdatesPath(t *testing.T) {
	store := newTestStore()
	asset := testAsset(AssetMaker, -600, 600, 1_000_000)

	res := runModify(t, store, asset, 1_000_000, 1000)

	if len(res.visited) == 0 {
		t.Fatal("no nodes visited")
	}
	// Every visited node holds the full delta as self liquidity.
	for _, key := range res.visited {
		n := store.Get(key)
		if n == nil {
			t.Fatalf("node %v not materialized", key)
		}
		if n.SelfLiquidity.Cmp(big.NewInt(1_000_000)) != 0 {
			t.Errorf("node %v: self liquidity %v", key, n.SelfLiquidity)
		}
	}
	// The root subtree aggregate sees delta times the visited node count.
	root := store.Get(mustKey(0, store.rootWidth))
	want := big.NewInt(1_000_000 * int64(len(res.visited)))
	if root == nil || root.SubtreeLiquidity.Cmp(want) != 0 {
		t.Errorf("root subtree liquidity: got %v, want %v", root.SubtreeLiquidity, want)
	}
}

// The subtree aggregate of any parent equals its self liquidity plus its
// children's subtree aggregates, at every materialized node.
func TestWalker_SubtreeInvariant(t *testing.T) {
	store := newTestStore()
	runModify(t, store, testAsset(AssetMaker, -600, 600, 500), 500, 1000)
	runModify(t, store, testAsset(AssetMaker, -1200, 300, 700), 700, 1000)
	runModify(t, store, testAsset(AssetMaker, 0, 2400, 900), 900, 1000)

	store.ForEach(func(key Key, n *Node) {
		if key.Width() == 1 {
			return
		}
		left, right := key.Children()
		sum := new(big.Int).Set(n.SelfLiquidity)
		if ln := store.Get(left); ln != nil {
			sum.Add(sum, ln.SubtreeLiquidity)
		}
		if rn := store.Get(right); rn != nil {
			sum.Add(sum, rn.SubtreeLiquidity)
		}
		if sum.Cmp(n.SubtreeLiquidity) != 0 {
			t.Errorf("node %v: subtree %v != self+children %v", key, n.SubtreeLiquidity, sum)
		}
	})
}

func TestWalker_DepositThenWithdrawRestoresZero(t *testing.T) {
	store := newTestStore()
	asset := testAsset(AssetMaker, -600, 600, 0)

	runModify(t, store, asset, 1_000_000, 1000)
	asset.Liquidity = big.NewInt(1_000_000)
	runModify(t, store, asset, -1_000_000, 2000)

	store.ForEach(func(key Key, n *Node) {
		if n.SelfLiquidity.Sign() != 0 || n.SubtreeLiquidity.Sign() != 0 {
			t.Errorf("node %v: residual liquidity self=%v subtree=%v", key, n.SelfLiquidity, n.SubtreeLiquidity)
		}
	})
}

func TestWalker_TakerRequiresCoveringMakers(t *testing.T) {
	store := newTestStore()
	market := &Market{
		Info:          MarketInfo{SqrtPriceX96: new(big.Int).Set(Q96), TickSpacing: 60},
		store:         store,
		ProtocolFees0: big.NewInt(0),
		ProtocolFees1: big.NewInt(0),
	}
	taker := testAsset(AssetTaker, -600, 600, 1000)

	tx := store.begin()
	ckpt := beginCheckpoints(taker)
	w := newWalker(market, tx, ckpt, DefaultFeeCurve(), 1000)

	if _, err := w.modify(taker, big.NewInt(1000), false); err == nil {
		t.Fatal("expected borrow against empty tree to fail")
	}
	// Nothing staged may have leaked.
	if store.Len() != 0 {
		t.Errorf("aborted borrow leaked %d nodes", store.Len())
	}
}

func TestWalker_TakerBorrowAndRepay(t *testing.T) {
	store := newTestStore()
	maker := testAsset(AssetMaker, -600, 600, 5000)
	runModify(t, store, maker, 5000, 1000)

	taker := testAsset(AssetTaker, -600, 600, 0)
	runModify(t, store, taker, 2000, 1000)

	for _, key := range mustDecompose(t, store, -600, 600) {
		n := store.Get(key)
		if n.SelfBorrowed.Cmp(big.NewInt(2000)) != 0 {
			t.Errorf("node %v: borrowed %v", key, n.SelfBorrowed)
		}
	}

	taker.Liquidity = big.NewInt(2000)
	runModify(t, store, taker, -2000, 2000)
	store.ForEach(func(key Key, n *Node) {
		if n.SelfBorrowed.Sign() != 0 || n.SubtreeBorrowed.Sign() != 0 {
			t.Errorf("node %v: residual borrow", key)
		}
	})
}

func TestWalker_MakerWithdrawBlockedByBorrow(t *testing.T) {
	store := newTestStore()
	maker := testAsset(AssetMaker, -600, 600, 5000)
	runModify(t, store, maker, 5000, 1000)

	taker := testAsset(AssetTaker, -600, 600, 0)
	runModify(t, store, taker, 4000, 1000)

	market := &Market{
		Info:          MarketInfo{SqrtPriceX96: new(big.Int).Set(Q96), TickSpacing: 60},
		store:         store,
		ProtocolFees0: big.NewInt(0),
		ProtocolFees1: big.NewInt(0),
	}
	maker.Liquidity = big.NewInt(5000)
	tx := store.begin()
	ckpt := beginCheckpoints(maker)
	w := newWalker(market, tx, ckpt, DefaultFeeCurve(), 2000)

	if _, err := w.modify(maker, big.NewInt(-2000), false); err == nil {
		t.Fatal("expected withdrawal past lent-out liquidity to fail")
	}
	// Withdrawing within the uncommitted remainder is fine.
	tx2 := store.begin()
	ckpt2 := beginCheckpoints(maker)
	w2 := newWalker(market, tx2, ckpt2, DefaultFeeCurve(), 2000)
	if _, err := w2.modify(maker, big.NewInt(-1000), false); err != nil {
		t.Fatalf("covered withdrawal rejected: %v", err)
	}
}

func TestWalker_ReservationAccrual(t *testing.T) {
	store := newTestStore()
	maker := testAsset(AssetMaker, -600, 600, 10_000_000)
	runModify(t, store, maker, 10_000_000, 0)

	taker := testAsset(AssetTaker, -600, 600, 0)
	runModify(t, store, taker, 4_000_000, 0)
	taker.Liquidity = big.NewInt(4_000_000)

	market := &Market{
		Info:          MarketInfo{SqrtPriceX96: new(big.Int).Set(Q96), TickSpacing: 60},
		store:         store,
		ProtocolFees0: big.NewInt(0),
		ProtocolFees1: big.NewInt(0),
	}
	tx := store.begin()
	ckpt := beginCheckpoints(taker)
	w := newWalker(market, tx, ckpt, DefaultFeeCurve(), 0)

	keys := mustDecompose(t, store, -600, 600)

	// Zero elapsed accrues nothing.
	fee, err := w.accrueReservation(taker, keys, 0)
	if err != nil {
		t.Fatalf("accrue failed: %v", err)
	}
	if fee.Sign() != 0 {
		t.Errorf("zero elapsed accrued %v", fee)
	}

	// A year at 40% utilization accrues a positive fee and credits LP
	// growth along the path.
	fee, err = w.accrueReservation(taker, keys, 365*24*3600)
	if err != nil {
		t.Fatalf("accrue failed: %v", err)
	}
	if fee.Sign() <= 0 {
		t.Fatal("expected positive reservation fee over a year")
	}
	if w.proto0.Sign() <= 0 {
		t.Error("expected staged protocol share")
	}
	grew := false
	for _, key := range keys {
		if n := tx.peek(key); n != nil && n.FeeGrowth0.Sign() > 0 {
			grew = true
		}
	}
	if !grew {
		t.Error("expected fee growth credited to borrowed nodes")
	}
}

func mustDecompose(t *testing.T, store *NodeStore, tickLower, tickUpper int24) []Key {
	t.Helper()
	low, err := TickToIndex(tickLower, store.rootWidth, store.spacing)
	if err != nil {
		t.Fatal(err)
	}
	high, err := TickToIndex(tickUpper, store.rootWidth, store.spacing)
	if err != nil {
		t.Fatal(err)
	}
	keys, err := DecomposeRange(low, high, store.rootWidth)
	if err != nil {
		t.Fatal(err)
	}
	return keys
}
