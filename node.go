// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"
)

// Node is the aggregated state of one canonical tree node. Nodes are
// materialized on first touch and never deleted: a node that drops back to
// zero liquidity keeps its fee accumulators, so checkpoint history stays
// coherent across full withdrawals.
type Node struct {
	// SelfLiquidity is maker liquidity deposited directly at this node.
	SelfLiquidity *big.Int

	// SubtreeLiquidity aggregates SelfLiquidity of this node and every
	// descendant. Maintained incrementally on each delta, never by sweep.
	SubtreeLiquidity *big.Int

	// SelfBorrowed is taker liquidity borrowed directly at this node.
	SelfBorrowed *big.Int

	// SubtreeBorrowed aggregates SelfBorrowed over the subtree.
	SubtreeBorrowed *big.Int

	// FeeGrowth0/1 are per-unit-liquidity fee accumulators (Q128).
	// Monotonically non-decreasing; swap fees and taker reservation fees
	// share these accumulators.
	FeeGrowth0 *big.Int
	FeeGrowth1 *big.Int
}

// NewNode returns a zeroed node.
func NewNode() *Node {
	return &Node{
		SelfLiquidity:    big.NewInt(0),
		SubtreeLiquidity: big.NewInt(0),
		SelfBorrowed:     big.NewInt(0),
		SubtreeBorrowed:  big.NewInt(0),
		FeeGrowth0:       big.NewInt(0),
		FeeGrowth1:       big.NewInt(0),
	}
}

// Clone deep-copies a node for transactional staging.
func (n *Node) Clone() *Node {
	return &Node{
		SelfLiquidity:    new(big.Int).Set(n.SelfLiquidity),
		SubtreeLiquidity: new(big.Int).Set(n.SubtreeLiquidity),
		SelfBorrowed:     new(big.Int).Set(n.SelfBorrowed),
		SubtreeBorrowed:  new(big.Int).Set(n.SubtreeBorrowed),
		FeeGrowth0:       new(big.Int).Set(n.FeeGrowth0),
		FeeGrowth1:       new(big.Int).Set(n.FeeGrowth1),
	}
}

// NodeStore is the per-market keyed arena of tree nodes. Parent/child
// relations are computed from the Key, never stored as links.
type NodeStore struct {
	rootWidth uint32
	spacing   int24
	nodes     map[Key]*Node
}

// NewNodeStore creates the arena for a market whose coordinate system is
// already fixed.
func NewNodeStore(rootWidth uint32, spacing int24) *NodeStore {
	return &NodeStore{
		rootWidth: rootWidth,
		spacing:   spacing,
		nodes:     make(map[Key]*Node),
	}
}

// RootWidth returns the fixed tree width.
func (s *NodeStore) RootWidth() uint32 { return s.rootWidth }

// Spacing returns the market tick spacing.
func (s *NodeStore) Spacing() int24 { return s.spacing }

// Get returns the node for key, or nil if it was never touched.
func (s *NodeStore) Get(key Key) *Node {
	return s.nodes[key]
}

// Len returns the number of materialized nodes.
func (s *NodeStore) Len() int { return len(s.nodes) }

// ForEach visits every materialized node. Iteration order is unspecified.
func (s *NodeStore) ForEach(fn func(Key, *Node)) {
	for k, n := range s.nodes {
		fn(k, n)
	}
}

// storeTx is a copy-on-write overlay over a NodeStore. All mutations of one
// operation are staged here and either committed in one step or discarded,
// so an aborted traversal never leaves a partially updated node behind.
type storeTx struct {
	store   *NodeStore
	staged  map[Key]*Node
	touched []Key // keys in first-touch order, for deterministic commit
}

func (s *NodeStore) begin() *storeTx {
	return &storeTx{
		store:  s,
		staged: make(map[Key]*Node),
	}
}

// node returns a mutable staged copy of the node at key, materializing a
// zero node on first touch.
func (tx *storeTx) node(key Key) *Node {
	if n, ok := tx.staged[key]; ok {
		return n
	}
	var n *Node
	if base := tx.store.nodes[key]; base != nil {
		n = base.Clone()
	} else {
		n = NewNode()
	}
	tx.staged[key] = n
	tx.touched = append(tx.touched, key)
	return n
}

// peek reads the current (staged or committed) node without cloning.
// Returns nil for never-touched nodes.
func (tx *storeTx) peek(key Key) *Node {
	if n, ok := tx.staged[key]; ok {
		return n
	}
	return tx.store.nodes[key]
}

// commit publishes every staged node into the arena.
func (tx *storeTx) commit() {
	for _, key := range tx.touched {
		tx.store.nodes[key] = tx.staged[key]
	}
	tx.staged = nil
	tx.touched = nil
}

// applyLiquidityDelta changes maker self-liquidity at key and adjusts the
// subtree aggregate of the node and every ancestor up to the root in the
// same pass. The node's own liquidity is updated before any ancestor
// aggregate.
func (tx *storeTx) applyLiquidityDelta(key Key, delta *big.Int) error {
	if delta.Sign() == 0 {
		return nil
	}
	n := tx.node(key)
	next := new(big.Int).Add(n.SelfLiquidity, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: node %s self=%s delta=%s", ErrNegativeLiquidity, key, n.SelfLiquidity, delta)
	}
	if delta.Sign() < 0 {
		if err := tx.checkWithdrawCoverage(key, delta); err != nil {
			return err
		}
	}
	n.SelfLiquidity = next
	n.SubtreeLiquidity = new(big.Int).Add(n.SubtreeLiquidity, delta)

	for k := key; !k.IsRoot(tx.store.rootWidth); {
		k = k.Parent()
		a := tx.node(k)
		a.SubtreeLiquidity = new(big.Int).Add(a.SubtreeLiquidity, delta)
	}
	return nil
}

// applyBorrowDelta changes taker borrowed liquidity at key, enforcing the
// solvency bound before any borrow-increasing mutation, and propagates the
// subtree borrow aggregate to every ancestor.
func (tx *storeTx) applyBorrowDelta(key Key, delta *big.Int) error {
	if delta.Sign() == 0 {
		return nil
	}
	if delta.Sign() > 0 {
		avail := tx.availableAt(key)
		if delta.Cmp(avail) > 0 {
			return fmt.Errorf("%w: node %s available=%s requested=%s", ErrInsufficientLiquidity, key, avail, delta)
		}
	}
	n := tx.node(key)
	next := new(big.Int).Add(n.SelfBorrowed, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: node %s borrowed=%s delta=%s", ErrNegativeLiquidity, key, n.SelfBorrowed, delta)
	}
	n.SelfBorrowed = next
	n.SubtreeBorrowed = new(big.Int).Add(n.SubtreeBorrowed, delta)

	for k := key; !k.IsRoot(tx.store.rootWidth); {
		k = k.Parent()
		a := tx.node(k)
		a.SubtreeBorrowed = new(big.Int).Add(a.SubtreeBorrowed, delta)
	}
	return nil
}

// availableAt returns the maker liquidity spanning the whole of key's range
// that is not already lent out: the path sum of (self maker - self borrowed)
// over the node and its ancestors. Maker liquidity deposited strictly below
// key does not cover key's full span and is deliberately not counted.
func (tx *storeTx) availableAt(key Key) *big.Int {
	avail := new(big.Int)
	for k := key; ; k = k.Parent() {
		if n := tx.peek(k); n != nil {
			avail.Add(avail, n.SelfLiquidity)
			avail.Sub(avail, n.SelfBorrowed)
		}
		if k.IsRoot(tx.store.rootWidth) {
			break
		}
	}
	return avail
}

// pathMakerLiquidity returns the sum of self maker liquidity over key and
// its ancestors: the liquidity covering key's full span, which is the base
// a borrow at key is charged against.
func (tx *storeTx) pathMakerLiquidity(key Key) *big.Int {
	total := new(big.Int)
	for k := key; ; k = k.Parent() {
		if n := tx.peek(k); n != nil {
			total.Add(total, n.SelfLiquidity)
		}
		if k.IsRoot(tx.store.rootWidth) {
			break
		}
	}
	return total
}

// checkWithdrawCoverage rejects a maker withdrawal at key that would leave
// outstanding borrows under-covered. The demand bound counts borrows on the
// ancestor path plus every borrow inside key's subtree; summing disjoint
// sub-span borrows overstates demand, so the check is conservative and O(log).
func (tx *storeTx) checkWithdrawCoverage(key Key, delta *big.Int) error {
	supply := new(big.Int).Add(tx.availableAt(key), delta) // delta < 0
	var demand *big.Int
	if n := tx.peek(key); n != nil {
		// Subtree borrows below key, excluding key's own (already netted
		// in availableAt).
		demand = new(big.Int).Sub(n.SubtreeBorrowed, n.SelfBorrowed)
	} else {
		demand = new(big.Int)
	}
	if supply.Cmp(demand) < 0 {
		return fmt.Errorf("%w: node %s coverage=%s demand=%s", ErrInsufficientLiquidity, key, supply, demand)
	}
	return nil
}

// accrueFees adds per-liquidity fee growth (Q128) to a node's accumulators.
// Accumulators only ever increase.
func (tx *storeTx) accrueFees(key Key, growth0, growth1 *big.Int) {
	if growth0.Sign() == 0 && growth1.Sign() == 0 {
		return
	}
	n := tx.node(key)
	if growth0.Sign() > 0 {
		n.FeeGrowth0 = new(big.Int).Add(n.FeeGrowth0, growth0)
	}
	if growth1.Sign() > 0 {
		n.FeeGrowth1 = new(big.Int).Add(n.FeeGrowth1, growth1)
	}
}
