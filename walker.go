// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"
)

// DecomposeRange splits the tree index range [low, high) into the minimal
// set of disjoint canonical nodes whose union is exactly the range. The
// walker peels left-first: at each step it takes the largest block both
// aligned to the current left boundary and fitting in what remains. The
// same rule applies on increase and decrease paths, so an asset's range
// always decomposes into the same keys and checkpoint accounting stays
// order-independent. At most 2*log2(rootWidth) nodes result.
func DecomposeRange(low, high, rootWidth uint32) ([]Key, error) {
	if low == high {
		return nil, nil
	}
	if low > high || high > rootWidth {
		return nil, fmt.Errorf("%w: [%d,%d) root=%d", ErrIndexOutOfRange, low, high, rootWidth)
	}

	keys := make([]Key, 0, 2*HighestBitIndex(rootWidth))
	for low < high {
		width := LowestSetBit(low)
		if width == 0 || width > rootWidth {
			width = rootWidth
		}
		if remaining := HighestSetBit(high - low); width > remaining {
			width = remaining
		}
		keys = append(keys, mustKey(low, width))
		low += width
	}
	return keys, nil
}

// MarketCall is one deferred underlying-market instruction produced by a
// traversal: the liquidity delta to mint (positive) or burn (negative)
// over one canonical node's tick sub-range. Settlement executes these only
// after inbound funds are secured.
type MarketCall struct {
	TickLower int24
	TickUpper int24
	Liquidity *big.Int // positive = mint, negative = burn
}

// walker applies one operation's liquidity delta and fee harvesting over a
// decomposed range, staging every mutation in the store and checkpoint
// transactions. Nothing the walker does is observable until both commit.
type walker struct {
	market *Market
	tx     *storeTx
	ckpt   *checkpointTx
	curve  *FeeCurve
	now    int64

	// Protocol fee income staged during the traversal, published to the
	// market only when the whole operation commits.
	proto0 *big.Int
	proto1 *big.Int
}

func newWalker(market *Market, tx *storeTx, ckpt *checkpointTx, curve *FeeCurve, now int64) *walker {
	return &walker{
		market: market,
		tx:     tx,
		ckpt:   ckpt,
		curve:  curve,
		now:    now,
		proto0: big.NewInt(0),
		proto1: big.NewInt(0),
	}
}

func (w *walker) stageProtocolFees(fee0, fee1 *big.Int) {
	w.proto0.Add(w.proto0, fee0)
	w.proto1.Add(w.proto1, fee1)
}

// walkResult carries what one traversal produced.
type walkResult struct {
	ledger  *Ledger
	visited []Key
	calls   []MarketCall
}

// modify decomposes the asset's tick range and, for each canonical node:
// harvests fees owed since the asset's last checkpoint, advances the
// checkpoint, applies the liquidity delta with ancestor propagation, and
// accumulates the token amounts implied by the node's tick sub-range. A
// zero delta performs a pure fee sync; closeOut additionally removes any
// compounded surplus at each node. delta may be nil for zero.
func (w *walker) modify(asset *Asset, delta *big.Int, closeOut bool) (*walkResult, error) {
	keys, err := w.decomposeAsset(asset)
	if err != nil {
		return nil, err
	}
	if delta == nil {
		delta = big.NewInt(0)
	}

	res := &walkResult{ledger: NewLedger(), visited: keys}
	for _, key := range keys {
		if err := w.visit(asset, key, delta, closeOut, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (w *walker) decomposeAsset(asset *Asset) ([]Key, error) {
	store := w.market.store
	lowIdx, err := TickToIndex(asset.TickLower, store.rootWidth, store.spacing)
	if err != nil {
		return nil, err
	}
	highIdx, err := TickToIndex(asset.TickUpper, store.rootWidth, store.spacing)
	if err != nil {
		return nil, err
	}
	if lowIdx > highIdx {
		return nil, fmt.Errorf("%w: [%d,%d)", ErrInvalidTickRange, asset.TickLower, asset.TickUpper)
	}
	return DecomposeRange(lowIdx, highIdx, store.rootWidth)
}

// visit processes one canonical node of the traversal.
func (w *walker) visit(asset *Asset, key Key, delta *big.Int, closeOut bool, res *walkResult) error {
	growth0, growth1 := currentGrowth(w.tx.peek(key))

	// The asset's liquidity at this node is its uniform base plus any
	// compounded surplus recorded on the checkpoint.
	nodeLiq := new(big.Int).Add(asset.Liquidity, w.ckpt.extra(key))

	// Harvest owed fees since the asset's last sync at this node, then
	// advance the checkpoint to the current accumulators. JIT discount
	// applies to maker credit on freshly deposited liquidity; the
	// withheld remainder stays with the protocol.
	heldFor := w.now - w.ckpt.depositTime(key)
	fee0, fee1 := w.ckpt.harvest(key, growth0, growth1, nodeLiq, w.now)
	if fee0.Sign() > 0 || fee1.Sign() > 0 {
		switch asset.Kind {
		case AssetMaker, AssetMakerCompounding:
			penalty := w.curve.JITPenalty(heldFor)
			withheld0 := new(big.Int).Set(fee0)
			withheld1 := new(big.Int).Set(fee1)
			fee0 = w.applyPenalty(fee0, penalty)
			fee1 = w.applyPenalty(fee1, penalty)
			withheld0.Sub(withheld0, fee0)
			withheld1.Sub(withheld1, fee1)
			w.stageProtocolFees(withheld0, withheld1)
		case AssetTaker:
			// Takers earn no fee credit; their checkpoints only anchor
			// reservation accounting.
			fee0, fee1 = big.NewInt(0), big.NewInt(0)
		}
		res.ledger.AddFees(fee0, fee1)
	}

	// Effective per-node delta: closing removes the compounded surplus
	// along with the base liquidity.
	effective := new(big.Int).Set(delta)
	if closeOut {
		effective.Sub(effective, w.ckpt.extra(key))
	}
	if effective.Sign() == 0 {
		return nil
	}

	switch asset.Kind {
	case AssetMaker, AssetMakerCompounding:
		if err := w.tx.applyLiquidityDelta(key, effective); err != nil {
			return err
		}
		if effective.Sign() > 0 {
			w.ckpt.markDeposit(key, growth0, growth1, w.now)
		}
	case AssetTaker:
		if err := w.tx.applyBorrowDelta(key, effective); err != nil {
			return err
		}
	}

	amount0, amount1 := w.nodeAmounts(key, effective, asset.Kind)
	res.ledger.AddAmounts(amount0, amount1)
	res.calls = append(res.calls, w.marketCall(key, effective, asset.Kind))
	return nil
}

// nodeAmounts computes the signed token amounts implied by applying delta
// over the node's tick sub-range at the market's current price. Maker
// deposits owe tokens to the protocol (positive); taker borrows release
// tokens to the caller (negative), mirrored on the reverse paths.
func (w *walker) nodeAmounts(key Key, delta *big.Int, kind AssetKind) (*big.Int, *big.Int) {
	sqrtA, sqrtB := w.nodeSqrtBounds(key)

	abs := new(big.Int).Abs(delta)
	amount0, amount1 := AmountsForLiquidity(w.market.Info.SqrtPriceX96, sqrtA, sqrtB, abs)

	neg := delta.Sign() < 0
	if kind == AssetTaker {
		neg = !neg
	}
	if neg {
		amount0.Neg(amount0)
		amount1.Neg(amount1)
	}
	return amount0, amount1
}

// marketCall translates the applied delta into the deferred underlying
// mint/burn for the node's tick sub-range. Maker adds and taker repays
// mint; maker removes and taker borrows burn.
func (w *walker) marketCall(key Key, delta *big.Int, kind AssetKind) MarketCall {
	store := w.market.store
	base, width := DecodeKey(key)
	liq := new(big.Int).Set(delta)
	if kind == AssetTaker {
		liq.Neg(liq)
	}
	return MarketCall{
		TickLower: IndexToTick(base, store.rootWidth, store.spacing),
		TickUpper: IndexToTick(base+width, store.rootWidth, store.spacing),
		Liquidity: liq,
	}
}

// nodeSqrtBounds returns the sqrt price bounds of a node's tick sub-range.
func (w *walker) nodeSqrtBounds(key Key) (*big.Int, *big.Int) {
	store := w.market.store
	base, width := DecodeKey(key)
	tickLower := IndexToTick(base, store.rootWidth, store.spacing)
	tickUpper := IndexToTick(base+width, store.rootWidth, store.spacing)
	return SqrtRatioAtTick(tickLower), SqrtRatioAtTick(tickUpper)
}

func (w *walker) applyPenalty(fee *big.Int, factor *big.Int) *big.Int {
	if fee.Sign() <= 0 || factor.Cmp(RAY) >= 0 {
		return fee
	}
	scaled := new(big.Int).Mul(fee, factor)
	return scaled.Div(scaled, RAY)
}

// currentGrowth reads a node's accumulators, zero for untouched nodes.
func currentGrowth(n *Node) (*big.Int, *big.Int) {
	if n == nil {
		return big.NewInt(0), big.NewInt(0)
	}
	return n.FeeGrowth0, n.FeeGrowth1
}

// accrueReservation charges the taker's reservation fee for elapsed time
// and credits the LP share into the fee accumulators of every node on the
// covering path of each borrowed node, per unit of covering maker
// liquidity. Borrow cost and swap fees flow through one accounting path.
// Reservation fees are denominated in token0. Returns the total charged,
// protocol share included.
func (w *walker) accrueReservation(asset *Asset, keys []Key, elapsed int64) (*big.Int, error) {
	if asset.Kind != AssetTaker || elapsed <= 0 || asset.Liquidity.Sign() == 0 {
		return big.NewInt(0), nil
	}
	store := w.market.store
	lowIdx, err := TickToIndex(asset.TickLower, store.rootWidth, store.spacing)
	if err != nil {
		return nil, err
	}
	highIdx, err := TickToIndex(asset.TickUpper, store.rootWidth, store.spacing)
	if err != nil {
		return nil, err
	}
	widthFactor := WidthFactor(highIdx-lowIdx, store.rootWidth)

	total := big.NewInt(0)
	for _, key := range keys {
		covering := w.tx.pathMakerLiquidity(key)
		borrowed := big.NewInt(0)
		if n := w.tx.peek(key); n != nil {
			borrowed = n.SelfBorrowed
		}
		utilization := w.curve.Utilization(borrowed, covering)

		fee := w.curve.AccrueReservation(asset.Liquidity, widthFactor, utilization, elapsed)
		if fee.Sign() == 0 {
			continue
		}
		total.Add(total, fee)

		lpFee, protocolFee := w.curve.SplitFee(fee, utilization)
		w.stageProtocolFees(protocolFee, big.NewInt(0))
		if covering.Sign() > 0 && lpFee.Sign() > 0 {
			growth := new(big.Int).Mul(lpFee, Q128)
			growth.Div(growth, covering)
			for k := key; ; k = k.Parent() {
				w.tx.accrueFees(k, growth, big.NewInt(0))
				if k.IsRoot(store.rootWidth) {
					break
				}
			}
		}
	}
	return total, nil
}

// accrueSwap credits collected swap fees into the accumulators of the
// decomposed range. Each node takes a width-proportional share of the
// totals, credited per unit of covering maker liquidity along its ancestor
// path, the same spread the reservation charge uses. Shares over nodes
// with no maker coverage, and division dust, fall to the protocol.
func (w *walker) accrueSwap(keys []Key, fee0, fee1 *big.Int) {
	totalWidth := uint64(0)
	for _, key := range keys {
		totalWidth += uint64(key.Width())
	}
	if totalWidth == 0 {
		return
	}
	rootWidth := w.market.store.rootWidth
	den := new(big.Int).SetUint64(totalWidth)
	rest0 := new(big.Int).Set(fee0)
	rest1 := new(big.Int).Set(fee1)
	for _, key := range keys {
		width := new(big.Int).SetUint64(uint64(key.Width()))
		share0 := new(big.Int).Mul(fee0, width)
		share0.Div(share0, den)
		share1 := new(big.Int).Mul(fee1, width)
		share1.Div(share1, den)

		covering := w.tx.pathMakerLiquidity(key)
		if covering.Sign() <= 0 {
			continue
		}
		growth0 := new(big.Int).Mul(share0, Q128)
		growth0.Div(growth0, covering)
		growth1 := new(big.Int).Mul(share1, Q128)
		growth1.Div(growth1, covering)
		for k := key; ; k = k.Parent() {
			w.tx.accrueFees(k, growth0, growth1)
			if k.IsRoot(rootWidth) {
				break
			}
		}
		rest0.Sub(rest0, share0)
		rest1.Sub(rest1, share1)
	}
	w.stageProtocolFees(rest0, rest1)
}
