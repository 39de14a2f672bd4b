// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// NewAssetParams carries the defining fields of a position to open.
type NewAssetParams struct {
	Market    common.Address
	Kind      AssetKind
	TickLower int24
	TickUpper int24
	Liquidity *big.Int

	// Taker collateral. Ignored for makers.
	CollateralToken  Currency
	CollateralAmount *big.Int
	VaultIndex       uint32

	CallbackData []byte
}

// NewAsset opens a maker deposit or taker borrow over a tick range.
//
// The traversal stages all tree and checkpoint mutations first; nothing is
// committed until external settlement succeeds, so a failure anywhere
// leaves the engine byte-identical to before the call. For takers the
// collateral is pulled and custodied before any borrowed funds leave.
func (e *Engine) NewAsset(caller common.Address, p NewAssetParams) (*Asset, *Ledger, error) {
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.exit()

	market, err := e.market(p.Market)
	if err != nil {
		return nil, nil, err
	}
	if err := market.refreshPrice(); err != nil {
		return nil, nil, err
	}
	if p.Kind > AssetTaker {
		return nil, nil, fmt.Errorf("%w: %d", ErrWrongAssetKind, p.Kind)
	}
	if p.Liquidity == nil || p.Liquidity.Sign() <= 0 ||
		p.Liquidity.Cmp(new(big.Int).SetUint64(e.cfg.MinLiquidity)) < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrBelowMinLiquidity, p.Liquidity)
	}

	e.nonce++
	id := ComputeAssetID(caller, p.Market, p.TickLower, p.TickUpper, e.nonce)
	if _, exists := e.assets[id]; exists {
		return nil, nil, fmt.Errorf("%w: %x", ErrAssetExists, id[:8])
	}

	now := e.now()
	asset := &Asset{
		ID:          id,
		Owner:       caller,
		Market:      p.Market,
		Kind:        p.Kind,
		TickLower:   p.TickLower,
		TickUpper:   p.TickUpper,
		Liquidity:   new(big.Int).Set(p.Liquidity),
		Collateral:  big.NewInt(0),
		LastSettled: now,
	}

	tx := market.store.begin()
	ckpt := beginCheckpoints(asset)
	w := newWalker(market, tx, ckpt, e.curve, now)

	res, err := w.modify(asset, p.Liquidity, false)
	if err != nil {
		return nil, nil, err
	}

	if p.Kind == AssetTaker {
		if err := e.checkCollateral(market, p.Liquidity, p.CollateralAmount); err != nil {
			return nil, nil, err
		}
		asset.CollateralToken = p.CollateralToken
		asset.VaultIndex = p.VaultIndex
		asset.Collateral = new(big.Int).Set(p.CollateralAmount)

		// Collateral is secured before the borrow releases anything.
		pull := []*big.Int{new(big.Int).Neg(p.CollateralAmount)}
		if err := e.settler.Settle(caller, []Currency{p.CollateralToken}, pull, p.CallbackData); err != nil {
			return nil, nil, fmt.Errorf("%w: collateral: %v", ErrSettlementFailed, err)
		}
		if err := e.vault.Deposit(p.CollateralToken, p.VaultIndex, id, p.CollateralAmount); err != nil {
			return nil, nil, fmt.Errorf("%w: vault deposit: %v", ErrSettlementFailed, err)
		}
	}

	net0, net1 := res.ledger.Net()
	if err := e.execute(&settlement{
		Caller:       caller,
		Market:       market,
		Total0:       net0,
		Total1:       net1,
		Calls:        res.calls,
		CallbackData: p.CallbackData,
	}); err != nil {
		// The asset is never registered on this path, so custodied
		// collateral must be unwound now or no one can ever reclaim it.
		if p.Kind == AssetTaker {
			if amount, werr := e.vault.Withdraw(p.CollateralToken, p.VaultIndex, id); werr == nil {
				refund := []*big.Int{new(big.Int).Set(amount)}
				if serr := e.settler.Settle(caller, []Currency{p.CollateralToken}, refund, p.CallbackData); serr != nil {
					err = fmt.Errorf("%v; collateral refund: %v", err, serr)
				}
			}
		}
		return nil, nil, err
	}

	tx.commit()
	ckpt.commit()
	market.addProtocolFees(w.proto0, w.proto1)
	e.assets[id] = asset
	if p.Kind == AssetTaker {
		e.emit(Event{Kind: EventCollateralDeposited, Asset: id, Recipient: caller,
			Token: p.CollateralToken, Amount: p.CollateralAmount})
	}
	e.emit(Event{Kind: EventAssetCreated, Asset: id, Recipient: caller})
	return asset, res.ledger, nil
}

// AdjustAsset changes a position's liquidity by delta (positive grows,
// negative shrinks) and harvests fees owed since the last sync. Takers are
// additionally charged reservation fees for the elapsed interval, in
// token0, as part of the same settlement.
func (e *Engine) AdjustAsset(caller common.Address, id AssetID, delta *big.Int, callbackData []byte) (*Ledger, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	asset, err := e.asset(id)
	if err != nil {
		return nil, err
	}
	if asset.Owner != caller {
		return nil, fmt.Errorf("%w: not asset owner", ErrUnauthorized)
	}
	market, err := e.market(asset.Market)
	if err != nil {
		return nil, err
	}
	if err := market.refreshPrice(); err != nil {
		return nil, err
	}
	if delta == nil {
		delta = big.NewInt(0)
	}

	after := new(big.Int).Add(asset.Liquidity, delta)
	if after.Sign() < 0 {
		return nil, fmt.Errorf("%w: have=%s delta=%s", ErrNegativeLiquidity, asset.Liquidity, delta)
	}
	if after.Sign() > 0 && after.Cmp(new(big.Int).SetUint64(e.cfg.MinLiquidity)) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrBelowMinLiquidity, after)
	}
	// A grown borrow must still be covered by the collateral posted at
	// open; shrinking only ever improves coverage.
	if asset.Kind == AssetTaker && delta.Sign() > 0 {
		if err := e.checkCollateral(market, after, asset.Collateral); err != nil {
			return nil, err
		}
	}

	now := e.now()
	tx := market.store.begin()
	ckpt := beginCheckpoints(asset)
	w := newWalker(market, tx, ckpt, e.curve, now)

	// Reservation fees accrue against the borrow state as it stood over
	// the elapsed interval, so the charge runs before the delta mutates
	// the staged nodes.
	reservation := big.NewInt(0)
	if asset.Kind == AssetTaker {
		keys, err := w.decomposeAsset(asset)
		if err != nil {
			return nil, err
		}
		if reservation, err = w.accrueReservation(asset, keys, now-asset.LastSettled); err != nil {
			return nil, err
		}
	}

	res, err := w.modify(asset, delta, false)
	if err != nil {
		return nil, err
	}

	net0, net1 := res.ledger.Net()
	net0.Add(net0, reservation)

	if err := e.execute(&settlement{
		Caller:       caller,
		Market:       market,
		Total0:       net0,
		Total1:       net1,
		Calls:        res.calls,
		CallbackData: callbackData,
	}); err != nil {
		return nil, err
	}

	tx.commit()
	ckpt.commit()
	market.addProtocolFees(w.proto0, w.proto1)
	asset.Liquidity = after
	asset.LastSettled = now
	return res.ledger, nil
}

// RemoveAsset closes a position: withdraws all liquidity (compounded
// surplus included), harvests the final fees, charges the taker's
// outstanding reservation fees, releases custodied collateral, and deletes
// the position and all its checkpoints.
func (e *Engine) RemoveAsset(caller common.Address, id AssetID, callbackData []byte) (*Ledger, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	asset, err := e.asset(id)
	if err != nil {
		return nil, err
	}
	if asset.Owner != caller {
		return nil, fmt.Errorf("%w: not asset owner", ErrUnauthorized)
	}
	market, err := e.market(asset.Market)
	if err != nil {
		return nil, err
	}
	if err := market.refreshPrice(); err != nil {
		return nil, err
	}

	now := e.now()
	tx := market.store.begin()
	ckpt := beginCheckpoints(asset)
	w := newWalker(market, tx, ckpt, e.curve, now)

	// Outstanding reservation fees are charged against the pre-removal
	// borrow state, before the close-out zeroes the staged nodes.
	reservation := big.NewInt(0)
	if asset.Kind == AssetTaker {
		keys, err := w.decomposeAsset(asset)
		if err != nil {
			return nil, err
		}
		if reservation, err = w.accrueReservation(asset, keys, now-asset.LastSettled); err != nil {
			return nil, err
		}
	}

	res, err := w.modify(asset, new(big.Int).Neg(asset.Liquidity), true)
	if err != nil {
		return nil, err
	}

	net0, net1 := res.ledger.Net()
	net0.Add(net0, reservation)
	ckpt.finalize = true

	if err := e.execute(&settlement{
		Caller:       caller,
		Market:       market,
		Total0:       net0,
		Total1:       net1,
		Calls:        res.calls,
		CallbackData: callbackData,
	}); err != nil {
		return nil, err
	}

	if asset.Kind == AssetTaker && asset.Collateral.Sign() > 0 {
		amount, err := e.vault.Withdraw(asset.CollateralToken, asset.VaultIndex, id)
		if err != nil {
			return nil, fmt.Errorf("%w: vault withdraw: %v", ErrSettlementFailed, err)
		}
		pay := []*big.Int{new(big.Int).Set(amount)}
		if err := e.settler.Settle(caller, []Currency{asset.CollateralToken}, pay, callbackData); err != nil {
			return nil, fmt.Errorf("%w: collateral return: %v", ErrSettlementFailed, err)
		}
		e.emit(Event{Kind: EventCollateralWithdrawn, Asset: id, Recipient: caller,
			Token: asset.CollateralToken, Amount: amount})
	}

	tx.commit()
	ckpt.commit()
	market.addProtocolFees(w.proto0, w.proto1)
	delete(e.assets, id)
	e.emit(Event{Kind: EventAssetRemoved, Asset: id, Recipient: caller})
	return res.ledger, nil
}

// CollectFees harvests a maker position's accrued fees without changing
// its liquidity. The zero-delta traversal still advances every checkpoint.
func (e *Engine) CollectFees(caller common.Address, id AssetID, callbackData []byte) (*Ledger, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	asset, err := e.asset(id)
	if err != nil {
		return nil, err
	}
	if asset.Owner != caller {
		return nil, fmt.Errorf("%w: not asset owner", ErrUnauthorized)
	}
	if asset.Kind == AssetTaker {
		return nil, fmt.Errorf("%w: takers earn no fees", ErrWrongAssetKind)
	}
	market, err := e.market(asset.Market)
	if err != nil {
		return nil, err
	}
	if err := market.refreshPrice(); err != nil {
		return nil, err
	}

	tx := market.store.begin()
	ckpt := beginCheckpoints(asset)
	w := newWalker(market, tx, ckpt, e.curve, e.now())

	res, err := w.modify(asset, nil, false)
	if err != nil {
		return nil, err
	}

	net0, net1 := res.ledger.Net()
	if err := e.execute(&settlement{
		Caller:       caller,
		Market:       market,
		Total0:       net0,
		Total1:       net1,
		CallbackData: callbackData,
	}); err != nil {
		return nil, err
	}

	tx.commit()
	ckpt.commit()
	market.addProtocolFees(w.proto0, w.proto1)
	return res.ledger, nil
}

// Compound harvests a compounding maker's fees and re-deposits them as
// liquidity at each node of its range. The caller neither pays nor
// receives tokens; the harvested fees fund the underlying mints directly.
// Anyone may trigger compounding, the position owner keeps the liquidity.
func (e *Engine) Compound(caller common.Address, id AssetID, callbackData []byte) (*Ledger, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	asset, err := e.asset(id)
	if err != nil {
		return nil, err
	}
	market, err := e.market(asset.Market)
	if err != nil {
		return nil, err
	}
	if err := market.refreshPrice(); err != nil {
		return nil, err
	}

	tx := market.store.begin()
	ckpt := beginCheckpoints(asset)
	w := newWalker(market, tx, ckpt, e.curve, e.now())

	res, err := w.compound(asset, new(big.Int).SetUint64(e.cfg.CompoundMinFee))
	if err != nil {
		return nil, err
	}

	if err := e.execute(&settlement{
		Caller:       caller,
		Market:       market,
		Total0:       big.NewInt(0),
		Total1:       big.NewInt(0),
		Calls:        res.calls,
		CallbackData: callbackData,
	}); err != nil {
		return nil, err
	}

	tx.commit()
	ckpt.commit()
	market.addProtocolFees(w.proto0, w.proto1)
	return res.ledger, nil
}

// checkCollateral values the posted collateral at the time-weighted price
// and requires it to cover the borrowed liquidity. Valuing at TWAP rather
// than spot keeps a single-block price push from unlocking undercovered
// borrows.
func (e *Engine) checkCollateral(market *Market, borrow, collateral *big.Int) error {
	if collateral == nil || collateral.Sign() <= 0 {
		return fmt.Errorf("%w: none posted", ErrInsufficientCollateral)
	}
	twap, err := market.underlying.GetTwapPrice(e.cfg.TwapInterval)
	if err != nil {
		return fmt.Errorf("%w: twap: %v", ErrMarketNotValidated, err)
	}
	equivalent, err := market.underlying.GetEquivalentLiquidity(market.Info.SqrtPriceX96, twap, collateral)
	if err != nil {
		return fmt.Errorf("%w: quote: %v", ErrMarketNotValidated, err)
	}
	if equivalent.Cmp(borrow) < 0 {
		return fmt.Errorf("%w: covers=%s need=%s", ErrInsufficientCollateral, equivalent, borrow)
	}
	return nil
}
