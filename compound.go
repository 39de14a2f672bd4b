// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"
)

// compound walks the asset's range like modify, but instead of placing
// harvested fees in the ledger for settlement it converts them to
// liquidity at the current price and re-deposits the result at the same
// node. Only assets tagged for compounding qualify, and the harvest must
// clear the configured minimum so dust-sized compounds are rejected before
// any mutation commits.
func (w *walker) compound(asset *Asset, minFee *big.Int) (*walkResult, error) {
	if asset.Kind != AssetMakerCompounding {
		return nil, fmt.Errorf("%w: %s", ErrWrongAssetKind, asset.Kind)
	}
	keys, err := w.decomposeAsset(asset)
	if err != nil {
		return nil, err
	}

	res := &walkResult{ledger: NewLedger(), visited: keys}
	total0, total1 := big.NewInt(0), big.NewInt(0)

	for _, key := range keys {
		growth0, growth1 := currentGrowth(w.tx.peek(key))
		nodeLiq := new(big.Int).Add(asset.Liquidity, w.ckpt.extra(key))

		heldFor := w.now - w.ckpt.depositTime(key)
		fee0, fee1 := w.ckpt.harvest(key, growth0, growth1, nodeLiq, w.now)
		penalty := w.curve.JITPenalty(heldFor)
		withheld0 := new(big.Int).Set(fee0)
		withheld1 := new(big.Int).Set(fee1)
		fee0 = w.applyPenalty(fee0, penalty)
		fee1 = w.applyPenalty(fee1, penalty)
		w.stageProtocolFees(withheld0.Sub(withheld0, fee0), withheld1.Sub(withheld1, fee1))

		if fee0.Sign() == 0 && fee1.Sign() == 0 {
			continue
		}
		total0.Add(total0, fee0)
		total1.Add(total1, fee1)

		sqrtA, sqrtB := w.nodeSqrtBounds(key)
		liq := LiquidityForAmounts(w.market.Info.SqrtPriceX96, sqrtA, sqrtB, fee0, fee1)
		if liq.Sign() <= 0 {
			// Sub-unit conversion; the dust is forfeited to the pool.
			continue
		}

		if err := w.tx.applyLiquidityDelta(key, liq); err != nil {
			return nil, err
		}
		w.ckpt.addExtra(key, liq, growth0, growth1, w.now)
		w.ckpt.markDeposit(key, growth0, growth1, w.now)

		res.calls = append(res.calls, w.marketCall(key, liq, asset.Kind))
	}

	harvested := new(big.Int).Add(total0, total1)
	if minFee != nil && minFee.Sign() > 0 && harvested.Cmp(minFee) < 0 {
		return nil, fmt.Errorf("%w: harvested=%s min=%s", ErrBelowCompoundMin, harvested, minFee)
	}
	return res, nil
}
