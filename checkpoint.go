// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import "math/big"

// Asset checkpoints are created for every canonical node an asset's range
// decomposes into, re-synced on every walker pass touching the asset, and
// finalized (one last harvest, then deleted) when the asset closes. Harvest
// ordering is commutative: several intermediate syncs sum to the same owed
// total as one harvest at the end, for a fixed accumulator trajectory.

// checkpointTx stages checkpoint mutations for one asset during one
// operation, committed or discarded together with the node staging.
type checkpointTx struct {
	asset    *Asset
	staged   map[Key]*Checkpoint
	touched  []Key
	finalize bool
}

func beginCheckpoints(asset *Asset) *checkpointTx {
	if asset.checkpoints == nil {
		asset.checkpoints = make(map[Key]*Checkpoint)
	}
	return &checkpointTx{
		asset:  asset,
		staged: make(map[Key]*Checkpoint),
	}
}

// get returns a mutable staged checkpoint for key. A checkpoint that does
// not exist yet (first touch at open) starts at the supplied current
// accumulator values, so the opening pass harvests exactly zero.
func (tx *checkpointTx) get(key Key, growth0, growth1 *big.Int, now int64) *Checkpoint {
	if ck, ok := tx.staged[key]; ok {
		return ck
	}
	var ck *Checkpoint
	if prev, ok := tx.asset.checkpoints[key]; ok {
		ck = &Checkpoint{
			FeeGrowth0Last: new(big.Int).Set(prev.FeeGrowth0Last),
			FeeGrowth1Last: new(big.Int).Set(prev.FeeGrowth1Last),
			Extra:          new(big.Int).Set(prev.Extra),
			DepositTime:    prev.DepositTime,
		}
	} else {
		ck = &Checkpoint{
			FeeGrowth0Last: new(big.Int).Set(growth0),
			FeeGrowth1Last: new(big.Int).Set(growth1),
			Extra:          big.NewInt(0),
			DepositTime:    now,
		}
	}
	tx.staged[key] = ck
	tx.touched = append(tx.touched, key)
	return ck
}

// harvest computes the fees owed since the last sync at key and advances
// the checkpoint to the current accumulators. Checkpoint values never
// decrease because node accumulators never decrease.
func (tx *checkpointTx) harvest(key Key, growth0, growth1, liquidity *big.Int, now int64) (fee0, fee1 *big.Int) {
	ck := tx.get(key, growth0, growth1, now)

	fee0 = owedSince(growth0, ck.FeeGrowth0Last, liquidity)
	fee1 = owedSince(growth1, ck.FeeGrowth1Last, liquidity)

	ck.FeeGrowth0Last = new(big.Int).Set(growth0)
	ck.FeeGrowth1Last = new(big.Int).Set(growth1)
	return fee0, fee1
}

// markDeposit stamps the asset's deposit time at key for JIT accounting.
func (tx *checkpointTx) markDeposit(key Key, growth0, growth1 *big.Int, now int64) {
	ck := tx.get(key, growth0, growth1, now)
	ck.DepositTime = now
}

// extra returns the staged-or-committed compounded surplus liquidity the
// asset holds at key on top of its uniform base.
func (tx *checkpointTx) extra(key Key) *big.Int {
	if ck, ok := tx.staged[key]; ok {
		return ck.Extra
	}
	if ck, ok := tx.asset.checkpoints[key]; ok {
		return ck.Extra
	}
	return big.NewInt(0)
}

// addExtra records newly compounded liquidity at key.
func (tx *checkpointTx) addExtra(key Key, liq *big.Int, growth0, growth1 *big.Int, now int64) {
	ck := tx.get(key, growth0, growth1, now)
	ck.Extra = new(big.Int).Add(ck.Extra, liq)
}

// depositTime returns the staged-or-committed deposit time at key, or 0.
func (tx *checkpointTx) depositTime(key Key) int64 {
	if ck, ok := tx.staged[key]; ok {
		return ck.DepositTime
	}
	if ck, ok := tx.asset.checkpoints[key]; ok {
		return ck.DepositTime
	}
	return 0
}

// commit publishes staged checkpoints into the asset, or deletes the
// asset's entire checkpoint set when the operation finalizes it.
func (tx *checkpointTx) commit() {
	if tx.finalize {
		tx.asset.checkpoints = make(map[Key]*Checkpoint)
		return
	}
	for _, key := range tx.touched {
		tx.asset.checkpoints[key] = tx.staged[key]
	}
}

// owedSince is (accumulator - last) * liquidity / Q128.
func owedSince(growth, last, liquidity *big.Int) *big.Int {
	if liquidity.Sign() == 0 {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(growth, last)
	if diff.Sign() <= 0 {
		return big.NewInt(0)
	}
	owed := new(big.Int).Mul(diff, liquidity)
	return owed.Div(owed, Q128)
}

// CheckpointAt exposes an asset's committed checkpoint at key, for queries
// and persistence. Returns nil when the asset never touched the node.
func (a *Asset) CheckpointAt(key Key) *Checkpoint {
	return a.checkpoints[key]
}

// CheckpointKeys lists the node keys the asset currently checkpoints.
func (a *Asset) CheckpointKeys() []Key {
	keys := make([]Key, 0, len(a.checkpoints))
	for k := range a.checkpoints {
		keys = append(keys, k)
	}
	return keys
}
