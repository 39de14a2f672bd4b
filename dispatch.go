// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// Method selectors for LXRange
const (
	SelectorNewAsset    uint32 = 0x01000000 // newAsset(market,kind,ticks,liquidity,collateral)
	SelectorAdjustAsset uint32 = 0x02000000 // adjustAsset(assetId,sign,magnitude)
	SelectorRemoveAsset uint32 = 0x03000000 // removeAsset(assetId)
	SelectorCollectFees uint32 = 0x04000000 // collectFees(assetId)
	SelectorCompound    uint32 = 0x05000000 // compound(assetId)
	SelectorGetAsset    uint32 = 0x06000000 // getAsset(assetId)
)

// RangeContract is the precompile call surface over the engine: it decodes
// word-packed calldata, charges flat per-operation gas, and routes to the
// engine entry points. All state and atomicity guarantees live in the
// engine; this layer is pure codec.
type RangeContract struct {
	engine *Engine
}

// NewRangeContract wraps an engine for precompile dispatch.
func NewRangeContract(engine *Engine) *RangeContract {
	return &RangeContract{engine: engine}
}

// Run executes one precompile call.
func (c *RangeContract) Run(
	caller common.Address,
	input []byte,
	suppliedGas uint64,
	readOnly bool,
) (ret []byte, remainingGas uint64, err error) {
	if len(input) < 4 {
		return nil, suppliedGas, fmt.Errorf("%w: input too short", ErrInvalidInput)
	}
	selector := binary.BigEndian.Uint32(input[:4])
	data := input[4:]

	if readOnly && selector != SelectorGetAsset {
		return nil, suppliedGas, fmt.Errorf("%w: cannot write in read-only mode", ErrInvalidInput)
	}

	switch selector {
	case SelectorNewAsset:
		return c.runNewAsset(caller, data, suppliedGas)
	case SelectorAdjustAsset:
		return c.runAdjustAsset(caller, data, suppliedGas)
	case SelectorRemoveAsset:
		return c.runRemoveAsset(caller, data, suppliedGas)
	case SelectorCollectFees:
		return c.runCollectFees(caller, data, suppliedGas)
	case SelectorCompound:
		return c.runCompound(caller, data, suppliedGas)
	case SelectorGetAsset:
		return c.runGetAsset(data, suppliedGas)
	default:
		return nil, suppliedGas, fmt.Errorf("%w: unknown selector %x", ErrInvalidInput, selector)
	}
}

func (c *RangeContract) runNewAsset(caller common.Address, input []byte, suppliedGas uint64) ([]byte, uint64, error) {
	if suppliedGas < GasNewAsset {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remaining := suppliedGas - GasNewAsset

	// market | kind | tickLower | tickUpper | liquidity | collateralToken
	// | vaultIndex | collateralAmount, one 32-byte word each, then
	// callback data.
	if len(input) < 8*32 {
		return nil, remaining, fmt.Errorf("%w: newAsset input too short", ErrInvalidInput)
	}
	params := NewAssetParams{
		Market:           wordAddress(input, 0),
		Kind:             AssetKind(input[63]),
		TickLower:        wordInt24(input, 2),
		TickUpper:        wordInt24(input, 3),
		Liquidity:        wordBig(input, 4),
		CollateralToken:  Currency{Address: wordAddress(input, 5)},
		VaultIndex:       uint32(wordBig(input, 6).Uint64()),
		CollateralAmount: wordBig(input, 7),
		CallbackData:     input[8*32:],
	}

	asset, ledger, err := c.engine.NewAsset(caller, params)
	if err != nil {
		return nil, remaining, err
	}
	out := make([]byte, 32)
	copy(out, asset.ID[:])
	return append(out, encodeLedger(ledger)...), remaining, nil
}

func (c *RangeContract) runAdjustAsset(caller common.Address, input []byte, suppliedGas uint64) ([]byte, uint64, error) {
	if suppliedGas < GasModifyRange {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remaining := suppliedGas - GasModifyRange

	// assetId | sign | magnitude, then callback data.
	if len(input) < 3*32 {
		return nil, remaining, fmt.Errorf("%w: adjustAsset input too short", ErrInvalidInput)
	}
	id := wordAssetID(input, 0)
	delta := wordBig(input, 2)
	if input[63] != 0 {
		delta.Neg(delta)
	}

	ledger, err := c.engine.AdjustAsset(caller, id, delta, input[3*32:])
	if err != nil {
		return nil, remaining, err
	}
	return encodeLedger(ledger), remaining, nil
}

func (c *RangeContract) runRemoveAsset(caller common.Address, input []byte, suppliedGas uint64) ([]byte, uint64, error) {
	if suppliedGas < GasRemoveAsset {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remaining := suppliedGas - GasRemoveAsset
	if len(input) < 32 {
		return nil, remaining, fmt.Errorf("%w: removeAsset input too short", ErrInvalidInput)
	}

	ledger, err := c.engine.RemoveAsset(caller, wordAssetID(input, 0), input[32:])
	if err != nil {
		return nil, remaining, err
	}
	return encodeLedger(ledger), remaining, nil
}

func (c *RangeContract) runCollectFees(caller common.Address, input []byte, suppliedGas uint64) ([]byte, uint64, error) {
	if suppliedGas < GasCollectFees {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remaining := suppliedGas - GasCollectFees
	if len(input) < 32 {
		return nil, remaining, fmt.Errorf("%w: collectFees input too short", ErrInvalidInput)
	}

	ledger, err := c.engine.CollectFees(caller, wordAssetID(input, 0), input[32:])
	if err != nil {
		return nil, remaining, err
	}
	return encodeLedger(ledger), remaining, nil
}

func (c *RangeContract) runCompound(caller common.Address, input []byte, suppliedGas uint64) ([]byte, uint64, error) {
	if suppliedGas < GasCompound {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remaining := suppliedGas - GasCompound
	if len(input) < 32 {
		return nil, remaining, fmt.Errorf("%w: compound input too short", ErrInvalidInput)
	}

	ledger, err := c.engine.Compound(caller, wordAssetID(input, 0), input[32:])
	if err != nil {
		return nil, remaining, err
	}
	return encodeLedger(ledger), remaining, nil
}

func (c *RangeContract) runGetAsset(input []byte, suppliedGas uint64) ([]byte, uint64, error) {
	if suppliedGas < GasMarketLookup {
		return nil, 0, fmt.Errorf("out of gas")
	}
	remaining := suppliedGas - GasMarketLookup
	if len(input) < 32 {
		return nil, remaining, fmt.Errorf("%w: getAsset input too short", ErrInvalidInput)
	}

	asset, err := c.engine.GetAsset(wordAssetID(input, 0))
	if err != nil {
		return nil, remaining, err
	}

	// owner | market | kind | tickLower | tickUpper | liquidity |
	// collateral, one word each.
	out := make([]byte, 7*32)
	copy(out[12:32], asset.Owner.Bytes())
	copy(out[44:64], asset.Market.Bytes())
	out[95] = byte(asset.Kind)
	putWordInt24(out, 3, asset.TickLower)
	putWordInt24(out, 4, asset.TickUpper)
	putWordBig(out, 5, asset.Liquidity)
	putWordBig(out, 6, asset.Collateral)
	return out, remaining, nil
}

// encodeLedger packs a ledger as sign|abs word pairs for each of the four
// accumulators: amount0, amount1, fees0, fees1.
func encodeLedger(l *Ledger) []byte {
	out := make([]byte, 8*32)
	for i, v := range []*big.Int{l.Amount0, l.Amount1, l.Fees0, l.Fees1} {
		if v.Sign() < 0 {
			out[i*64+31] = 1
		}
		putWordBig(out, 2*i+1, new(big.Int).Abs(v))
	}
	return out
}

// === Word codec helpers ===

func wordAddress(input []byte, word int) common.Address {
	return common.BytesToAddress(input[word*32+12 : word*32+32])
}

func wordAssetID(input []byte, word int) AssetID {
	var id AssetID
	copy(id[:], input[word*32:word*32+32])
	return id
}

func wordBig(input []byte, word int) *big.Int {
	return new(big.Int).SetBytes(input[word*32 : word*32+32])
}

func wordInt24(input []byte, word int) int24 {
	return int24(binary.BigEndian.Uint32(input[word*32+28 : word*32+32]))
}

func putWordInt24(out []byte, word int, v int24) {
	binary.BigEndian.PutUint32(out[word*32+28:word*32+32], uint32(v))
}

func putWordBig(out []byte, word int, v *big.Int) {
	u, overflow := uint256.FromBig(v)
	if overflow {
		u = new(uint256.Int).Not(uint256.NewInt(0))
	}
	b := u.Bytes32()
	copy(out[word*32:word*32+32], b[:])
}
