// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"encoding/binary"
	"errors"
	"math/big"
	"testing"
)

func callInput(selector uint32, words ...[]byte) []byte {
	input := make([]byte, 4)
	binary.BigEndian.PutUint32(input, selector)
	for _, w := range words {
		word := make([]byte, 32)
		copy(word[32-len(w):], w)
		input = append(input, word...)
	}
	return input
}

func newAssetInput(liquidity int64) []byte {
	tickLower := int32(-600)
	return callInput(SelectorNewAsset,
		testMarket.Bytes(),                     // market
		[]byte{byte(AssetMaker)},               // kind
		uint32be(uint32(tickLower)),            // tickLower
		uint32be(600),                          // tickUpper
		big.NewInt(liquidity).Bytes(),          // liquidity
		nil,                                    // collateral token
		nil,                                    // vault index
		nil,                                    // collateral amount
	)
}

func uint32be(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func TestRangeContract_NewAssetAndGetAsset(t *testing.T) {
	env := newTestEnv(t)
	contract := NewRangeContract(env.engine)

	out, remaining, err := contract.Run(testMaker, newAssetInput(1_000_000), 1_000_000, false)
	if err != nil {
		t.Fatalf("newAsset call failed: %v", err)
	}
	if remaining != 1_000_000-GasNewAsset {
		t.Errorf("gas remaining: %d", remaining)
	}
	if len(out) < 32 {
		t.Fatalf("short return: %d bytes", len(out))
	}

	var id AssetID
	copy(id[:], out[:32])
	if _, err := env.engine.GetAsset(id); err != nil {
		t.Fatalf("returned id not resolvable: %v", err)
	}

	// Read back through the query selector, allowed in read-only mode.
	query := callInput(SelectorGetAsset, id[:])
	out, _, err = contract.Run(testMaker, query, GasMarketLookup, true)
	if err != nil {
		t.Fatalf("getAsset call failed: %v", err)
	}
	if got := wordBig(out, 5); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("decoded liquidity: %v", got)
	}
	if wordInt24(out, 3) != -600 || wordInt24(out, 4) != 600 {
		t.Errorf("decoded ticks: %d %d", wordInt24(out, 3), wordInt24(out, 4))
	}
}

func TestRangeContract_AdjustAndRemove(t *testing.T) {
	env := newTestEnv(t)
	contract := NewRangeContract(env.engine)

	out, _, err := contract.Run(testMaker, newAssetInput(1_000_000), 1_000_000, false)
	if err != nil {
		t.Fatal(err)
	}
	var id AssetID
	copy(id[:], out[:32])

	grow := callInput(SelectorAdjustAsset, id[:], nil, big.NewInt(500_000).Bytes())
	if _, _, err := contract.Run(testMaker, grow, 1_000_000, false); err != nil {
		t.Fatalf("adjust call failed: %v", err)
	}
	asset, _ := env.engine.GetAsset(id)
	if asset.Liquidity.Cmp(big.NewInt(1_500_000)) != 0 {
		t.Errorf("liquidity after adjust: %v", asset.Liquidity)
	}

	shrink := callInput(SelectorAdjustAsset, id[:], []byte{1}, big.NewInt(500_000).Bytes())
	if _, _, err := contract.Run(testMaker, shrink, 1_000_000, false); err != nil {
		t.Fatalf("shrink call failed: %v", err)
	}
	if asset.Liquidity.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("liquidity after shrink: %v", asset.Liquidity)
	}

	remove := callInput(SelectorRemoveAsset, id[:])
	if _, _, err := contract.Run(testMaker, remove, 1_000_000, false); err != nil {
		t.Fatalf("remove call failed: %v", err)
	}
	if _, err := env.engine.GetAsset(id); !errors.Is(err, ErrAssetNotFound) {
		t.Error("asset survived remove call")
	}
}

func TestRangeContract_Guards(t *testing.T) {
	env := newTestEnv(t)
	contract := NewRangeContract(env.engine)

	// Truncated input.
	if _, _, err := contract.Run(testMaker, []byte{0x01}, 1_000_000, false); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	// Unknown selector.
	bad := callInput(0xDEAD0000)
	if _, _, err := contract.Run(testMaker, bad, 1_000_000, false); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	// Mutation in read-only mode.
	if _, _, err := contract.Run(testMaker, newAssetInput(1_000_000), 1_000_000, true); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected read-only rejection, got %v", err)
	}

	// Out of gas charges everything.
	_, remaining, err := contract.Run(testMaker, newAssetInput(1_000_000), 10, false)
	if err == nil || remaining != 0 {
		t.Errorf("expected out-of-gas, got remaining=%d err=%v", remaining, err)
	}
}
