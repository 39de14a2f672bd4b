// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

var _ Vault = (*CollateralVault)(nil)

// CollateralVault is the reference LXRangeVault implementation: per-asset
// collateral custody backing taker borrows. One record per asset; the
// engine deposits exactly once at open and withdraws exactly once at close.
type CollateralVault struct {
	mu      sync.RWMutex
	records map[AssetID]*custodyRecord
}

type custodyRecord struct {
	Token      Currency
	VaultIndex uint32
	Amount     *big.Int
}

// NewCollateralVault creates an empty vault.
func NewCollateralVault() *CollateralVault {
	return &CollateralVault{
		records: make(map[AssetID]*custodyRecord),
	}
}

// Deposit custodies collateral for an asset. An asset can hold exactly one
// live record.
func (v *CollateralVault) Deposit(token Currency, vaultIndex uint32, asset AssetID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive deposit", ErrInsufficientCollateral)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.records[asset]; exists {
		return fmt.Errorf("%w: asset already custodied", ErrAssetExists)
	}
	v.records[asset] = &custodyRecord{
		Token:      token,
		VaultIndex: vaultIndex,
		Amount:     new(big.Int).Set(amount),
	}
	return nil
}

// Withdraw releases an asset's full collateral. Token and vault index must
// match the original deposit.
func (v *CollateralVault) Withdraw(token Currency, vaultIndex uint32, asset AssetID) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.records[asset]
	if !ok {
		return nil, fmt.Errorf("%w: no custody record", ErrAssetNotFound)
	}
	if rec.Token != token || rec.VaultIndex != vaultIndex {
		return nil, fmt.Errorf("%w: custody record mismatch", ErrUnauthorized)
	}
	delete(v.records, asset)
	return rec.Amount, nil
}

// Balance returns the custodied amount for an asset, zero if none.
func (v *CollateralVault) Balance(asset AssetID) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if rec, ok := v.records[asset]; ok {
		return new(big.Int).Set(rec.Amount)
	}
	return big.NewInt(0)
}

// TotalCustodied sums custody across assets for one token.
func (v *CollateralVault) TotalCustodied(token common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	total := big.NewInt(0)
	for _, rec := range v.records {
		if rec.Token.Address == token {
			total.Add(total, rec.Amount)
		}
	}
	return total
}
