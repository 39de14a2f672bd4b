// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"errors"
	"math/big"
	"testing"
)

func TestCollateralVault_DepositWithdraw(t *testing.T) {
	vault := NewCollateralVault()
	id := ComputeAssetID(testTaker, testMarket, -600, 600, 1)

	if err := vault.Deposit(testCollToken, 3, id, big.NewInt(5000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if vault.Balance(id).Cmp(big.NewInt(5000)) != 0 {
		t.Errorf("balance: %v", vault.Balance(id))
	}
	if vault.TotalCustodied(testCollToken.Address).Cmp(big.NewInt(5000)) != 0 {
		t.Errorf("total custodied: %v", vault.TotalCustodied(testCollToken.Address))
	}

	amount, err := vault.Withdraw(testCollToken, 3, id)
	if err != nil || amount.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("withdraw: %v %v", amount, err)
	}
	if vault.Balance(id).Sign() != 0 {
		t.Error("balance not cleared")
	}
	// A second withdrawal has nothing left to release.
	if _, err := vault.Withdraw(testCollToken, 3, id); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestCollateralVault_Rejections(t *testing.T) {
	vault := NewCollateralVault()
	id := ComputeAssetID(testTaker, testMarket, -600, 600, 2)

	if err := vault.Deposit(testCollToken, 0, id, big.NewInt(0)); err == nil {
		t.Error("expected zero deposit rejection")
	}
	if err := vault.Deposit(testCollToken, 0, id, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := vault.Deposit(testCollToken, 0, id, big.NewInt(100)); !errors.Is(err, ErrAssetExists) {
		t.Errorf("expected double deposit rejection, got %v", err)
	}

	// Wrong token or index does not release the record.
	if _, err := vault.Withdraw(testToken0, 0, id); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected token mismatch rejection, got %v", err)
	}
	if _, err := vault.Withdraw(testCollToken, 9, id); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected index mismatch rejection, got %v", err)
	}
	if vault.Balance(id).Cmp(big.NewInt(100)) != 0 {
		t.Error("failed withdrawal mutated the record")
	}
}
