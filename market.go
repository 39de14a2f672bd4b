// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// MarketInfo is the immutable parameter set plus current price state of an
// underlying concentrated-liquidity market.
type MarketInfo struct {
	Addr        common.Address
	Factory     common.Address
	Token0      Currency
	Token1      Currency
	Fee         uint24
	TickSpacing int24

	SqrtPriceX96 *big.Int // current sqrt price (Q64.96)
	Tick         int24    // current tick

	// Observations is the underlying oracle's historical sample count.
	Observations uint16
}

// UnderlyingMarket is the excluded exchange collaborator: the engine only
// consumes its price state and mint/burn/collect primitives.
type UnderlyingMarket interface {
	// GetMarketInfo returns immutable params and current price/tick.
	GetMarketInfo() (MarketInfo, error)

	// Mint adds liquidity over a tick range, returning the token amounts
	// pulled into the market.
	Mint(tickLower, tickUpper int24, liquidity *big.Int) (amount0, amount1 *big.Int, err error)

	// Burn removes liquidity over a tick range, returning the token
	// amounts released.
	Burn(tickLower, tickUpper int24, liquidity *big.Int) (amount0, amount1 *big.Int, err error)

	// Collect transfers tokens owed from prior burns and fee growth.
	Collect(tickLower, tickUpper int24) (amount0, amount1 *big.Int, err error)

	// GetTwapPrice returns the time-weighted sqrt price over interval
	// seconds (Q64.96).
	GetTwapPrice(interval int64) (*big.Int, error)

	// GetEquivalentLiquidity quotes the liquidity an amount of token0 is
	// worth given the current and time-weighted prices.
	GetEquivalentLiquidity(price, twapPrice, amount *big.Int) (*big.Int, error)
}

// Vault is the excluded collateral custody collaborator.
type Vault interface {
	Deposit(token Currency, vaultIndex uint32, asset AssetID, amount *big.Int) error
	Withdraw(token Currency, vaultIndex uint32, asset AssetID) (*big.Int, error)
}

// Settler is the payment primitive: negative amounts are pulled from the
// counterparty, positive amounts are pushed to the recipient. The
// implementation must report success synchronously; callbackData is opaque
// to the engine.
type Settler interface {
	Settle(recipient common.Address, tokens []Currency, amounts []*big.Int, callbackData []byte) error
}

// Market is the engine's per-market state: the fixed tree coordinate
// system, the node arena, the fee curve, and accrued protocol fee income.
// Root width and tick spacing are fixed at registration and never change:
// every stored key and checkpoint is expressed in that coordinate system.
type Market struct {
	Info       MarketInfo
	underlying UnderlyingMarket
	store      *NodeStore
	curve      *FeeCurve

	ProtocolFees0 *big.Int
	ProtocolFees1 *big.Int
}

// newMarket fixes the market's tree coordinates and creates its arena.
func newMarket(info MarketInfo, underlying UnderlyingMarket, curve *FeeCurve) (*Market, error) {
	rootWidth, err := ComputeRootWidth(MinTick, MaxTick, info.TickSpacing)
	if err != nil {
		return nil, err
	}
	return &Market{
		Info:          info,
		underlying:    underlying,
		store:         NewNodeStore(rootWidth, info.TickSpacing),
		curve:         curve,
		ProtocolFees0: big.NewInt(0),
		ProtocolFees1: big.NewInt(0),
	}, nil
}

// Store exposes the node arena for queries and persistence.
func (m *Market) Store() *NodeStore { return m.store }

// addProtocolFees credits committed protocol fee income.
func (m *Market) addProtocolFees(fee0, fee1 *big.Int) {
	if fee0.Sign() > 0 {
		m.ProtocolFees0.Add(m.ProtocolFees0, fee0)
	}
	if fee1.Sign() > 0 {
		m.ProtocolFees1.Add(m.ProtocolFees1, fee1)
	}
}

// refreshPrice re-reads the underlying's current price state.
func (m *Market) refreshPrice() error {
	info, err := m.underlying.GetMarketInfo()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMarketNotValidated, err)
	}
	m.Info.SqrtPriceX96 = info.SqrtPriceX96
	m.Info.Tick = info.Tick
	m.Info.Observations = info.Observations
	return nil
}

// validateMarket rejects markets from unapproved factories or with too
// thin an oracle history to trust.
func validateMarket(info MarketInfo, approvedFactories map[common.Address]bool, minObservations uint16) error {
	if !approvedFactories[info.Factory] {
		return fmt.Errorf("%w: %s", ErrFactoryNotApproved, info.Factory.Hex())
	}
	if info.Observations < minObservations {
		return fmt.Errorf("%w: have=%d need=%d", ErrTooFewObservations, info.Observations, minObservations)
	}
	if info.SqrtPriceX96 == nil || info.SqrtPriceX96.Sign() <= 0 {
		return fmt.Errorf("%w: uninitialized price", ErrMarketNotValidated)
	}
	if info.SqrtPriceX96.Cmp(MinSqrtRatio) < 0 || info.SqrtPriceX96.Cmp(MaxSqrtRatio) > 0 {
		return fmt.Errorf("%w: sqrt price out of bounds", ErrMarketNotValidated)
	}
	return nil
}
