// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// settlement is the netted outcome of one operation, handed to the
// two-phase executor. Totals are signed per token: positive is owed to the
// protocol, negative to the caller.
type settlement struct {
	Caller       common.Address
	Market       *Market
	Total0       *big.Int
	Total1       *big.Int
	Calls        []MarketCall
	CallbackData []byte
}

// execute runs the two-phase net settlement:
//
//  1. pull only the non-negative totals from the caller;
//  2. perform the underlying-market mints/burns now that funds are
//     secured;
//  3. pay only the non-positive totals to the caller.
//
// Caller-to-protocol transfer always precedes any externally observable
// payout, so the protocol is never under-collateralized mid-operation.
func (e *Engine) execute(s *settlement) error {
	tokens := []Currency{s.Market.Info.Token0, s.Market.Info.Token1}

	inbound := []*big.Int{takePositive(s.Total0), takePositive(s.Total1)}
	if inbound[0].Sign() != 0 || inbound[1].Sign() != 0 {
		// Negative settler amounts pull from the counterparty.
		pulls := []*big.Int{new(big.Int).Neg(inbound[0]), new(big.Int).Neg(inbound[1])}
		if err := e.settler.Settle(s.Caller, tokens, pulls, s.CallbackData); err != nil {
			return fmt.Errorf("%w: inbound: %v", ErrSettlementFailed, err)
		}
	}

	if err := e.runMarketCalls(s.Market, s.Calls); err != nil {
		return err
	}

	outbound := []*big.Int{takeNegative(s.Total0), takeNegative(s.Total1)}
	if outbound[0].Sign() != 0 || outbound[1].Sign() != 0 {
		// Positive settler amounts push to the recipient.
		pays := []*big.Int{new(big.Int).Neg(outbound[0]), new(big.Int).Neg(outbound[1])}
		if err := e.settler.Settle(s.Caller, tokens, pays, s.CallbackData); err != nil {
			return fmt.Errorf("%w: outbound: %v", ErrSettlementFailed, err)
		}
	}
	return nil
}

// runMarketCalls executes the deferred underlying mint/burn instructions.
// While a call is in flight the market's address is recorded as the only
// legitimate callback origin.
func (e *Engine) runMarketCalls(market *Market, calls []MarketCall) error {
	if len(calls) == 0 {
		return nil
	}
	e.setCallbackMarket(market.Info.Addr)
	defer e.clearCallbackMarket()

	for _, call := range calls {
		if call.Liquidity.Sign() == 0 {
			continue
		}
		if call.Liquidity.Sign() > 0 {
			if _, _, err := market.underlying.Mint(call.TickLower, call.TickUpper, call.Liquidity); err != nil {
				return fmt.Errorf("%w: mint [%d,%d): %v", ErrSettlementFailed, call.TickLower, call.TickUpper, err)
			}
			continue
		}
		burn := new(big.Int).Neg(call.Liquidity)
		if _, _, err := market.underlying.Burn(call.TickLower, call.TickUpper, burn); err != nil {
			return fmt.Errorf("%w: burn [%d,%d): %v", ErrSettlementFailed, call.TickLower, call.TickUpper, err)
		}
		if _, _, err := market.underlying.Collect(call.TickLower, call.TickUpper); err != nil {
			return fmt.Errorf("%w: collect [%d,%d): %v", ErrSettlementFailed, call.TickLower, call.TickUpper, err)
		}
	}
	return nil
}

func takePositive(v *big.Int) *big.Int {
	if v.Sign() > 0 {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func takeNegative(v *big.Int) *big.Int {
	if v.Sign() < 0 {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}
