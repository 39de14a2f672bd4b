// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
)

// Engine is the LXRange singleton: all markets and positions live here.
// Execution is single-threaded and atomic per operation; the mutex only
// fences the engine against the host calling in from multiple goroutines,
// and the locked flag blocks reentry from transfer callbacks triggered by
// the same operation.
type Engine struct {
	mu sync.RWMutex

	cfg   *Config
	curve *FeeCurve

	markets map[common.Address]*Market
	assets  map[AssetID]*Asset
	nonce   uint64

	vault   Vault
	settler Settler
	sink    EventSink

	approvedFactories map[common.Address]bool

	// locked prevents reentrancy into state-mutating entry points.
	locked bool

	// callbackMarket records which underlying market is mid-callback
	// during a mint/burn; callbacks from any other address are spoofed.
	callbackMarket common.Address

	// now is the clock, swappable in tests.
	now func() int64
}

// NewEngine creates the engine with its boundary collaborators.
func NewEngine(cfg *Config, vault Vault, settler Settler, sink EventSink) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:               cfg,
		curve:             cfg.Curve(),
		markets:           make(map[common.Address]*Market),
		assets:            make(map[AssetID]*Asset),
		vault:             vault,
		settler:           settler,
		sink:              sink,
		approvedFactories: cfg.Factories(),
		now:               func() int64 { return time.Now().Unix() },
	}
}

// enter acquires the reentrancy guard. Every entry point pairs it with a
// deferred exit so the guard is released on every path, including failure.
func (e *Engine) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked {
		return ErrReentrant
	}
	e.locked = true
	return nil
}

func (e *Engine) exit() {
	e.mu.Lock()
	e.locked = false
	e.callbackMarket = common.Address{}
	e.mu.Unlock()
}

func (e *Engine) setCallbackMarket(addr common.Address) {
	e.mu.Lock()
	e.callbackMarket = addr
	e.mu.Unlock()
}

func (e *Engine) clearCallbackMarket() {
	e.setCallbackMarket(common.Address{})
}

// ValidateCallback is invoked by the host when an underlying market calls
// back during a mint/burn. Only the market recorded as mid-callback is
// legitimate; anything else is a spoofed or cross-market reentry.
func (e *Engine) ValidateCallback(from common.Address) error {
	e.mu.RLock()
	expected := e.callbackMarket
	e.mu.RUnlock()
	if expected == (common.Address{}) || from != expected {
		return fmt.Errorf("%w: from=%s", ErrUnexpectedCallback, from.Hex())
	}
	return nil
}

// RegisterMarket validates the underlying market and fixes its tree
// coordinate system. Root width and tick spacing never change after this.
func (e *Engine) RegisterMarket(underlying UnderlyingMarket) (*Market, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	info, err := underlying.GetMarketInfo()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMarketNotValidated, err)
	}
	if _, exists := e.markets[info.Addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, info.Addr.Hex())
	}
	if err := validateMarket(info, e.approvedFactories, e.cfg.MinObservations); err != nil {
		return nil, err
	}

	market, err := newMarket(info, underlying, e.curve)
	if err != nil {
		return nil, err
	}
	e.markets[info.Addr] = market
	return market, nil
}

// AccrueSwapFees ingests swap fees the host reports for a tick range of an
// underlying market, crediting them to the covering makers through the
// same per-node accumulators the reservation charge feeds. Fees over ticks
// with no maker coverage accrue to the protocol.
func (e *Engine) AccrueSwapFees(market common.Address, tickLower, tickUpper int24, fee0, fee1 *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()

	m, err := e.market(market)
	if err != nil {
		return err
	}
	if fee0 == nil {
		fee0 = big.NewInt(0)
	}
	if fee1 == nil {
		fee1 = big.NewInt(0)
	}
	if fee0.Sign() < 0 || fee1.Sign() < 0 {
		return fmt.Errorf("%w: negative fee", ErrInvalidInput)
	}

	store := m.store
	lowIdx, err := TickToIndex(tickLower, store.rootWidth, store.spacing)
	if err != nil {
		return err
	}
	highIdx, err := TickToIndex(tickUpper, store.rootWidth, store.spacing)
	if err != nil {
		return err
	}
	if lowIdx > highIdx {
		return fmt.Errorf("%w: [%d,%d)", ErrInvalidTickRange, tickLower, tickUpper)
	}
	keys, err := DecomposeRange(lowIdx, highIdx, store.rootWidth)
	if err != nil {
		return err
	}

	tx := store.begin()
	w := newWalker(m, tx, nil, e.curve, e.now())
	w.accrueSwap(keys, fee0, fee1)
	tx.commit()
	m.addProtocolFees(w.proto0, w.proto1)
	return nil
}

// GetMarket returns a registered market's state.
func (e *Engine) GetMarket(addr common.Address) (*Market, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	market, ok := e.markets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, addr.Hex())
	}
	return market, nil
}

// GetAsset returns a position by id.
func (e *Engine) GetAsset(id AssetID) (*Asset, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	asset, ok := e.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrAssetNotFound, id[:8])
	}
	return asset, nil
}

// emit publishes an event if a sink is attached.
func (e *Engine) emit(ev Event) {
	if e.sink != nil {
		e.sink.Emit(ev)
	}
}

func (e *Engine) market(addr common.Address) (*Market, error) {
	market, ok := e.markets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, addr.Hex())
	}
	return market, nil
}

func (e *Engine) asset(id AssetID) (*Asset, error) {
	asset, ok := e.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrAssetNotFound, id[:8])
	}
	return asset, nil
}
