// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rangepool implements the LXRange precompile core: an aggregated
// range-liquidity engine over a tick-ranged market. Maker deposits and taker
// borrows across overlapping tick ranges are indexed by an implicit segment
// tree keyed by compact (base, width) node keys, so liquidity updates and fee
// harvesting cost O(log rootWidth) per operation instead of O(positions).
package rangepool

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Precompile addresses for LXRange components
// LP-aligned format: 0x0000000000000000000000000000000000LPNUM
const (
	LXRangeAddress      = "0x0000000000000000000000000000000000009090" // LP-9090 LXRange (range liquidity engine)
	LXRangeVaultAddress = "0x0000000000000000000000000000000000009091" // LP-9091 LXRangeVault (collateral custody)
)

// Gas costs for range liquidity operations
const (
	GasNewAsset     uint64 = 30_000 // Open maker/taker position
	GasRemoveAsset  uint64 = 25_000 // Close position
	GasModifyRange  uint64 = 20_000 // Adjust liquidity over a range
	GasCollectFees  uint64 = 15_000 // Harvest fees without liquidity change
	GasCompound     uint64 = 30_000 // Reinvest harvested fees
	GasNodeTouch    uint64 = 800    // Per canonical node visited
	GasSettlement   uint64 = 8_000  // Two-phase net settlement
	GasMarketLookup uint64 = 100    // Market state lookup
)

// AssetKind tags the position variant. The set is closed; dispatch over it
// is always an explicit switch.
type AssetKind uint8

const (
	AssetMaker AssetKind = iota
	AssetMakerCompounding
	AssetTaker
)

// String returns the kind name for logs and events.
func (k AssetKind) String() string {
	switch k {
	case AssetMaker:
		return "maker"
	case AssetMakerCompounding:
		return "maker-compounding"
	case AssetTaker:
		return "taker"
	default:
		return "unknown"
	}
}

// Currency represents a token (native or ERC20)
// Address(0) represents native LUX
type Currency struct {
	Address common.Address
}

// NativeCurrency represents native LUX (no wrapping needed)
var NativeCurrency = Currency{Address: common.Address{}}

// IsNative returns true if this currency is native LUX
func (c Currency) IsNative() bool {
	return c.Address == common.Address{}
}

// ToBytes serializes currency for storage
func (c Currency) ToBytes() []byte {
	return c.Address.Bytes()
}

// CurrencyFromBytes deserializes currency from storage
func CurrencyFromBytes(data []byte) Currency {
	return Currency{Address: common.BytesToAddress(data)}
}

// Ledger accumulates the signed token flows and harvested fees produced by
// one walker traversal. Positive amounts are owed to the protocol, negative
// amounts are owed to the caller. A Ledger lives for exactly one operation
// and is consumed immediately by settlement.
type Ledger struct {
	Amount0 *big.Int // Token0 principal delta (positive = caller owes)
	Amount1 *big.Int // Token1 principal delta
	Fees0   *big.Int // Token0 fees harvested for the asset owner (always >= 0)
	Fees1   *big.Int // Token1 fees harvested for the asset owner
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Amount0: big.NewInt(0),
		Amount1: big.NewInt(0),
		Fees0:   big.NewInt(0),
		Fees1:   big.NewInt(0),
	}
}

// AddAmounts accumulates signed principal amounts.
func (l *Ledger) AddAmounts(amount0, amount1 *big.Int) {
	l.Amount0.Add(l.Amount0, amount0)
	l.Amount1.Add(l.Amount1, amount1)
}

// AddFees accumulates harvested fee amounts.
func (l *Ledger) AddFees(fee0, fee1 *big.Int) {
	l.Fees0.Add(l.Fees0, fee0)
	l.Fees1.Add(l.Fees1, fee1)
}

// Net returns the per-token totals settlement operates on:
// principal minus fees owed out to the position owner.
func (l *Ledger) Net() (*big.Int, *big.Int) {
	net0 := new(big.Int).Sub(l.Amount0, l.Fees0)
	net1 := new(big.Int).Sub(l.Amount1, l.Fees1)
	return net0, net1
}

// IsZero returns true if nothing accumulated.
func (l *Ledger) IsZero() bool {
	return l.Amount0.Sign() == 0 && l.Amount1.Sign() == 0 &&
		l.Fees0.Sign() == 0 && l.Fees1.Sign() == 0
}

// AssetID uniquely identifies a position.
type AssetID [32]byte

// ComputeAssetID derives the position identifier from its defining fields.
func ComputeAssetID(owner common.Address, market common.Address, tickLower, tickUpper int24, nonce uint64) AssetID {
	h := blake3.New()
	h.Write(owner.Bytes())
	h.Write(market.Bytes())

	var buf [16]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(tickLower))
	binary.BigEndian.PutUint32(buf[4:8], uint32(tickUpper))
	binary.BigEndian.PutUint64(buf[8:16], nonce)
	h.Write(buf[:])

	var id AssetID
	h.Digest().Read(id[:])
	return id
}

// Asset is a maker or taker position over a tick range.
type Asset struct {
	ID        AssetID
	Owner     common.Address
	Market    common.Address
	Kind      AssetKind
	TickLower int24
	TickUpper int24

	// Liquidity currently deposited (maker) or borrowed (taker), applied
	// uniformly across the canonical nodes of the range.
	Liquidity *big.Int

	// Taker collateral custody references
	CollateralToken Currency
	VaultIndex      uint32
	Collateral      *big.Int

	// LastSettled is the unix time reservation fees were last accrued for
	// this asset (takers only).
	LastSettled int64

	// checkpoints records the fee growth last observed by this asset at
	// each canonical node of its range, keyed by node key.
	checkpoints map[Key]*Checkpoint
}

// Checkpoint is the per-(asset, node) fee growth record. Owed fee for an
// interval is (node accumulator - checkpoint) * asset liquidity at the node.
type Checkpoint struct {
	FeeGrowth0Last *big.Int // Q128 fee growth per unit liquidity, token0
	FeeGrowth1Last *big.Int // Q128 fee growth per unit liquidity, token1

	// Extra is compounded liquidity accrued at this node on top of the
	// asset's uniform base liquidity. Compounding deposits different
	// amounts per node, so the surplus is tracked per checkpoint.
	Extra *big.Int

	// DepositTime is the unix time this asset last added liquidity at the
	// node. Input to the JIT fee-credit penalty.
	DepositTime int64
}

// EventKind identifies a state-change event of external interest.
type EventKind uint8

const (
	EventAssetCreated EventKind = iota
	EventAssetRemoved
	EventCollateralDeposited
	EventCollateralWithdrawn
)

// Event is emitted on asset lifecycle and collateral movements.
type Event struct {
	Kind      EventKind
	Asset     AssetID
	Recipient common.Address
	Token     Currency
	Amount    *big.Int
}

// EventSink receives engine events. A nil sink drops them.
type EventSink interface {
	Emit(Event)
}

// Errors - validation (rejected before any mutation)
var (
	ErrInvalidKey        = errors.New("invalid node key")
	ErrWidthNotPow2      = errors.New("node width not a power of two")
	ErrBaseUnaligned     = errors.New("node base not aligned to width")
	ErrUnalignedTick     = errors.New("tick not aligned to spacing")
	ErrIndexOutOfRange   = errors.New("tree index out of range")
	ErrInvalidTickRange  = errors.New("invalid tick range")
	ErrIncompatibleRange = errors.New("tick bounds incompatible with root sizing")
	ErrInvalidInput      = errors.New("invalid call input")
)

// Errors - policy
var (
	ErrBelowMinLiquidity  = errors.New("liquidity below minimum")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrMarketNotValidated = errors.New("market failed validation")
	ErrFactoryNotApproved = errors.New("market factory not approved")
	ErrTooFewObservations = errors.New("market has too few oracle observations")
	ErrWrongAssetKind     = errors.New("operation not valid for asset kind")
	ErrBelowCompoundMin   = errors.New("harvested fees below compound threshold")
)

// Errors - solvency (rejected atomically, zero state change)
var (
	ErrInsufficientLiquidity  = errors.New("insufficient available liquidity")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrNegativeLiquidity      = errors.New("liquidity would go negative")
)

// Errors - reentrancy (fatal, aborts the whole call)
var (
	ErrReentrant          = errors.New("reentrancy detected")
	ErrUnexpectedCallback = errors.New("callback from unexpected market")
)

// Errors - lifecycle
var (
	ErrAssetNotFound    = errors.New("asset not found")
	ErrAssetExists      = errors.New("asset already exists")
	ErrMarketNotFound   = errors.New("market not found")
	ErrMarketExists     = errors.New("market already registered")
	ErrSettlementFailed = errors.New("settlement failed")
)

// Constants for math
var (
	Q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)

	// RAY is the 1e18 fixed point base used by the fee curve.
	RAY = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	MinTick int24 = -887272
	MaxTick int24 = 887272

	MinSqrtRatio    = new(big.Int).SetUint64(4295128739)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

// SecondsPerYear for reservation rate conversion
var SecondsPerYear = big.NewInt(31536000)

// int24 type alias for ticks
type int24 = int32

// uint24 type alias for fee values
type uint24 = uint32
