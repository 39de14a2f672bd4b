// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/sugawarayuuta/sonnet"
)

// ConfigKey is the key used in json config files for the engine config.
const ConfigKey = "rangePoolConfig"

// Config carries the engine's tunable parameters. Rates and shares are in
// basis points; the zero value of any field falls back to the default
// curve's setting.
type Config struct {
	// MinLiquidity is the smallest position size accepted.
	MinLiquidity uint64 `json:"minLiquidity"`

	// MinObservations is the oracle history floor for market validation.
	MinObservations uint16 `json:"minObservations"`

	// TwapInterval is the oracle lookback (seconds) used when valuing
	// taker collateral.
	TwapInterval int64 `json:"twapInterval"`

	// CompoundMinFee gates compounding below this harvested total.
	CompoundMinFee uint64 `json:"compoundMinFee"`

	// Reservation curve parameters (basis points).
	BaseRateBps     uint32 `json:"baseRateBps"`
	Slope1Bps       uint32 `json:"slope1Bps"`
	Slope2Bps       uint32 `json:"slope2Bps"`
	OptimalUtilBps  uint32 `json:"optimalUtilBps"`
	ProtoShareMax   uint32 `json:"protoShareMaxBps"`
	ProtoShareMin   uint32 `json:"protoShareMinBps"`
	JITWindowSecs   int64  `json:"jitWindowSecs"`

	// ApprovedFactories whitelists underlying market factories.
	ApprovedFactories []common.Address `json:"approvedFactories"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		MinLiquidity:    1_000,
		MinObservations: 10,
		TwapInterval:    1800,
		CompoundMinFee:  100,
		JITWindowSecs:   600,
	}
}

// ParseConfig decodes an engine config from JSON.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := sonnet.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ConfigKey, err)
	}
	return cfg, nil
}

// MarshalJSON round-trips the config through the same codec.
func (c *Config) Marshal() ([]byte, error) {
	return sonnet.Marshal(c)
}

// Curve builds the fee curve from the configured basis points, defaulting
// any unset group to the standard curve.
func (c *Config) Curve() *FeeCurve {
	curve := DefaultFeeCurve()
	if c.Slope1Bps != 0 || c.Slope2Bps != 0 || c.OptimalUtilBps != 0 {
		curve.BaseRate = bps(c.BaseRateBps)
		curve.Slope1 = bps(c.Slope1Bps)
		curve.Slope2 = bps(c.Slope2Bps)
		curve.OptimalUtilization = bps(c.OptimalUtilBps)
	}
	if c.ProtoShareMax != 0 || c.ProtoShareMin != 0 {
		curve.ProtocolShareMax = bps(c.ProtoShareMax)
		curve.ProtocolShareMin = bps(c.ProtoShareMin)
	}
	if c.JITWindowSecs > 0 {
		curve.JITWindow = c.JITWindowSecs
	}
	return curve
}

// Factories returns the whitelist as a lookup set.
func (c *Config) Factories() map[common.Address]bool {
	set := make(map[common.Address]bool, len(c.ApprovedFactories))
	for _, f := range c.ApprovedFactories {
		set[f] = true
	}
	return set
}

// bps converts basis points to the 1e18 fixed-point scale.
func bps(v uint32) *big.Int {
	r := new(big.Int).Mul(big.NewInt(int64(v)), RAY)
	return r.Div(r, big.NewInt(10_000))
}
