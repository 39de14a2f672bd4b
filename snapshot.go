// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package rangepool

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	_ "github.com/mattn/go-sqlite3"
)

// SnapshotStore persists engine state to sqlite so a restarted node can
// resume without replaying history. Big integers are stored as decimal
// strings; node and checkpoint keys as their packed uint64 form.
type SnapshotStore struct {
	db *sql.DB
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS engine (
	id    INTEGER PRIMARY KEY CHECK (id = 0),
	nonce INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS markets (
	addr          TEXT PRIMARY KEY,
	root_width    INTEGER NOT NULL,
	tick_spacing  INTEGER NOT NULL,
	proto_fees0   TEXT NOT NULL,
	proto_fees1   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	market           TEXT NOT NULL,
	key              INTEGER NOT NULL,
	self_liquidity   TEXT NOT NULL,
	subtree_liquidity TEXT NOT NULL,
	self_borrowed    TEXT NOT NULL,
	subtree_borrowed TEXT NOT NULL,
	fee_growth0      TEXT NOT NULL,
	fee_growth1      TEXT NOT NULL,
	PRIMARY KEY (market, key)
);
CREATE TABLE IF NOT EXISTS assets (
	id               TEXT PRIMARY KEY,
	owner            TEXT NOT NULL,
	market           TEXT NOT NULL,
	kind             INTEGER NOT NULL,
	tick_lower       INTEGER NOT NULL,
	tick_upper       INTEGER NOT NULL,
	liquidity        TEXT NOT NULL,
	collateral_token TEXT NOT NULL,
	vault_index      INTEGER NOT NULL,
	collateral       TEXT NOT NULL,
	last_settled     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS checkpoints (
	asset            TEXT NOT NULL,
	key              INTEGER NOT NULL,
	fee_growth0_last TEXT NOT NULL,
	fee_growth1_last TEXT NOT NULL,
	extra            TEXT NOT NULL,
	deposit_time     INTEGER NOT NULL,
	PRIMARY KEY (asset, key)
);
`

// OpenSnapshotStore opens (and if needed initializes) the snapshot db.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot schema: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Close() error { return s.db.Close() }

// Save writes the engine's full state in one sqlite transaction, replacing
// any previous snapshot.
func (s *SnapshotStore) Save(e *Engine) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"engine", "markets", "nodes", "assets", "checkpoints"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}

	// The asset id nonce must survive a restore or re-derived ids collide
	// with persisted assets.
	if _, err := tx.Exec(`INSERT INTO engine (id, nonce) VALUES (0, ?)`, int64(e.nonce)); err != nil {
		return err
	}

	for addr, market := range e.markets {
		if err := saveMarket(tx, addr, market); err != nil {
			return err
		}
	}
	for _, asset := range e.assets {
		if err := saveAsset(tx, asset); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func saveMarket(tx *sql.Tx, addr common.Address, market *Market) error {
	_, err := tx.Exec(
		`INSERT INTO markets (addr, root_width, tick_spacing, proto_fees0, proto_fees1) VALUES (?, ?, ?, ?, ?)`,
		addr.Hex(), market.store.rootWidth, market.store.spacing,
		market.ProtocolFees0.String(), market.ProtocolFees1.String())
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO nodes (market, key, self_liquidity, subtree_liquidity, self_borrowed, subtree_borrowed, fee_growth0, fee_growth1)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var insertErr error
	market.store.ForEach(func(key Key, n *Node) {
		if insertErr != nil {
			return
		}
		_, insertErr = stmt.Exec(addr.Hex(), int64(key),
			n.SelfLiquidity.String(), n.SubtreeLiquidity.String(),
			n.SelfBorrowed.String(), n.SubtreeBorrowed.String(),
			n.FeeGrowth0.String(), n.FeeGrowth1.String())
	})
	return insertErr
}

func saveAsset(tx *sql.Tx, asset *Asset) error {
	_, err := tx.Exec(
		`INSERT INTO assets (id, owner, market, kind, tick_lower, tick_upper, liquidity, collateral_token, vault_index, collateral, last_settled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		common.Hash(asset.ID).Hex(), asset.Owner.Hex(), asset.Market.Hex(),
		asset.Kind, asset.TickLower, asset.TickUpper, asset.Liquidity.String(),
		asset.CollateralToken.Address.Hex(), asset.VaultIndex,
		asset.Collateral.String(), asset.LastSettled)
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO checkpoints (asset, key, fee_growth0_last, fee_growth1_last, extra, deposit_time)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, ck := range asset.checkpoints {
		if _, err := stmt.Exec(common.Hash(asset.ID).Hex(), int64(key),
			ck.FeeGrowth0Last.String(), ck.FeeGrowth1Last.String(),
			ck.Extra.String(), ck.DepositTime); err != nil {
			return err
		}
	}
	return nil
}

// Load restores tree and position state into the engine. Markets must be
// re-registered first (the underlying collaborator is not persisted), then
// Load refills their stores and the asset set.
func (s *SnapshotStore) Load(e *Engine) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.loadEngine(e); err != nil {
		return err
	}
	if err := s.loadMarkets(e); err != nil {
		return err
	}
	if err := s.loadNodes(e); err != nil {
		return err
	}
	if err := s.loadAssets(e); err != nil {
		return err
	}
	return s.loadCheckpoints(e)
}

func (s *SnapshotStore) loadEngine(e *Engine) error {
	var nonce int64
	err := s.db.QueryRow(`SELECT nonce FROM engine WHERE id = 0`).Scan(&nonce)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	e.nonce = uint64(nonce)
	return nil
}

func (s *SnapshotStore) loadMarkets(e *Engine) error {
	rows, err := s.db.Query(`SELECT addr, root_width, tick_spacing, proto_fees0, proto_fees1 FROM markets`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var addrHex, fees0, fees1 string
		var rootWidth uint32
		var spacing int24
		if err := rows.Scan(&addrHex, &rootWidth, &spacing, &fees0, &fees1); err != nil {
			return err
		}
		market, ok := e.markets[common.HexToAddress(addrHex)]
		if !ok {
			return fmt.Errorf("%w: snapshot references %s", ErrMarketNotFound, addrHex)
		}
		if market.store.rootWidth != rootWidth || market.store.spacing != spacing {
			return fmt.Errorf("%w: snapshot coordinates do not match market", ErrIncompatibleRange)
		}
		market.ProtocolFees0 = mustBig(fees0)
		market.ProtocolFees1 = mustBig(fees1)
	}
	return rows.Err()
}

func (s *SnapshotStore) loadNodes(e *Engine) error {
	rows, err := s.db.Query(
		`SELECT market, key, self_liquidity, subtree_liquidity, self_borrowed, subtree_borrowed, fee_growth0, fee_growth1 FROM nodes`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var marketHex, selfLiq, subLiq, selfBor, subBor, g0, g1 string
		var rawKey int64
		if err := rows.Scan(&marketHex, &rawKey, &selfLiq, &subLiq, &selfBor, &subBor, &g0, &g1); err != nil {
			return err
		}
		market, ok := e.markets[common.HexToAddress(marketHex)]
		if !ok {
			return fmt.Errorf("%w: snapshot references %s", ErrMarketNotFound, marketHex)
		}
		market.store.nodes[Key(rawKey)] = &Node{
			SelfLiquidity:    mustBig(selfLiq),
			SubtreeLiquidity: mustBig(subLiq),
			SelfBorrowed:     mustBig(selfBor),
			SubtreeBorrowed:  mustBig(subBor),
			FeeGrowth0:       mustBig(g0),
			FeeGrowth1:       mustBig(g1),
		}
	}
	return rows.Err()
}

func (s *SnapshotStore) loadAssets(e *Engine) error {
	rows, err := s.db.Query(
		`SELECT id, owner, market, kind, tick_lower, tick_upper, liquidity, collateral_token, vault_index, collateral, last_settled FROM assets`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var idHex, ownerHex, marketHex, liq, collTokenHex, coll string
		var kind AssetKind
		var tickLower, tickUpper int24
		var vaultIndex uint32
		var lastSettled int64
		if err := rows.Scan(&idHex, &ownerHex, &marketHex, &kind, &tickLower, &tickUpper,
			&liq, &collTokenHex, &vaultIndex, &coll, &lastSettled); err != nil {
			return err
		}
		asset := &Asset{
			ID:              AssetID(common.HexToHash(idHex)),
			Owner:           common.HexToAddress(ownerHex),
			Market:          common.HexToAddress(marketHex),
			Kind:            kind,
			TickLower:       tickLower,
			TickUpper:       tickUpper,
			Liquidity:       mustBig(liq),
			CollateralToken: Currency{Address: common.HexToAddress(collTokenHex)},
			VaultIndex:      vaultIndex,
			Collateral:      mustBig(coll),
			LastSettled:     lastSettled,
			checkpoints:     make(map[Key]*Checkpoint),
		}
		e.assets[asset.ID] = asset
	}
	return rows.Err()
}

func (s *SnapshotStore) loadCheckpoints(e *Engine) error {
	rows, err := s.db.Query(
		`SELECT asset, key, fee_growth0_last, fee_growth1_last, extra, deposit_time FROM checkpoints`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var assetHex, g0, g1, extra string
		var rawKey, depositTime int64
		if err := rows.Scan(&assetHex, &rawKey, &g0, &g1, &extra, &depositTime); err != nil {
			return err
		}
		asset, ok := e.assets[AssetID(common.HexToHash(assetHex))]
		if !ok {
			return fmt.Errorf("%w: orphan checkpoint for %s", ErrAssetNotFound, assetHex)
		}
		asset.checkpoints[Key(rawKey)] = &Checkpoint{
			FeeGrowth0Last: mustBig(g0),
			FeeGrowth1Last: mustBig(g1),
			Extra:          mustBig(extra),
			DepositTime:    depositTime,
		}
	}
	return rows.Err()
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
