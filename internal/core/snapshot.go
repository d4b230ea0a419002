package core

import (
	"PerpPool/internal/auth"
	"PerpPool/internal/ledger"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/state"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// StateSnapshot is the full engine state at a sequence. Replay starts from
// the latest verified snapshot and applies the logged commands after it.
type StateSnapshot struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	PoolID    string `json:"pool_id"`

	Assets    []state.AssetID                     `json:"assets"`
	Params    map[state.AssetID]state.AssetParams `json:"params"`
	Baselines map[state.AssetID]fpmath.Price      `json:"baselines"`
	Margins   map[uuid.UUID]uint64                `json:"margins"`
	Positions []state.Position                    `json:"positions"`
	Balances  []BalanceEntry                      `json:"balances"`

	// Most recent first.
	IdempotencyKeys []string `json:"idempotency_keys"`
}

// BalanceEntry is one ledger account balance.
type BalanceEntry struct {
	Path    string            `json:"path"`
	Key     ledger.AccountKey `json:"key"`
	Balance int64             `json:"balance"`
}

// Snapshot captures the current state. Only the runner goroutine may call it.
func (p *Processor) Snapshot() *StateSnapshot {
	e := p.engine
	hash := p.hasher.GetPrevHash()
	snap := &StateSnapshot{
		Sequence:        p.sequence,
		StateHash:       hex.EncodeToString(hash[:]),
		PoolID:          e.poolID,
		Assets:          e.universe.Assets(),
		Params:          e.params.All(),
		Baselines:       e.baselines.All(),
		Margins:         e.margins.All(),
		IdempotencyKeys: p.idempotency.LRU().Keys(),
	}
	for _, pos := range e.positions.AllPositions() {
		snap.Positions = append(snap.Positions, *pos)
	}
	for key, bal := range e.balances.Snapshot() {
		snap.Balances = append(snap.Balances, BalanceEntry{Path: key.AccountPath(), Key: key, Balance: bal})
	}
	sort.Slice(snap.Balances, func(i, j int) bool { return snap.Balances[i].Path < snap.Balances[j].Path })
	return snap
}

// Restore replaces the engine state with snap. The authorizer is kept.
func (p *Processor) Restore(snap *StateSnapshot) error {
	engine, err := restoreEngine(snap, p.engine.authorizer)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("snapshot seq=%d: bad state hash %q", snap.Sequence, snap.StateHash)
	}
	var hash [32]byte
	copy(hash[:], raw)

	p.engine = engine
	p.sequence = snap.Sequence
	p.hasher.SetPrevHash(hash)

	// stored most recent first; warm oldest first so recency survives
	keys := make([]string, len(snap.IdempotencyKeys))
	for i, k := range snap.IdempotencyKeys {
		keys[len(keys)-1-i] = k
	}
	p.idempotency.Warm(keys)

	if p.metrics != nil {
		p.metrics.Sequence.Set(float64(p.sequence))
	}
	return nil
}

func restoreEngine(snap *StateSnapshot, authorizer auth.Authorizer) (*Engine, error) {
	universe, err := state.NewUniverse(snap.Assets...)
	if err != nil {
		return nil, fmt.Errorf("snapshot universe: %w", err)
	}
	if authorizer == nil {
		authorizer = auth.RootOnly{}
	}
	e := &Engine{
		universe:   universe,
		poolID:     snap.PoolID,
		params:     state.NewParameterStore(universe),
		positions:  state.NewPositionLedger(),
		margins:    state.NewMarginLedger(),
		baselines:  state.NewPriceTracker(),
		balances:   ledger.NewBalanceTracker(),
		authorizer: authorizer,
	}
	e.wire()

	for _, asset := range snap.Assets {
		params, ok := snap.Params[asset]
		if !ok {
			return nil, fmt.Errorf("snapshot: no params for %s", asset)
		}
		if err := state.ValidateAssetParams(params); err != nil {
			return nil, fmt.Errorf("snapshot params %s: %w", asset, err)
		}
		e.params.Restore(asset, params)
	}
	for asset, price := range snap.Baselines {
		if !universe.Contains(asset) {
			return nil, fmt.Errorf("snapshot baseline %s: %w", asset, ErrBadAssetID)
		}
		e.baselines.SetBaseline(asset, price)
	}
	for acct, m := range snap.Margins {
		e.margins.Set(acct, m)
	}
	for _, pos := range snap.Positions {
		if !universe.Contains(pos.Asset) {
			return nil, fmt.Errorf("snapshot position %s: %w", pos.Asset, ErrBadAssetID)
		}
		e.positions.RestorePosition(pos)
	}
	for _, b := range snap.Balances {
		e.balances.Restore(b.Key, b.Balance)
	}
	if err := e.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("snapshot seq=%d: %w", snap.Sequence, err)
	}
	return e, nil
}
