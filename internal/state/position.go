// internal/state/position.go
package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// Position is an account's exposure in one asset.
type Position struct {
	Account   uuid.UUID `json:"account"`
	Asset     AssetID   `json:"asset"`
	Balance   int64     `json:"balance"`   // signed exposure: + long, - short
	Inventory int64     `json:"inventory"` // matched part of Balance
}

type PositionKey struct {
	Account uuid.UUID
	Asset   AssetID
}

// IsLong treats a zero balance as long, as the matcher does.
func (p *Position) IsLong() bool {
	return p.Balance >= 0
}

// IsFlat returns true if the position carries no exposure at all.
func (p *Position) IsFlat() bool {
	return p.Balance == 0 && p.Inventory == 0
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)

	// account (16 bytes UUID binary)
	buf = append(buf, p.Account[:]...)

	// asset (length-prefixed)
	buf = append(buf, byte(len(p.Asset)))
	buf = append(buf, []byte(p.Asset)...)

	buf = appendInt64LE(buf, p.Balance)
	buf = appendInt64LE(buf, p.Inventory)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// PositionLedger holds Balance and Inventory per (asset, account).
// Entries are created lazily and never deleted.
type PositionLedger struct {
	positions map[PositionKey]*Position
	byAsset   map[AssetID]map[uuid.UUID]*Position
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[PositionKey]*Position),
		byAsset:   make(map[AssetID]map[uuid.UUID]*Position),
	}
}

// Get returns the position or nil.
func (pl *PositionLedger) Get(asset AssetID, account uuid.UUID) *Position {
	return pl.positions[PositionKey{Account: account, Asset: asset}]
}

func (pl *PositionLedger) getOrCreate(asset AssetID, account uuid.UUID) *Position {
	key := PositionKey{Account: account, Asset: asset}
	pos := pl.positions[key]
	if pos == nil {
		pos = &Position{Account: account, Asset: asset}
		pl.positions[key] = pos
		idx := pl.byAsset[asset]
		if idx == nil {
			idx = make(map[uuid.UUID]*Position)
			pl.byAsset[asset] = idx
		}
		idx[account] = pos
	}
	return pos
}

func (pl *PositionLedger) Balance(asset AssetID, account uuid.UUID) int64 {
	if pos := pl.Get(asset, account); pos != nil {
		return pos.Balance
	}
	return 0
}

func (pl *PositionLedger) Inventory(asset AssetID, account uuid.UUID) int64 {
	if pos := pl.Get(asset, account); pos != nil {
		return pos.Inventory
	}
	return 0
}

func (pl *PositionLedger) SetBalance(asset AssetID, account uuid.UUID, balance int64) {
	pl.getOrCreate(asset, account).Balance = balance
}

func (pl *PositionLedger) SetInventory(asset AssetID, account uuid.UUID, inventory int64) {
	pl.getOrCreate(asset, account).Inventory = inventory
}

// ClearInventory zeroes every Inventory entry of an asset.
func (pl *PositionLedger) ClearInventory(asset AssetID) {
	for _, pos := range pl.byAsset[asset] {
		pos.Inventory = 0
	}
}

// AssetPositions returns the asset's positions ordered by account.
func (pl *PositionLedger) AssetPositions(asset AssetID) []*Position {
	idx := pl.byAsset[asset]
	out := make([]*Position, 0, len(idx))
	for _, pos := range idx {
		out = append(out, pos)
	}
	sortPositions(out)
	return out
}

// AccountPositions returns the account's positions ordered by asset.
func (pl *PositionLedger) AccountPositions(account uuid.UUID) []*Position {
	out := make([]*Position, 0)
	for key, pos := range pl.positions {
		if key.Account == account {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// AllPositions returns every position (for snapshot creation)
func (pl *PositionLedger) AllPositions() []*Position {
	out := make([]*Position, 0, len(pl.positions))
	for _, pos := range pl.positions {
		out = append(out, pos)
	}
	sortPositions(out)
	return out
}

// RestorePosition directly sets a position (used for snapshot restore)
func (pl *PositionLedger) RestorePosition(p Position) {
	pos := pl.getOrCreate(p.Asset, p.Account)
	pos.Balance = p.Balance
	pos.Inventory = p.Inventory
}

func sortPositions(ps []*Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Asset != ps[j].Asset {
			return ps[i].Asset < ps[j].Asset
		}
		return bytes.Compare(ps[i].Account[:], ps[j].Account[:]) < 0
	})
}
