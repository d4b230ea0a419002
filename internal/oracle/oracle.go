// Package oracle holds the live view of external asset prices.
package oracle

import (
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/state"
	"sort"
)

// Provider exposes the current oracle view. The engine never reads a
// Provider directly: each command captures a Snapshot first so the command
// replays against the same prices.
type Provider interface {
	Snapshot() Snapshot
}

// Snapshot is an immutable price view. It implements state.PriceSource.
type Snapshot map[state.AssetID]fpmath.Price

func (s Snapshot) Price(asset state.AssetID) (fpmath.Price, bool) {
	p, ok := s[asset]
	return p, ok
}

// Encode converts the snapshot to its string-keyed wire form.
func (s Snapshot) Encode() map[string]fpmath.Price {
	out := make(map[string]fpmath.Price, len(s))
	for k, v := range s {
		out[string(k)] = v
	}
	return out
}

// Assets returns the priced assets in lexical order.
func (s Snapshot) Assets() []state.AssetID {
	out := make([]state.AssetID, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decode is the inverse of Encode.
func Decode(m map[string]fpmath.Price) Snapshot {
	out := make(Snapshot, len(m))
	for k, v := range m {
		out[state.AssetID(k)] = v
	}
	return out
}

// Static is a fixed Provider, used by replay and tests.
type Static Snapshot

func (s Static) Snapshot() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
