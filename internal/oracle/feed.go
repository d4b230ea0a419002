package oracle

import (
	"PerpPool/internal/event"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/observability"
	"PerpPool/internal/state"
	"fmt"
	"sync"
)

// Feed is the live, concurrency-safe price table. NATS consumers and the
// Redis poller write to it; the Runner snapshots it per command.
type Feed struct {
	universe *state.Universe
	metrics  *observability.Metrics

	mu     sync.RWMutex
	prices map[state.AssetID]fpmath.Price
	seq    *SequenceTracker
}

func NewFeed(universe *state.Universe, metrics *observability.Metrics) *Feed {
	return &Feed{
		universe: universe,
		metrics:  metrics,
		prices:   make(map[state.AssetID]fpmath.Price),
		seq:      NewSequenceTracker(),
	}
}

// Apply records a sequenced price update. It returns false when the update
// is stale or a duplicate.
func (f *Feed) Apply(u *event.PriceUpdate) (bool, error) {
	asset := state.AssetID(u.Asset)
	if !f.universe.Contains(asset) {
		return false, fmt.Errorf("price update for %s: %w", u.Asset, state.ErrBadAssetID)
	}

	f.mu.Lock()
	accepted, gap := f.seq.Accept(asset, u.Sequence)
	if accepted {
		f.prices[asset] = u.Price
	}
	f.mu.Unlock()

	if f.metrics != nil {
		if accepted {
			f.metrics.PriceUpdates.WithLabelValues(u.Asset).Inc()
			if gap {
				f.metrics.PriceSequenceGaps.WithLabelValues(u.Asset).Inc()
			}
		} else {
			f.metrics.PriceStaleDropped.WithLabelValues(u.Asset).Inc()
		}
	}
	return accepted, nil
}

// Set stores a price without sequencing (polled sources).
func (f *Feed) Set(asset state.AssetID, price fpmath.Price) error {
	if !f.universe.Contains(asset) {
		return fmt.Errorf("price for %s: %w", asset, state.ErrBadAssetID)
	}
	f.mu.Lock()
	f.prices[asset] = price
	f.mu.Unlock()
	if f.metrics != nil {
		f.metrics.PriceUpdates.WithLabelValues(string(asset)).Inc()
	}
	return nil
}

// Clear removes an asset's price so it reads as unavailable until the next
// update.
func (f *Feed) Clear(asset state.AssetID) {
	f.mu.Lock()
	delete(f.prices, asset)
	f.mu.Unlock()
}

func (f *Feed) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(Snapshot, len(f.prices))
	for k, v := range f.prices {
		out[k] = v
	}
	return out
}

// LastSequence returns the last accepted sequence for the asset.
func (f *Feed) LastSequence(asset state.AssetID) (int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.seq.Last(asset)
}
