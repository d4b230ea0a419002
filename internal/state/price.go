package state

import fpmath "PerpPool/internal/math"

// PriceTracker holds the per-asset price at which mark-to-market was last
// applied. It is a reference for the next delta, never a valuation price.
type PriceTracker struct {
	baselines map[AssetID]fpmath.Price
}

func NewPriceTracker() *PriceTracker {
	return &PriceTracker{baselines: make(map[AssetID]fpmath.Price)}
}

func (pt *PriceTracker) Baseline(asset AssetID) (fpmath.Price, bool) {
	p, ok := pt.baselines[asset]
	return p, ok
}

func (pt *PriceTracker) SetBaseline(asset AssetID, p fpmath.Price) {
	pt.baselines[asset] = p
}

// All returns all baselines (for snapshot creation)
func (pt *PriceTracker) All() map[AssetID]fpmath.Price {
	out := make(map[AssetID]fpmath.Price, len(pt.baselines))
	for k, v := range pt.baselines {
		out[k] = v
	}
	return out
}
