package oracle

import "PerpPool/internal/state"

// SequenceTracker orders price updates per asset. Gaps are tolerated,
// stale and duplicate updates are dropped.
// Not thread-safe: the Feed serializes access.
type SequenceTracker struct {
	lastSeq map[state.AssetID]int64
}

func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{lastSeq: make(map[state.AssetID]int64)}
}

// Accept reports whether seq is newer than the last accepted sequence for
// the asset, and records it if so. gap is set when an accepted seq skipped
// past last+1.
func (st *SequenceTracker) Accept(asset state.AssetID, seq int64) (accepted, gap bool) {
	last, seen := st.lastSeq[asset]
	if seen && seq <= last {
		return false, false
	}
	st.lastSeq[asset] = seq
	return true, seen && seq > last+1
}

// Last returns the last accepted sequence for the asset.
func (st *SequenceTracker) Last(asset state.AssetID) (int64, bool) {
	seq, ok := st.lastSeq[asset]
	return seq, ok
}
