package state

import fpmath "PerpPool/internal/math"

// MatchResult summarizes match_interest for one asset.
type MatchResult struct {
	Asset        AssetID
	Longs        uint64
	Shorts       uint64
	ShortsFilled bool
	Ratio        fpmath.Perquintill
	Matched      int // accounts with non-zero inventory
}

// InterestMatcher recomputes matched inventory from current balances: the
// smaller side is filled 1:1, the larger side pro rata rounded down.
type InterestMatcher struct {
	positions *PositionLedger
}

func NewInterestMatcher(pl *PositionLedger) *InterestMatcher {
	return &InterestMatcher{positions: pl}
}

// MatchInterest is a cold recompute: previous inventory is discarded first.
func (im *InterestMatcher) MatchInterest(asset AssetID) MatchResult {
	res := MatchResult{Asset: asset}

	im.positions.ClearInventory(asset)
	positions := im.positions.AssetPositions(asset)

	for _, pos := range positions {
		b := fpmath.AbsAmount(pos.Balance)
		if pos.IsLong() {
			res.Longs = saturatingAdd(res.Longs, b)
		} else {
			res.Shorts = saturatingAdd(res.Shorts, b)
		}
	}

	if res.Longs == 0 || res.Shorts == 0 {
		return res
	}

	if res.Shorts < res.Longs {
		res.Ratio = fpmath.PerquintillFromRational(res.Shorts, res.Longs)
		res.ShortsFilled = true
	} else {
		res.Ratio = fpmath.PerquintillFromRational(res.Longs, res.Shorts)
	}

	for _, pos := range positions {
		filled := pos.IsLong() != res.ShortsFilled
		if filled {
			pos.Inventory = pos.Balance
		} else {
			// floor(r × |b|) <= |b|; only a MinInt64 balance yields 2^63
			scaled := res.Ratio.MulFloor(fpmath.AbsAmount(pos.Balance))
			inv, err := fpmath.SignedAmount(fpmath.Sign(pos.Balance), scaled)
			if err != nil {
				inv = -int64(scaled-1) - 1
			}
			pos.Inventory = inv
		}
		if pos.Inventory != 0 {
			res.Matched++
		}
	}

	return res
}

func saturatingAdd(a, b uint64) uint64 {
	sum, err := fpmath.CheckedAddBalance(a, b)
	if err != nil {
		return ^uint64(0)
	}
	return sum
}
