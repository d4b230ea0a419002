package state

import (
	fpmath "PerpPool/internal/math"
	stdmath "math"

	"github.com/google/uuid"
)

// MarginDrift records one account's mark-to-market adjustment.
type MarginDrift struct {
	Account uuid.UUID
	Drift   int64 // saturated signed drift before clamping
	Before  uint64
	After   uint64
}

// MarkResult summarizes update_margin for one asset.
type MarkResult struct {
	Asset     AssetID
	Priced    bool
	Baseline  fpmath.Price
	Price     fpmath.Price
	Direction int64
	Drifts    []MarginDrift
}

// MarkToMarket moves margin between accounts as prices move, proportional
// to matched inventory.
type MarkToMarket struct {
	positions *PositionLedger
	margins   *MarginLedger
	prices    *PriceTracker
}

func NewMarkToMarket(pl *PositionLedger, ml *MarginLedger, pt *PriceTracker) *MarkToMarket {
	return &MarkToMarket{positions: pl, margins: ml, prices: pt}
}

// UpdateMargin applies the price change since the stored baseline to every
// account holding a Margin entry. Never fails: drift saturates and margin
// clamps at zero.
func (m *MarkToMarket) UpdateMargin(asset AssetID, oracle PriceSource) MarkResult {
	res := MarkResult{Asset: asset}

	price, ok := oracle.Price(asset)
	if !ok {
		return res
	}
	res.Priced = true
	res.Price = price

	p0, ok := m.prices.Baseline(asset)
	if !ok {
		p0 = price
	}
	res.Baseline = p0
	m.prices.SetBaseline(asset, price)

	delta, direction := price.AbsDiff(p0)
	res.Direction = direction
	if delta.IsZero() {
		return res
	}

	for _, acct := range m.margins.Accounts() {
		inv := m.positions.Inventory(asset, acct)
		if inv == 0 {
			continue
		}

		drift := saturatingDrift(direction*fpmath.Sign(inv), delta.SaturatingMulInt(fpmath.AbsAmount(inv)))
		before := m.margins.Get(acct)
		after := fpmath.SaturatingApplyDelta(before, drift)
		m.margins.Set(acct, after)

		res.Drifts = append(res.Drifts, MarginDrift{
			Account: acct,
			Drift:   drift,
			Before:  before,
			After:   after,
		})
	}

	return res
}

func saturatingDrift(sign int64, magnitude uint64) int64 {
	if magnitude > stdmath.MaxInt64 {
		if sign < 0 {
			return stdmath.MinInt64
		}
		return stdmath.MaxInt64
	}
	return sign * int64(magnitude)
}
