// internal/state/liquidation_engine.go
package state

import (
	fpmath "PerpPool/internal/math"

	"github.com/google/uuid"
)

// LiquidationKind is the outcome of the solvency check for one account.
type LiquidationKind int32

const (
	LiquidationNone   LiquidationKind = iota
	LiquidationFull                   // every Balance and Inventory zeroed
	LiquidationUnwind                 // Balance collapsed to Inventory
)

func (k LiquidationKind) String() string {
	switch k {
	case LiquidationNone:
		return "none"
	case LiquidationFull:
		return "full"
	case LiquidationUnwind:
		return "unwind"
	default:
		return "unknown"
	}
}

// LiquidationAction records one account acted on by a liquidation pass.
type LiquidationAction struct {
	Account        uuid.UUID
	Kind           LiquidationKind
	Margin         uint64
	LiquidationSum uint64
	UnwindSum      uint64
}

// LiquidationEngine zeroes or unwinds insolvent accounts.
type LiquidationEngine struct {
	universe  *Universe
	params    *ParameterStore
	positions *PositionLedger
	margins   *MarginLedger
	prices    *PriceTracker
}

func NewLiquidationEngine(
	u *Universe,
	ps *ParameterStore,
	pl *PositionLedger,
	ml *MarginLedger,
	pt *PriceTracker,
) *LiquidationEngine {
	return &LiquidationEngine{
		universe:  u,
		params:    ps,
		positions: pl,
		margins:   ml,
		prices:    pt,
	}
}

// Liquidate runs one global pass over every account with a Margin entry.
// Only accounts whose positions actually change are reported. Margin is
// never touched here.
func (le *LiquidationEngine) Liquidate() []LiquidationAction {
	var actions []LiquidationAction
	assets := le.universe.Assets()

	for _, acct := range le.margins.Accounts() {
		margin := le.margins.Get(acct)
		liqSum, unwindSum := le.sums(acct, assets)

		switch {
		case liqSum >= margin:
			if le.wipe(acct, assets) {
				actions = append(actions, LiquidationAction{
					Account: acct, Kind: LiquidationFull,
					Margin: margin, LiquidationSum: liqSum, UnwindSum: unwindSum,
				})
			}
		case unwindSum > margin:
			if le.unwind(acct, assets) {
				actions = append(actions, LiquidationAction{
					Account: acct, Kind: LiquidationUnwind,
					Margin: margin, LiquidationSum: liqSum, UnwindSum: unwindSum,
				})
			}
		}
	}

	return actions
}

// sums accumulates ceil(liq_i × price_i × |inventory_i|) and the same over
// |balance_i|, across priced assets. Overflow saturates.
func (le *LiquidationEngine) sums(acct uuid.UUID, assets []AssetID) (liqSum, unwindSum uint64) {
	for _, id := range assets {
		price, ok := le.prices.Baseline(id)
		if !ok {
			continue
		}
		ratio := le.params.Get(id).LiquidationRatio

		liqSum = saturatingAdd(liqSum, saturatingMulCeil(ratio, price, fpmath.AbsAmount(le.positions.Inventory(id, acct))))
		unwindSum = saturatingAdd(unwindSum, saturatingMulCeil(ratio, price, fpmath.AbsAmount(le.positions.Balance(id, acct))))
	}
	return liqSum, unwindSum
}

func (le *LiquidationEngine) wipe(acct uuid.UUID, assets []AssetID) bool {
	changed := false
	for _, id := range assets {
		pos := le.positions.Get(id, acct)
		if pos == nil || pos.IsFlat() {
			continue
		}
		pos.Balance = 0
		pos.Inventory = 0
		changed = true
	}
	return changed
}

func (le *LiquidationEngine) unwind(acct uuid.UUID, assets []AssetID) bool {
	changed := false
	for _, id := range assets {
		pos := le.positions.Get(id, acct)
		if pos == nil || pos.Balance == pos.Inventory {
			continue
		}
		pos.Balance = pos.Inventory
		changed = true
	}
	return changed
}

func saturatingMulCeil(r fpmath.Permill, price fpmath.Price, qty uint64) uint64 {
	v, err := r.MulCeil(price, qty)
	if err != nil {
		return ^uint64(0)
	}
	return v
}
