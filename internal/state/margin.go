package state

import (
	fpmath "PerpPool/internal/math"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// MarginLedger holds each account's collateral balance. An account is part
// of the settlement population once it has an entry, even a zero one.
type MarginLedger struct {
	margins map[uuid.UUID]uint64
}

func NewMarginLedger() *MarginLedger {
	return &MarginLedger{margins: make(map[uuid.UUID]uint64)}
}

// Get returns the margin, zero when absent.
func (ml *MarginLedger) Get(account uuid.UUID) uint64 {
	return ml.margins[account]
}

func (ml *MarginLedger) Has(account uuid.UUID) bool {
	_, ok := ml.margins[account]
	return ok
}

func (ml *MarginLedger) Set(account uuid.UUID, margin uint64) {
	ml.margins[account] = margin
}

// Accounts returns every account holding a Margin entry, ordered by id.
func (ml *MarginLedger) Accounts() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ml.margins))
	for acct := range ml.margins {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Total sums every margin entry, saturating.
func (ml *MarginLedger) Total() uint64 {
	var total uint64
	for _, m := range ml.margins {
		next, err := fpmath.CheckedAddBalance(total, m)
		if err != nil {
			return ^uint64(0)
		}
		total = next
	}
	return total
}

// All returns a copy of the ledger (for snapshot creation)
func (ml *MarginLedger) All() map[uuid.UUID]uint64 {
	out := make(map[uuid.UUID]uint64, len(ml.margins))
	for k, v := range ml.margins {
		out[k] = v
	}
	return out
}

// MarginCalculator computes cross-asset initial margin requirements.
type MarginCalculator struct {
	universe  *Universe
	params    *ParameterStore
	positions *PositionLedger
}

func NewMarginCalculator(u *Universe, ps *ParameterStore, pl *PositionLedger) *MarginCalculator {
	return &MarginCalculator{universe: u, params: ps, positions: pl}
}

// NeededIM sums ceil(im_i × price_i × |balance_i|) over the universe, with
// exposureDelta applied to `asset` only. Every asset must be priced.
func (mc *MarginCalculator) NeededIM(
	account uuid.UUID,
	asset AssetID,
	exposureDelta int64,
	prices PriceSource,
) (uint64, error) {
	if !mc.universe.Contains(asset) {
		return 0, ErrBadAssetID
	}

	var needed uint64
	for _, id := range mc.universe.Assets() {
		price, ok := prices.Price(id)
		if !ok {
			return 0, fmt.Errorf("%s: %w", id, ErrPriceNotSet)
		}

		balance := mc.positions.Balance(id, account)
		if id == asset {
			next, err := fpmath.CheckedAdd(balance, exposureDelta)
			if err != nil {
				return 0, err
			}
			balance = next
		}

		im, err := mc.params.Get(id).InitialIMRatio.MulCeil(price, fpmath.AbsAmount(balance))
		if err != nil {
			return 0, err
		}
		needed, err = fpmath.CheckedAddBalance(needed, im)
		if err != nil {
			return 0, err
		}
	}

	return needed, nil
}
