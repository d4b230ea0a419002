package state

import (
	fpmath "PerpPool/internal/math"
	"fmt"
)

// AssetParams defines the risk parameters of one synthetic asset.
// All three ratios are Permill (decimal_precision=6, scale=1_000_000).
type AssetParams struct {
	InitialIMRatio   fpmath.Permill `json:"initial_im_ratio"`
	LiquidationRatio fpmath.Permill `json:"liquidation_ratio"`
	TransactionFee   fpmath.Permill `json:"transaction_fee"`
}

// Change is an optional new value for one parameter.
type Change[T any] struct {
	value T
	set   bool
}

// NoChange leaves the parameter untouched.
func NoChange[T any]() Change[T] {
	return Change[T]{}
}

// NewValue replaces the parameter.
func NewValue[T any](v T) Change[T] {
	return Change[T]{value: v, set: true}
}

func (c Change[T]) Value() (T, bool) {
	return c.value, c.set
}

// ParamsUpdate carries independent deltas for set_risk_params.
type ParamsUpdate struct {
	InitialIMRatio   Change[fpmath.Permill]
	LiquidationRatio Change[fpmath.Permill]
	TransactionFee   Change[fpmath.Permill]
}

// ValidateAssetParams checks the ordering invariant on a complete parameter set.
func ValidateAssetParams(p AssetParams) error {
	if p.LiquidationRatio >= p.InitialIMRatio {
		return fmt.Errorf("liquidation_ratio (%s) >= initial_im_ratio (%s): %w",
			p.LiquidationRatio, p.InitialIMRatio, ErrBadIMParameters)
	}
	for name, r := range map[string]fpmath.Permill{
		"initial_im_ratio":  p.InitialIMRatio,
		"liquidation_ratio": p.LiquidationRatio,
		"transaction_fee":   p.TransactionFee,
	} {
		if r > fpmath.PermillOne {
			return fmt.Errorf("%s must be <= 1, got %s", name, r)
		}
	}
	return nil
}

// ParameterStore manages risk parameters per asset
type ParameterStore struct {
	universe *Universe
	params   map[AssetID]AssetParams
}

func NewParameterStore(universe *Universe) *ParameterStore {
	return &ParameterStore{
		universe: universe,
		params:   make(map[AssetID]AssetParams),
	}
}

// Get returns the asset's parameters, or the zero value if none were stored.
func (ps *ParameterStore) Get(asset AssetID) AssetParams {
	return ps.params[asset]
}

// Lookup is Get with presence.
func (ps *ParameterStore) Lookup(asset AssetID) (AssetParams, bool) {
	p, ok := ps.params[asset]
	return p, ok
}

// Init stores a complete parameter set (genesis).
func (ps *ParameterStore) Init(asset AssetID, p AssetParams) error {
	if !ps.universe.Contains(asset) {
		return fmt.Errorf("genesis params for %s: %w", asset, ErrBadAssetID)
	}
	if err := ValidateAssetParams(p); err != nil {
		return fmt.Errorf("genesis params for %s: %w", asset, err)
	}
	ps.params[asset] = p
	return nil
}

// Plan validates an update against the current parameters and returns the
// resulting set without applying it. A new initial margin is checked against
// the current liquidation ratio; a new liquidation ratio is then checked
// against the resulting initial margin.
func (ps *ParameterStore) Plan(asset AssetID, upd ParamsUpdate) (AssetParams, error) {
	if !ps.universe.Contains(asset) {
		return AssetParams{}, ErrBadAssetID
	}

	next := ps.params[asset]
	if im, ok := upd.InitialIMRatio.Value(); ok {
		if im > fpmath.PermillOne || im < next.LiquidationRatio {
			return AssetParams{}, fmt.Errorf("initial_im_ratio %s below liquidation_ratio %s: %w",
				im, next.LiquidationRatio, ErrBadIMParameters)
		}
		next.InitialIMRatio = im
	}

	if liq, ok := upd.LiquidationRatio.Value(); ok {
		if liq >= next.InitialIMRatio {
			return AssetParams{}, fmt.Errorf("liquidation_ratio %s not below initial_im_ratio %s: %w",
				liq, next.InitialIMRatio, ErrBadIMParameters)
		}
		next.LiquidationRatio = liq
	}

	// An initial margin equal to the liquidation ratio passes the first check
	// but still breaks the strict ordering.
	if next.LiquidationRatio >= next.InitialIMRatio {
		return AssetParams{}, fmt.Errorf("initial_im_ratio %s must exceed liquidation_ratio %s: %w",
			next.InitialIMRatio, next.LiquidationRatio, ErrBadIMParameters)
	}

	if fee, ok := upd.TransactionFee.Value(); ok {
		if fee > fpmath.PermillOne {
			return AssetParams{}, fmt.Errorf("transaction_fee must be <= 1, got %s", fee)
		}
		next.TransactionFee = fee
	}

	return next, nil
}

// Set applies an update all-or-nothing.
func (ps *ParameterStore) Set(asset AssetID, upd ParamsUpdate) (AssetParams, error) {
	next, err := ps.Plan(asset, upd)
	if err != nil {
		return AssetParams{}, fmt.Errorf("invalid risk params for %s: %w", asset, err)
	}
	ps.params[asset] = next
	return next, nil
}

// All returns a copy of every stored parameter set (for snapshots).
func (ps *ParameterStore) All() map[AssetID]AssetParams {
	out := make(map[AssetID]AssetParams, len(ps.params))
	for k, v := range ps.params {
		out[k] = v
	}
	return out
}

// Restore replaces one entry without validation (snapshot restore).
func (ps *ParameterStore) Restore(asset AssetID, p AssetParams) {
	ps.params[asset] = p
}
