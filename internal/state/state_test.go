package state

import (
	fpmath "PerpPool/internal/math"
	stdmath "math"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dot  AssetID = "DOT"
	ldot AssetID = "LDOT"
)

var (
	alice   = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob     = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	charlie = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	georges = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
)

type staticPrices map[AssetID]fpmath.Price

func (s staticPrices) Price(asset AssetID) (fpmath.Price, bool) {
	p, ok := s[asset]
	return p, ok
}

func newParams(t *testing.T) *ParameterStore {
	t.Helper()
	ps := NewParameterStore(MustUniverse(dot, ldot))
	require.NoError(t, ps.Init(dot, AssetParams{
		InitialIMRatio:   fpmath.PermillFromPercent(20),
		LiquidationRatio: fpmath.PermillFromPercent(10),
		TransactionFee:   fpmath.PermillFromParts(1000),
	}))
	require.NoError(t, ps.Init(ldot, AssetParams{
		InitialIMRatio:   fpmath.PermillFromPercent(30),
		LiquidationRatio: fpmath.PermillFromPercent(10),
		TransactionFee:   fpmath.PermillFromParts(20000),
	}))
	return ps
}

func TestParameterStoreSet(t *testing.T) {
	pct := fpmath.PermillFromPercent

	tests := []struct {
		name    string
		upd     ParamsUpdate
		wantErr error
		want    AssetParams
	}{
		{
			name: "raise initial margin",
			upd:  ParamsUpdate{InitialIMRatio: NewValue(pct(50))},
			want: AssetParams{InitialIMRatio: pct(50), LiquidationRatio: pct(10), TransactionFee: 1000},
		},
		{
			name:    "initial margin below liquidation",
			upd:     ParamsUpdate{InitialIMRatio: NewValue(pct(5))},
			wantErr: ErrBadIMParameters,
		},
		{
			name:    "initial margin equal to liquidation",
			upd:     ParamsUpdate{InitialIMRatio: NewValue(pct(10))},
			wantErr: ErrBadIMParameters,
		},
		{
			name:    "liquidation equal to initial margin",
			upd:     ParamsUpdate{LiquidationRatio: NewValue(pct(20))},
			wantErr: ErrBadIMParameters,
		},
		{
			name: "both move together",
			upd: ParamsUpdate{
				InitialIMRatio:   NewValue(pct(60)),
				LiquidationRatio: NewValue(pct(40)),
			},
			want: AssetParams{InitialIMRatio: pct(60), LiquidationRatio: pct(40), TransactionFee: 1000},
		},
		{
			name: "both lowered, initial margin checked against current liquidation",
			upd: ParamsUpdate{
				InitialIMRatio:   NewValue(pct(5)),
				LiquidationRatio: NewValue(pct(1)),
			},
			wantErr: ErrBadIMParameters,
		},
		{
			name: "both lowered, initial margin still above current liquidation",
			upd: ParamsUpdate{
				InitialIMRatio:   NewValue(pct(15)),
				LiquidationRatio: NewValue(pct(5)),
			},
			want: AssetParams{InitialIMRatio: pct(15), LiquidationRatio: pct(5), TransactionFee: 1000},
		},
		{
			name: "fee only",
			upd:  ParamsUpdate{TransactionFee: NewValue(fpmath.PermillFromParts(5000))},
			want: AssetParams{InitialIMRatio: pct(20), LiquidationRatio: pct(10), TransactionFee: 5000},
		},
		{
			name: "bad liquidation rejects the fee too",
			upd: ParamsUpdate{
				LiquidationRatio: NewValue(pct(30)),
				TransactionFee:   NewValue(fpmath.PermillFromParts(5000)),
			},
			wantErr: ErrBadIMParameters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := newParams(t)
			before := ps.Get(dot)

			got, err := ps.Set(dot, tt.upd)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, ps.Get(dot), "rejected update must not apply")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, ps.Get(dot))
		})
	}
}

func TestParameterStoreUnknownAsset(t *testing.T) {
	ps := newParams(t)
	_, err := ps.Set("BTC", ParamsUpdate{TransactionFee: NewValue(fpmath.Permill(1))})
	assert.ErrorIs(t, err, ErrBadAssetID)
	assert.Error(t, ps.Init("BTC", AssetParams{InitialIMRatio: 2, LiquidationRatio: 1}))
}

func TestNeededIMCouplesAssets(t *testing.T) {
	ps := newParams(t)
	pl := NewPositionLedger()
	mc := NewMarginCalculator(MustUniverse(dot, ldot), ps, pl)
	prices := staticPrices{dot: fpmath.PriceFromInt(1), ldot: fpmath.PriceFromInt(2)}

	pl.SetBalance(ldot, alice, -50)

	// 0.2 × 1 × 100 + 0.3 × 2 × 50
	got, err := mc.NeededIM(alice, dot, 100, prices)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got)

	_, err = mc.NeededIM(alice, dot, 100, staticPrices{dot: fpmath.PriceFromInt(1)})
	assert.ErrorIs(t, err, ErrPriceNotSet)

	_, err = mc.NeededIM(alice, "BTC", 100, prices)
	assert.ErrorIs(t, err, ErrBadAssetID)
}

func TestMatchInterest(t *testing.T) {
	tests := []struct {
		name     string
		balances map[uuid.UUID]int64
		want     map[uuid.UUID]int64
	}{
		{
			name:     "equal sides",
			balances: map[uuid.UUID]int64{alice: 100, bob: -100},
			want:     map[uuid.UUID]int64{alice: 100, bob: -100},
		},
		{
			name:     "two longs one short",
			balances: map[uuid.UUID]int64{alice: 100, charlie: 100, bob: -100},
			want:     map[uuid.UUID]int64{alice: 50, charlie: 50, bob: -100},
		},
		{
			name:     "one sided market",
			balances: map[uuid.UUID]int64{alice: 100, charlie: 50},
			want:     map[uuid.UUID]int64{alice: 0, charlie: 0},
		},
		{
			name:     "thirds round down",
			balances: map[uuid.UUID]int64{alice: 100, charlie: 200, bob: -100},
			want:     map[uuid.UUID]int64{alice: 33, charlie: 66, bob: -100},
		},
		{
			name:     "shorts oversubscribed",
			balances: map[uuid.UUID]int64{alice: 150, bob: -100, georges: -100},
			want:     map[uuid.UUID]int64{alice: 150, bob: -75, georges: -75},
		},
		{
			name:     "zero balance is never matched",
			balances: map[uuid.UUID]int64{alice: 0, bob: -100, charlie: 100},
			want:     map[uuid.UUID]int64{alice: 0, bob: -100, charlie: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl := NewPositionLedger()
			for acct, b := range tt.balances {
				pl.SetBalance(dot, acct, b)
				pl.SetInventory(dot, acct, 999) // stale inventory must be discarded
			}

			NewInterestMatcher(pl).MatchInterest(dot)

			for acct, want := range tt.want {
				assert.Equal(t, want, pl.Inventory(dot, acct), "inventory of %s", acct)
			}
			assertMatchedSidesBalanced(t, pl, dot)
		})
	}
}

func assertMatchedSidesBalanced(t *testing.T, pl *PositionLedger, asset AssetID) {
	t.Helper()
	var longInv, shortInv, longBal, shortBal uint64
	for _, pos := range pl.AssetPositions(asset) {
		if pos.Inventory != 0 {
			assert.Equal(t, fpmath.Sign(pos.Balance), fpmath.Sign(pos.Inventory))
		}
		assert.LessOrEqual(t, fpmath.AbsAmount(pos.Inventory), fpmath.AbsAmount(pos.Balance))
		if pos.Balance >= 0 {
			longBal += fpmath.AbsAmount(pos.Balance)
			longInv += fpmath.AbsAmount(pos.Inventory)
		} else {
			shortBal += fpmath.AbsAmount(pos.Balance)
			shortInv += fpmath.AbsAmount(pos.Inventory)
		}
	}
	if longBal == 0 || shortBal == 0 {
		assert.Zero(t, longInv+shortInv)
		return
	}
	// the over-subscribed side never receives more than the filled side
	if shortBal < longBal {
		assert.Equal(t, shortBal, shortInv)
		assert.LessOrEqual(t, longInv, shortInv)
	} else {
		assert.Equal(t, longBal, longInv)
		assert.LessOrEqual(t, shortInv, longInv)
	}
}

func TestMatchInterestIdempotent(t *testing.T) {
	pl := NewPositionLedger()
	pl.SetBalance(dot, alice, 100)
	pl.SetBalance(dot, bob, -100)
	pl.SetBalance(dot, charlie, 50)
	pl.SetBalance(dot, georges, -10)

	m := NewInterestMatcher(pl)
	m.MatchInterest(dot)
	first := map[uuid.UUID]int64{}
	for _, pos := range pl.AssetPositions(dot) {
		first[pos.Account] = pos.Inventory
	}

	m.MatchInterest(dot)
	for _, pos := range pl.AssetPositions(dot) {
		assert.Equal(t, first[pos.Account], pos.Inventory)
	}
	assert.Equal(t, int64(73), first[alice])
	assert.Equal(t, int64(36), first[charlie])
}

func TestUpdateMargin(t *testing.T) {
	pl := NewPositionLedger()
	ml := NewMarginLedger()
	pt := NewPriceTracker()
	m2m := NewMarkToMarket(pl, ml, pt)

	pl.SetBalance(dot, alice, 100)
	pl.SetInventory(dot, alice, 100)
	pl.SetBalance(dot, bob, -100)
	pl.SetInventory(dot, bob, -100)
	ml.Set(alice, 400)
	ml.Set(bob, 400)

	// first observation only sets the baseline
	res := m2m.UpdateMargin(dot, staticPrices{dot: fpmath.PriceFromInt(20)})
	require.True(t, res.Priced)
	assert.Empty(t, res.Drifts)
	assert.Equal(t, uint64(400), ml.Get(alice))

	res = m2m.UpdateMargin(dot, staticPrices{dot: fpmath.PriceFromInt(0)})
	assert.Equal(t, int64(-1), res.Direction)
	assert.Equal(t, uint64(0), ml.Get(alice), "deficit clamps to zero")
	assert.Equal(t, uint64(2400), ml.Get(bob))

	base, ok := pt.Baseline(dot)
	require.True(t, ok)
	assert.True(t, base.IsZero())

	// no price: no-op, baseline kept
	res = m2m.UpdateMargin(dot, staticPrices{})
	assert.False(t, res.Priced)
	assert.Equal(t, uint64(2400), ml.Get(bob))
}

func TestUpdateMarginSkipsAccountsWithoutMargin(t *testing.T) {
	pl := NewPositionLedger()
	ml := NewMarginLedger()
	pt := NewPriceTracker()
	m2m := NewMarkToMarket(pl, ml, pt)

	pl.SetInventory(dot, alice, 10)
	pt.SetBaseline(dot, fpmath.PriceFromInt(1))

	m2m.UpdateMargin(dot, staticPrices{dot: fpmath.PriceFromInt(5)})
	assert.False(t, ml.Has(alice))
}

func TestLiquidate(t *testing.T) {
	u := MustUniverse(dot, ldot)
	ps := newParams(t)
	pl := NewPositionLedger()
	ml := NewMarginLedger()
	pt := NewPriceTracker()
	le := NewLiquidationEngine(u, ps, pl, ml, pt)

	pt.SetBaseline(dot, fpmath.PriceFromInt(2))

	set := func(acct uuid.UUID, bal, inv int64, margin uint64) {
		pl.SetBalance(dot, acct, bal)
		pl.SetInventory(dot, acct, inv)
		ml.Set(acct, margin)
	}
	set(alice, 100, 73, 93)  // liq 15, unwind 20: healthy
	set(bob, -100, -100, 0)  // liq 20 >= 0: full
	set(charlie, 50, 36, 10) // liq 8, unwind 10: not > 10, healthy
	set(georges, -10, -5, 1) // liq 1 >= 1: full

	actions := le.Liquidate()

	assert.Equal(t, int64(100), pl.Balance(dot, alice))
	assert.Equal(t, int64(0), pl.Balance(dot, bob))
	assert.Equal(t, int64(0), pl.Inventory(dot, bob))
	assert.Equal(t, int64(50), pl.Balance(dot, charlie))
	assert.Equal(t, int64(0), pl.Balance(dot, georges))

	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, LiquidationFull, a.Kind)
	}
	assert.Equal(t, uint64(0), ml.Get(bob), "liquidation never moves margin")
}

func TestLiquidateUnwind(t *testing.T) {
	u := MustUniverse(dot, ldot)
	ps := newParams(t)
	pl := NewPositionLedger()
	ml := NewMarginLedger()
	pt := NewPriceTracker()
	le := NewLiquidationEngine(u, ps, pl, ml, pt)

	pt.SetBaseline(dot, fpmath.PriceFromInt(10))
	pl.SetBalance(dot, alice, 100)
	pl.SetInventory(dot, alice, 20)
	ml.Set(alice, 50) // liq = 20, unwind = 100

	actions := le.Liquidate()

	require.Len(t, actions, 1)
	assert.Equal(t, LiquidationUnwind, actions[0].Kind)
	assert.Equal(t, int64(20), pl.Balance(dot, alice))
	assert.Equal(t, int64(20), pl.Inventory(dot, alice))
	assert.Equal(t, uint64(50), ml.Get(alice))
}

// A settlement cycle at the numeric edges: balances at both int64 bounds and
// a price near the 128-bit ceiling. Everything saturates or clamps.
func TestSettlementAtNumericBounds(t *testing.T) {
	u := MustUniverse(dot, ldot)
	ps := newParams(t)
	pl := NewPositionLedger()
	ml := NewMarginLedger()
	pt := NewPriceTracker()
	matcher := NewInterestMatcher(pl)
	m2m := NewMarkToMarket(pl, ml, pt)
	le := NewLiquidationEngine(u, ps, pl, ml, pt)

	pl.SetBalance(dot, alice, stdmath.MaxInt64)
	pl.SetBalance(dot, charlie, 1)
	pl.SetBalance(dot, bob, stdmath.MinInt64)
	ml.Set(alice, stdmath.MaxUint64-5)
	ml.Set(bob, 1000)
	ml.Set(charlie, 5)

	// both sides total 2^63, so the short side scales by exactly one
	var match MatchResult
	require.NotPanics(t, func() { match = matcher.MatchInterest(dot) })
	assert.Equal(t, uint64(1)<<63, match.Longs)
	assert.Equal(t, uint64(1)<<63, match.Shorts)
	assert.False(t, match.ShortsFilled)
	assert.Equal(t, fpmath.PerquintillOne, match.Ratio)
	assert.Equal(t, 3, match.Matched)
	assert.Equal(t, int64(stdmath.MaxInt64), pl.Inventory(dot, alice))
	assert.Equal(t, int64(1), pl.Inventory(dot, charlie))
	assert.Equal(t, int64(stdmath.MinInt64), pl.Inventory(dot, bob))
	assertMatchedSidesBalanced(t, pl, dot)

	pt.SetBaseline(dot, fpmath.PriceFromInt(1))
	huge, err := fpmath.PriceFromRaw(new(uint256.Int).Lsh(uint256.NewInt(1), 127))
	require.NoError(t, err)

	var mark MarkResult
	require.NotPanics(t, func() { mark = m2m.UpdateMargin(dot, staticPrices{dot: huge}) })
	assert.Equal(t, int64(1), mark.Direction)
	drifts := make(map[uuid.UUID]int64, len(mark.Drifts))
	for _, d := range mark.Drifts {
		drifts[d.Account] = d.Drift
	}
	assert.Equal(t, map[uuid.UUID]int64{
		alice:   stdmath.MaxInt64,
		charlie: stdmath.MaxInt64,
		bob:     stdmath.MinInt64,
	}, drifts)
	assert.Equal(t, uint64(stdmath.MaxUint64), ml.Get(alice), "margin saturates")
	assert.Equal(t, uint64(stdmath.MaxInt64)+5, ml.Get(charlie))
	assert.Equal(t, uint64(0), ml.Get(bob), "margin clamps at zero")

	var actions []LiquidationAction
	require.NotPanics(t, func() { actions = le.Liquidate() })
	require.Len(t, actions, 3)
	for _, a := range actions {
		assert.Equal(t, LiquidationFull, a.Kind, "account %s", a.Account)
		if a.Account == alice {
			assert.Equal(t, uint64(stdmath.MaxUint64), a.LiquidationSum)
		}
	}
	for _, acct := range []uuid.UUID{alice, bob, charlie} {
		assert.Zero(t, pl.Balance(dot, acct))
		assert.Zero(t, pl.Inventory(dot, acct))
	}
}
