package core

import (
	"PerpPool/internal/auth"
	"PerpPool/internal/event"
	"PerpPool/internal/ledger"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/state"
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// GenesisAsset is one entry of the bootstrap collateral parameters.
type GenesisAsset struct {
	ID     state.AssetID
	Params state.AssetParams
}

// Endowment funds a wallet at bootstrap.
type Endowment struct {
	Account uuid.UUID
	Amount  int64
}

// Genesis is the bootstrap state: the asset universe in order, its risk
// parameters, and the funded wallets.
type Genesis struct {
	PoolID     string
	Assets     []GenesisAsset
	Endowments []Endowment
}

// Result is what a successful command changed.
type Result struct {
	Batch         *ledger.Batch
	Notifications []event.Notification

	// Accounts whose margin, positions or wallet changed, ordered by id.
	Accounts []uuid.UUID

	// Assets whose parameters or price baseline changed.
	Assets []state.AssetID

	Settlement *Settlement
}

// Settlement is the per-tick report.
type Settlement struct {
	TickID  string
	Marks   []state.MarkResult
	Matches []state.MatchResult
	Actions []state.LiquidationAction
}

// Engine is the deterministic margin/settlement state machine. It is not
// safe for concurrent use: the Runner owns it. Every mutator validates all
// preconditions before its first write, so a failed command leaves the
// state untouched.
type Engine struct {
	universe *state.Universe
	poolID   string

	params    *state.ParameterStore
	positions *state.PositionLedger
	margins   *state.MarginLedger
	baselines *state.PriceTracker

	marginCalc *state.MarginCalculator
	marker     *state.MarkToMarket
	matcher    *state.InterestMatcher
	liquidator *state.LiquidationEngine

	balances   *ledger.BalanceTracker
	journalGen *ledger.JournalGenerator
	validator  *ledger.InvariantValidator

	authorizer auth.Authorizer
}

// NewEngine builds an engine from genesis. A nil authorizer only admits the
// root origin.
func NewEngine(g Genesis, authorizer auth.Authorizer) (*Engine, error) {
	ids := make([]state.AssetID, len(g.Assets))
	for i, a := range g.Assets {
		ids[i] = a.ID
	}
	universe, err := state.NewUniverse(ids...)
	if err != nil {
		return nil, fmt.Errorf("genesis universe: %w", err)
	}
	if universe.Len() == 0 {
		return nil, fmt.Errorf("genesis universe is empty")
	}
	if authorizer == nil {
		authorizer = auth.RootOnly{}
	}
	poolID := g.PoolID
	if poolID == "" {
		poolID = "perp-pool"
	}

	e := &Engine{
		universe:   universe,
		poolID:     poolID,
		params:     state.NewParameterStore(universe),
		positions:  state.NewPositionLedger(),
		margins:    state.NewMarginLedger(),
		baselines:  state.NewPriceTracker(),
		balances:   ledger.NewBalanceTracker(),
		authorizer: authorizer,
	}
	e.wire()

	for _, a := range g.Assets {
		if err := e.params.Init(a.ID, a.Params); err != nil {
			return nil, err
		}
	}
	for i, en := range g.Endowments {
		batch, err := e.journalGen.GenerateEndowment(fmt.Sprintf("genesis:endowment:%d", i), 0, 0, en.Account, en.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis endowment %s: %w", en.Account, err)
		}
		if err := e.balances.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("genesis endowment %s: %w", en.Account, err)
		}
	}
	return e, nil
}

// wire (re)builds the components that read the stores.
func (e *Engine) wire() {
	e.marginCalc = state.NewMarginCalculator(e.universe, e.params, e.positions)
	e.marker = state.NewMarkToMarket(e.positions, e.margins, e.baselines)
	e.matcher = state.NewInterestMatcher(e.positions)
	e.liquidator = state.NewLiquidationEngine(e.universe, e.params, e.positions, e.margins, e.baselines)
	e.journalGen = ledger.NewJournalGenerator(e.balances, e.poolID)
	e.validator = ledger.NewInvariantValidator(e.balances)
}

// Mint opens, grows, shrinks or closes exposure and moves collateral in one
// margin-checked step. Prices are the oracle view captured for this command.
func (e *Engine) Mint(seq int64, cmd *event.MintRequested, prices state.PriceSource) (*Result, error) {
	asset := state.AssetID(cmd.Asset)
	acct := cmd.Account
	if !e.universe.Contains(asset) {
		return nil, fmt.Errorf("mint %s: %w", cmd.Asset, ErrBadAssetID)
	}
	price, ok := prices.Price(asset)
	if !ok {
		return nil, fmt.Errorf("mint %s: %w", cmd.Asset, ErrPriceNotSet)
	}

	fee, err := e.params.Get(asset).TransactionFee.MulCeil(price, fpmath.AbsAmount(cmd.ExposureDelta))
	if err != nil {
		return nil, fmt.Errorf("mint fee: %w", err)
	}
	feeAmount, err := fpmath.AmountFromBalance(fee)
	if err != nil {
		return nil, fmt.Errorf("mint fee: %w", err)
	}
	net, err := fpmath.CheckedSub(cmd.CollateralDelta, feeAmount)
	if err != nil {
		return nil, fmt.Errorf("mint net collateral: %w", err)
	}
	newBalance, err := fpmath.CheckedAdd(e.positions.Balance(asset, acct), cmd.ExposureDelta)
	if err != nil {
		return nil, fmt.Errorf("mint exposure: %w", err)
	}

	needed, err := e.marginCalc.NeededIM(acct, asset, cmd.ExposureDelta, prices)
	if err != nil {
		return nil, fmt.Errorf("mint initial margin: %w", err)
	}
	current := e.margins.Get(acct)
	newMargin, err := fpmath.ApplyDelta(current, net)
	if err != nil {
		if net < 0 {
			// withdrawing more than the margin held
			return nil, fmt.Errorf("margin=%d, delta=%d: %w", current, net, ErrNotEnoughIM)
		}
		return nil, fmt.Errorf("mint margin: %w", err)
	}
	if newMargin < needed {
		return nil, fmt.Errorf("margin=%d, needed=%d: %w", newMargin, needed, ErrNotEnoughIM)
	}

	batch, err := e.journalGen.GenerateMintTransfers(cmd.IdempotencyKey(), seq, cmd.Timestamp, acct, net, fee)
	if err != nil {
		return nil, fmt.Errorf("mint transfers: %w", err)
	}

	// No failure path below this line.
	if batch != nil {
		e.applyBatch(batch)
	}

	res := &Result{Batch: batch, Accounts: []uuid.UUID{acct}}
	if net != 0 {
		e.margins.Set(acct, newMargin)
		res.Notifications = append(res.Notifications, event.CollateralUpdated{
			Account: acct, Delta: net, Margin: newMargin,
		})
	}
	e.positions.SetBalance(asset, acct, newBalance)
	res.Notifications = append(res.Notifications, event.BalanceUpdated{
		Account: acct, Asset: cmd.Asset, Balance: newBalance,
	})
	return res, nil
}

// SetRiskParams applies an administrative parameter change all-or-nothing.
func (e *Engine) SetRiskParams(cmd *event.RiskParamUpdate) (*Result, error) {
	if err := e.authorizer.AuthorizeAdmin(cmd.Origin); err != nil {
		return nil, fmt.Errorf("set risk params: %w", err)
	}

	asset := state.AssetID(cmd.Asset)
	upd := state.ParamsUpdate{
		InitialIMRatio:   change(cmd.InitialIMRatio),
		LiquidationRatio: change(cmd.LiquidationRatio),
		TransactionFee:   change(cmd.TransactionFee),
	}
	next, err := e.params.Set(asset, upd)
	if err != nil {
		return nil, err
	}

	res := &Result{Assets: []state.AssetID{asset}}
	if cmd.InitialIMRatio != nil {
		res.Notifications = append(res.Notifications, event.RatioUpdated{
			Kind: event.NotifyInitialIMRatioUpdated, Asset: cmd.Asset, Ratio: next.InitialIMRatio,
		})
	}
	if cmd.LiquidationRatio != nil {
		res.Notifications = append(res.Notifications, event.RatioUpdated{
			Kind: event.NotifyLiquidationRatioUpdated, Asset: cmd.Asset, Ratio: next.LiquidationRatio,
		})
	}
	if cmd.TransactionFee != nil {
		res.Notifications = append(res.Notifications, event.RatioUpdated{
			Kind: event.NotifyTransactionFeeUpdated, Asset: cmd.Asset, Ratio: next.TransactionFee,
		})
	}
	return res, nil
}

func change(v *fpmath.Permill) state.Change[fpmath.Permill] {
	if v == nil {
		return state.NoChange[fpmath.Permill]()
	}
	return state.NewValue(*v)
}

// Tick runs one settlement cycle: mark-to-market then interest matching for
// each asset in universe order, then one global liquidation pass. It has no
// error path; arithmetic inside saturates.
func (e *Engine) Tick(cmd *event.SettlementTick, prices state.PriceSource) *Result {
	s := &Settlement{TickID: cmd.TickID}
	done := &event.SettlementCompleted{TickID: cmd.TickID}
	res := &Result{Settlement: s}

	for _, asset := range e.universe.Assets() {
		mark := e.marker.UpdateMargin(asset, prices)
		s.Marks = append(s.Marks, mark)
		if mark.Priced {
			done.AssetsSettled = append(done.AssetsSettled, string(asset))
			res.Assets = append(res.Assets, asset)
		} else {
			done.AssetsSkipped = append(done.AssetsSkipped, string(asset))
		}
		s.Matches = append(s.Matches, e.matcher.MatchInterest(asset))
	}

	s.Actions = e.liquidator.Liquidate()
	for _, a := range s.Actions {
		switch a.Kind {
		case state.LiquidationFull:
			done.Liquidated++
		case state.LiquidationUnwind:
			done.Unwound++
		}
		res.Notifications = append(res.Notifications, event.AccountLiquidated{
			Account:        a.Account,
			Kind:           a.Kind.String(),
			Margin:         a.Margin,
			LiquidationSum: a.LiquidationSum,
			UnwindSum:      a.UnwindSum,
		})
	}
	res.Notifications = append(res.Notifications, *done)

	// Inventory is recomputed for every position holder and margin may
	// drift for every margin holder.
	res.Accounts = e.settlementPopulation()
	return res
}

// FundWallet credits a participant wallet from the external boundary.
func (e *Engine) FundWallet(seq int64, cmd *event.WalletFunded) (*Result, error) {
	if err := e.authorizer.AuthorizeAdmin(cmd.Origin); err != nil {
		return nil, fmt.Errorf("fund wallet: %w", err)
	}
	if cmd.Account == uuid.Nil {
		return nil, fmt.Errorf("fund wallet: missing account: %w", ErrInvalidCommand)
	}
	batch, err := e.journalGen.GenerateEndowment(cmd.IdempotencyKey(), seq, cmd.Timestamp, cmd.Account, cmd.Amount)
	if err != nil {
		return nil, fmt.Errorf("fund wallet: %v: %w", err, ErrInvalidCommand)
	}
	if _, err := fpmath.CheckedAdd(e.balances.WalletBalance(cmd.Account), cmd.Amount); err != nil {
		return nil, fmt.Errorf("fund wallet: %w", err)
	}
	e.applyBatch(batch)

	return &Result{
		Batch:    batch,
		Accounts: []uuid.UUID{cmd.Account},
		Notifications: []event.Notification{event.WalletFundedNotice{
			Account: cmd.Account,
			Amount:  cmd.Amount,
			Balance: e.balances.WalletBalance(cmd.Account),
		}},
	}, nil
}

// applyBatch applies a pre-checked batch. A batch that fails here means the
// generator and the tracker disagree, which is a bug.
func (e *Engine) applyBatch(batch *ledger.Batch) {
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch %s: %v", batch.EventRef, err))
	}
	if err := e.balances.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch %s: %v", batch.EventRef, err))
	}
	if err := e.validator.ValidateTouchedNonNegative(batch); err != nil {
		panic(fmt.Sprintf("FATAL: batch %s overdrew an account: %v", batch.EventRef, err))
	}
}

// settlementPopulation is every account with a margin entry or a position.
func (e *Engine) settlementPopulation() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	for _, acct := range e.margins.Accounts() {
		seen[acct] = struct{}{}
	}
	for _, pos := range e.positions.AllPositions() {
		seen[pos.Account] = struct{}{}
	}
	return sortedAccounts(seen)
}

func sortedAccounts(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for acct := range set {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// CheckInvariants verifies the ledger is zero-sum and the pool's system
// accounts are solvent. Inventory is only bounded by balance right after a
// match, so positions are not checked here.
func (e *Engine) CheckInvariants() error {
	if err := e.validator.ValidateGlobalBalance(); err != nil {
		return err
	}
	for _, key := range []ledger.AccountKey{e.journalGen.Custody(), e.journalGen.FeeSink()} {
		if err := e.balances.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// --- Queries ---

// AccountView is the read model of one participant.
type AccountView struct {
	Account   uuid.UUID        `json:"account_id"`
	Margin    uint64           `json:"margin"`
	HasMargin bool             `json:"has_margin"`
	Wallet    int64            `json:"wallet"`
	Positions []state.Position `json:"positions"`
}

// AssetTotals is the per-asset open interest view.
type AssetTotals struct {
	Asset    state.AssetID     `json:"asset"`
	Params   state.AssetParams `json:"params"`
	Baseline *fpmath.Price     `json:"baseline,omitempty"`
	Longs    uint64            `json:"longs"`
	Shorts   uint64            `json:"shorts"`
}

// PoolTotals is the pool-wide view.
type PoolTotals struct {
	Collateral  int64         `json:"total_collateral_balance"`
	Treasury    int64         `json:"total_treasury_balance"`
	MarginTotal uint64        `json:"margin_total"`
	Accounts    int           `json:"accounts"`
	Assets      []AssetTotals `json:"assets"`
}

func (e *Engine) Account(acct uuid.UUID) AccountView {
	view := AccountView{
		Account:   acct,
		Margin:    e.margins.Get(acct),
		HasMargin: e.margins.Has(acct),
		Wallet:    e.balances.WalletBalance(acct),
	}
	for _, pos := range e.positions.AccountPositions(acct) {
		view.Positions = append(view.Positions, *pos)
	}
	return view
}

func (e *Engine) Balance(asset state.AssetID, acct uuid.UUID) int64 {
	return e.positions.Balance(asset, acct)
}

func (e *Engine) Inventory(asset state.AssetID, acct uuid.UUID) int64 {
	return e.positions.Inventory(asset, acct)
}

func (e *Engine) Margin(acct uuid.UUID) uint64 {
	return e.margins.Get(acct)
}

func (e *Engine) WalletBalance(acct uuid.UUID) int64 {
	return e.balances.WalletBalance(acct)
}

func (e *Engine) AssetParams(asset state.AssetID) (state.AssetParams, error) {
	p, ok := e.params.Lookup(asset)
	if !ok {
		return state.AssetParams{}, fmt.Errorf("asset %s: %w", asset, ErrBadAssetID)
	}
	return p, nil
}

// TotalCollateralBalance is the pool custodial account balance.
func (e *Engine) TotalCollateralBalance() int64 {
	return e.balances.GetBalance(e.journalGen.Custody())
}

// TotalTreasuryBalance is the fee sink balance.
func (e *Engine) TotalTreasuryBalance() int64 {
	return e.balances.GetBalance(e.journalGen.FeeSink())
}

func (e *Engine) PoolTotals() PoolTotals {
	out := PoolTotals{
		Collateral:  e.TotalCollateralBalance(),
		Treasury:    e.TotalTreasuryBalance(),
		MarginTotal: e.margins.Total(),
		Accounts:    len(e.margins.Accounts()),
	}
	for _, asset := range e.universe.Assets() {
		t := AssetTotals{Asset: asset, Params: e.params.Get(asset)}
		if p, ok := e.baselines.Baseline(asset); ok {
			t.Baseline = &p
		}
		for _, pos := range e.positions.AssetPositions(asset) {
			if pos.Balance > 0 {
				t.Longs += fpmath.AbsAmount(pos.Balance)
			} else {
				t.Shorts += fpmath.AbsAmount(pos.Balance)
			}
		}
		out.Assets = append(out.Assets, t)
	}
	return out
}

func (e *Engine) Universe() []state.AssetID {
	return e.universe.Assets()
}

func (e *Engine) PoolID() string {
	return e.poolID
}
