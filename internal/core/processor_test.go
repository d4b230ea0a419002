package core_test

import (
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/observability"
	"PerpPool/internal/oracle"
	"PerpPool/internal/state"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedProcessor(t *testing.T, persist chan *core.Output, feed oracle.Provider) *core.Processor {
	t.Helper()
	engine, err := core.NewEngine(testGenesis(), newGate())
	require.NoError(t, err)
	return core.NewProcessor(engine, feed, nil, core.Channels{Persist: persist}, nil, zerolog.Nop())
}

// scriptedRun applies a fixed command script and returns the logged envelopes.
func scriptedRun(t *testing.T) ([]*event.EventEnvelope, *core.Processor) {
	t.Helper()
	persist := make(chan *core.Output, 64)
	feed := oracle.NewFeed(state.MustUniverse(dot, ldot), nil)
	require.NoError(t, feed.Set(dot, fpmath.PriceFromInt(20)))
	require.NoError(t, feed.Set(ldot, fpmath.PriceFromInt(20)))
	proc := newLoggedProcessor(t, persist, feed)

	cmds := []event.Event{
		&event.MintRequested{RequestID: "1", Account: alice, Asset: "DOT", ExposureDelta: 100, CollateralDelta: 450},
		&event.MintRequested{RequestID: "2", Account: bob, Asset: "DOT", ExposureDelta: -100, CollateralDelta: 402},
		&event.MintRequested{RequestID: "3", Account: charlie, Asset: "DOT", ExposureDelta: 50, CollateralDelta: 400},
		&event.RiskParamUpdate{RequestID: "4", Origin: originOf(alice), Asset: "LDOT", TransactionFee: pct(1)},
		&event.MintRequested{RequestID: "5", Account: georges, Asset: "LDOT", ExposureDelta: -10, CollateralDelta: 400},
		&event.SettlementTick{TickID: "t1"},
		&event.WalletFunded{RequestID: "6", Origin: originOf(alice), Account: bob, Amount: 1000},
	}
	for _, cmd := range cmds {
		_, err := proc.Process(cmd)
		require.NoError(t, err)
	}

	require.NoError(t, feed.Set(dot, fpmath.PriceFromInt(16)))
	_, err := proc.Process(&event.SettlementTick{TickID: "t2"})
	require.NoError(t, err)

	close(persist)
	var envs []*event.EventEnvelope
	for out := range persist {
		envs = append(envs, out.Envelope)
	}
	return envs, proc
}

func TestProcessor_SequenceAndHashChain(t *testing.T) {
	envs, proc := scriptedRun(t)

	require.Len(t, envs, 8)
	prev := core.GenesisHash()
	for i, env := range envs {
		assert.Equal(t, int64(i+1), env.Sequence)
		assert.Equal(t, prev, env.PrevHash, "seq=%d", env.Sequence)
		prev = env.StateHash
	}
	assert.Equal(t, prev, proc.StateHash())
	assert.Equal(t, int64(8), proc.Sequence())

	// tick carries no asset context; mints do
	assert.Nil(t, envs[5].AssetID)
	require.NotNil(t, envs[0].AssetID)
	assert.Equal(t, "DOT", *envs[0].AssetID)
	assert.Equal(t, fpmath.PriceFromInt(16), envs[7].Prices["DOT"])
}

func TestProcessor_DeterministicAcrossRuns(t *testing.T) {
	a, _ := scriptedRun(t)
	b, _ := scriptedRun(t)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].StateHash, b[i].StateHash, "seq=%d", a[i].Sequence)
	}
}

func TestProcessor_ReplayReproducesState(t *testing.T) {
	envs, live := scriptedRun(t)

	// prices in the log, not the live feed, drive replay
	replayed := newLoggedProcessor(t, nil, oracle.Static{})
	for _, env := range envs {
		require.NoError(t, replayed.Replay(env))
	}

	assert.Equal(t, live.StateHash(), replayed.StateHash())
	assert.Equal(t, live.Engine().PoolTotals(), replayed.Engine().PoolTotals())
	for _, acct := range []uuid.UUID{alice, bob, charlie, georges} {
		assert.Equal(t, live.Engine().Account(acct), replayed.Engine().Account(acct))
	}

	// a replayed key is a duplicate afterwards
	_, err := replayed.Process(&event.MintRequested{RequestID: "1", Account: alice, Asset: "DOT"})
	require.ErrorIs(t, err, core.ErrDuplicate)
}

func TestProcessor_ReplayDetectsTampering(t *testing.T) {
	envs, _ := scriptedRun(t)
	replayed := newLoggedProcessor(t, nil, oracle.Static{})
	require.NoError(t, replayed.Replay(envs[0]))

	tampered := *envs[1]
	var cmd event.MintRequested
	require.NoError(t, json.Unmarshal(tampered.Payload, &cmd))
	cmd.CollateralDelta++
	payload, err := json.Marshal(&cmd)
	require.NoError(t, err)
	tampered.Payload = payload

	err = replayed.Replay(&tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state hash mismatch")

	gap := *envs[3]
	require.Error(t, replayed.Replay(&gap))
}

func TestProcessor_RejectedCommandLeavesNoTrace(t *testing.T) {
	persist := make(chan *core.Output, 8)
	proc := newLoggedProcessor(t, persist, oracle.Static{dot: fpmath.PriceFromInt(1), ldot: fpmath.PriceFromInt(1)})
	before := proc.StateHash()

	_, err := proc.Process(&event.MintRequested{RequestID: "x", Account: alice, Asset: "DOT", ExposureDelta: 10, CollateralDelta: 1})
	require.ErrorIs(t, err, core.ErrNotEnoughIM)
	assert.Equal(t, int64(0), proc.Sequence())
	assert.Equal(t, before, proc.StateHash())
	assert.Empty(t, persist)

	// a rejected key may be retried
	_, err = proc.Process(&event.MintRequested{RequestID: "x", Account: alice, Asset: "DOT", ExposureDelta: 10, CollateralDelta: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), proc.Sequence())
}

func TestProcessor_Duplicates(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsWith(reg)
	engine, err := core.NewEngine(testGenesis(), nil)
	require.NoError(t, err)
	prices := oracle.Static{dot: fpmath.PriceFromInt(1), ldot: fpmath.PriceFromInt(1)}
	proc := core.NewProcessor(engine, prices, nil, core.Channels{}, metrics, zerolog.Nop())

	cmd := &event.MintRequested{RequestID: "dup", Account: alice, Asset: "DOT", ExposureDelta: 100, CollateralDelta: 21}
	_, err = proc.Process(cmd)
	require.NoError(t, err)
	_, err = proc.Process(cmd)
	require.ErrorIs(t, err, core.ErrDuplicate)

	assert.Equal(t, int64(1), proc.Sequence())
	assert.Equal(t, uint64(20), engine.Margin(alice))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IdempotencyDuplicates.WithLabelValues("MintRequested", "lru")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CommandsApplied.WithLabelValues("MintRequested")))
	assert.Equal(t, 20.0, testutil.ToFloat64(metrics.CustodyBalance))
}

type fakeDB struct{ keys map[string]bool }

func (f fakeDB) IsDuplicate(_ context.Context, eventType, key string) (bool, error) {
	return f.keys[eventType+":"+key], nil
}

func TestIdempotencyChecker_Tiers(t *testing.T) {
	ic := core.NewIdempotencyChecker(2, fakeDB{keys: map[string]bool{"MintRequested:mint:old": true}}, nil, zerolog.Nop())

	assert.True(t, ic.IsDuplicate("MintRequested", "mint:old"))
	assert.True(t, ic.LRU().Contains("MintRequested:mint:old"), "tier-2 hit is cached")
	assert.False(t, ic.IsDuplicate("MintRequested", "mint:new"))

	ic.MarkProcessed("MintRequested", "mint:a")
	ic.MarkProcessed("MintRequested", "mint:b")
	assert.Equal(t, 2, ic.LRU().Size())
	assert.Equal(t, int64(1), ic.LRU().Evictions())
	assert.Equal(t, []string{"MintRequested:mint:b", "MintRequested:mint:a"}, ic.LRU().Keys())
}

func TestProcessor_SnapshotRestore(t *testing.T) {
	envs, live := scriptedRun(t)
	snap := live.Snapshot()

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded core.StateSnapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := newLoggedProcessor(t, nil, oracle.Static{})
	require.NoError(t, restored.Restore(&decoded))

	assert.Equal(t, live.Sequence(), restored.Sequence())
	assert.Equal(t, live.StateHash(), restored.StateHash())
	assert.Equal(t, live.Engine().PoolTotals(), restored.Engine().PoolTotals())
	for _, acct := range []uuid.UUID{alice, bob, charlie, georges} {
		assert.Equal(t, live.Engine().Account(acct), restored.Engine().Account(acct))
	}

	// idempotency keys survive the snapshot
	_, err = restored.Process(&event.SettlementTick{TickID: "t1"})
	require.ErrorIs(t, err, core.ErrDuplicate)

	// replay past the snapshot point is rejected as a gap
	require.Error(t, restored.Replay(envs[len(envs)-1]))
}

type memSnapshots struct {
	mu    sync.Mutex
	snaps []*core.StateSnapshot
}

func (m *memSnapshots) SaveSnapshot(_ context.Context, snap *core.StateSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *memSnapshots) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

func TestRunner_SubmitAndQuery(t *testing.T) {
	prices := oracle.Static{dot: fpmath.PriceFromInt(1), ldot: fpmath.PriceFromInt(1)}
	engine, err := core.NewEngine(testGenesis(), nil)
	require.NoError(t, err)
	proc := core.NewProcessor(engine, prices, nil, core.Channels{}, nil, zerolog.Nop())

	snaps := &memSnapshots{}
	runner := core.NewRunner(proc, core.RunnerConfig{SnapshotInterval: 2}, snaps, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	out, err := runner.Submit(ctx, &event.MintRequested{RequestID: "r1", Account: alice, Asset: "DOT", ExposureDelta: 100, CollateralDelta: 21})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Envelope.Sequence)

	_, err = runner.Submit(ctx, &event.MintRequested{RequestID: "r2", Account: bob, Asset: "DOT", ExposureDelta: 10, CollateralDelta: 1})
	require.ErrorIs(t, err, core.ErrNotEnoughIM)

	_, err = runner.Submit(ctx, &event.SettlementTick{TickID: runner.NewTickID(time.Now())})
	require.NoError(t, err)

	var margin uint64
	require.NoError(t, runner.Query(ctx, func(p *core.Processor) { margin = p.Engine().Margin(alice) }))
	assert.Equal(t, uint64(20), margin)

	require.Eventually(t, func() bool { return snaps.count() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	_, err = runner.Submit(context.Background(), &event.SettlementTick{TickID: "late"})
	require.ErrorIs(t, err, core.ErrStopped)
}

func TestRunner_ScheduledTicks(t *testing.T) {
	prices := oracle.Static{dot: fpmath.PriceFromInt(1), ldot: fpmath.PriceFromInt(1)}
	engine, err := core.NewEngine(testGenesis(), nil)
	require.NoError(t, err)
	proc := core.NewProcessor(engine, prices, nil, core.Channels{}, nil, zerolog.Nop())
	runner := core.NewRunner(proc, core.RunnerConfig{TickInterval: 5 * time.Millisecond}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	require.Eventually(t, func() bool {
		var seq int64
		if err := runner.Query(ctx, func(p *core.Processor) { seq = p.Sequence() }); err != nil {
			return false
		}
		return seq >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunner_TickIDsAreOrdered(t *testing.T) {
	engine, err := core.NewEngine(testGenesis(), nil)
	require.NoError(t, err)
	runner := core.NewRunner(core.NewProcessor(engine, oracle.Static{}, nil, core.Channels{}, nil, zerolog.Nop()),
		core.RunnerConfig{}, nil, zerolog.Nop())

	now := time.Now()
	a := runner.NewTickID(now)
	b := runner.NewTickID(now)
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}
