package query_test

import (
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/oracle"
	"PerpPool/internal/query"
	"PerpPool/internal/state"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = uuid.MustParse("00000000-0000-0000-0000-00000000000a")

const endowment int64 = 1_000_000

func startRunner(t *testing.T) *core.Runner {
	t.Helper()
	engine, err := core.NewEngine(core.Genesis{
		PoolID: "query-pool",
		Assets: []core.GenesisAsset{{ID: "DOT", Params: state.AssetParams{
			InitialIMRatio:   fpmath.PermillFromPercent(20),
			LiquidationRatio: fpmath.PermillFromPercent(10),
			TransactionFee:   fpmath.PermillFromParts(1000),
		}}},
		Endowments: []core.Endowment{{Account: alice, Amount: endowment}},
	}, nil)
	require.NoError(t, err)

	prices := oracle.Static{"DOT": fpmath.PriceFromInt(1)}
	proc := core.NewProcessor(engine, prices, nil, core.Channels{}, nil, zerolog.Nop())
	runner := core.NewRunner(proc, core.RunnerConfig{}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return runner
}

func TestQueryService_LiveState(t *testing.T) {
	runner := startRunner(t)
	ctx := context.Background()

	_, err := runner.Submit(ctx, &event.MintRequested{
		RequestID: "r1", Account: alice, Asset: "DOT", ExposureDelta: 100, CollateralDelta: 21,
	})
	require.NoError(t, err)

	qs := query.NewQueryService(runner, nil, nil)

	acct, err := qs.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), acct.Margin)
	assert.True(t, acct.HasMargin)
	assert.Equal(t, endowment-21, acct.Wallet)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, int64(100), acct.Positions[0].Balance)
	assert.Equal(t, int64(1), acct.AsOfSequence)

	params, err := qs.GetAssetParams(ctx, "DOT")
	require.NoError(t, err)
	assert.Equal(t, "0.2", params.InitialIMRatio)
	assert.Equal(t, "0.1", params.LiquidationRatio)
	assert.Equal(t, "0.001", params.TransactionFee)

	pool, err := qs.GetPoolTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, "query-pool", pool.PoolID)
	assert.Equal(t, int64(20), pool.Collateral)
	assert.Equal(t, int64(1), pool.Treasury)
	assert.Equal(t, uint64(20), pool.MarginTotal)
	require.Len(t, pool.Assets, 1)
	assert.Equal(t, uint64(100), pool.Assets[0].Longs)
	assert.Len(t, pool.StateHash, 64)
}

func TestQueryService_UnknownAccountAndAsset(t *testing.T) {
	runner := startRunner(t)
	qs := query.NewQueryService(runner, nil, nil)
	ctx := context.Background()

	acct, err := qs.GetAccount(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, acct.HasMargin)
	assert.Zero(t, acct.Margin)
	assert.Empty(t, acct.Positions)

	_, err = qs.GetAssetParams(ctx, "BTC")
	require.ErrorIs(t, err, core.ErrBadAssetID)
}

func TestQueryService_LogQueriesNeedDatabase(t *testing.T) {
	runner := startRunner(t)
	qs := query.NewQueryService(runner, nil, nil)

	_, err := qs.GetJournalHistory(context.Background(), alice, 10, nil)
	require.ErrorIs(t, err, query.ErrNoDatabase)

	report, err := qs.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
}
