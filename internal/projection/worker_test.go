package projection_test

import (
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/oracle"
	"PerpPool/internal/projection"
	"PerpPool/internal/state"
	"PerpPool/internal/testutil"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var carol = uuid.MustParse("00000000-0000-0000-0000-00000000000c")

func TestProjectionWorker_UpsertsAccountsAndTotals(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	engine, err := core.NewEngine(core.Genesis{
		PoolID: "proj-pool",
		Assets: []core.GenesisAsset{{ID: "DOT", Params: state.AssetParams{
			InitialIMRatio:   fpmath.PermillFromPercent(20),
			LiquidationRatio: fpmath.PermillFromPercent(10),
			TransactionFee:   fpmath.PermillFromParts(1000),
		}}},
		Endowments: []core.Endowment{{Account: carol, Amount: 1_000_000}},
	}, nil)
	require.NoError(t, err)

	ch := make(chan *core.Output, 8)
	proc := core.NewProcessor(engine, oracle.Static{"DOT": fpmath.PriceFromInt(1)}, nil,
		core.Channels{Projection: ch}, nil, zerolog.Nop())

	_, err = proc.Process(&event.MintRequested{RequestID: "m1", Account: carol, Asset: "DOT", ExposureDelta: 100, CollateralDelta: 21})
	require.NoError(t, err)
	_, err = proc.Process(&event.MintRequested{RequestID: "m2", Account: carol, Asset: "DOT", ExposureDelta: -100, CollateralDelta: -10})
	require.NoError(t, err)
	close(ch)

	worker := projection.NewProjectionWorker(db, "proj-pool", ch, nil, zerolog.Nop())
	require.NoError(t, worker.Run(ctx))
	assert.Equal(t, int64(2), worker.LastSequence())

	var margin string
	var lastSeq int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT margin::text, last_sequence FROM projections.margins WHERE account_id = $1`, carol,
	).Scan(&margin, &lastSeq))
	assert.Equal(t, int64(2), lastSeq)

	var positions int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projections.positions WHERE account_id = $1 AND balance <> 0`, carol,
	).Scan(&positions))
	assert.Zero(t, positions)

	var poolSeq int64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.pool_totals WHERE pool_id = 'proj-pool'`,
	).Scan(&poolSeq))
	assert.Equal(t, int64(2), poolSeq)

	require.NoError(t, projection.ResetProjections(ctx, db))
	var rows int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.margins`).Scan(&rows))
	assert.Zero(t, rows)
}
