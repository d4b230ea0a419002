package projection

import (
	"PerpPool/internal/core"
	"PerpPool/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ProjectionWorker maintains the read-model tables from engine outputs.
// The projection channel drops when full, so the tables are eventually
// consistent and can be rebuilt by replaying the command log.
type ProjectionWorker struct {
	db        *sql.DB
	poolID    string
	inputChan <-chan *core.Output
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	poolID string,
	inputChan <-chan *core.Output,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		poolID:    poolID,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if out.Envelope == nil {
				continue
			}

			start := time.Now()
			if err := pw.processOutput(ctx, out); err != nil {
				pw.logger.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Msg("projection update failed")
				continue
			}
			pw.lastSeq = out.Envelope.Sequence
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
			}
		}
	}
}

// LastSequence is the sequence of the last applied output.
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

func (pw *ProjectionWorker) processOutput(ctx context.Context, out *core.Output) error {
	seq := out.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, acct := range out.Accounts {
		if err := upsertAccount(ctx, tx, acct, seq); err != nil {
			return fmt.Errorf("account %s: %w", acct.Account, err)
		}
	}
	if err := pw.upsertTotals(ctx, tx, out.Totals, seq); err != nil {
		return fmt.Errorf("pool totals: %w", err)
	}
	return tx.Commit()
}

// Rows older than the incoming sequence are the only ones overwritten, so
// a rebuild racing live updates cannot regress a row.
func upsertAccount(ctx context.Context, tx *sql.Tx, acct core.AccountView, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.margins (account_id, margin, has_margin, wallet, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (account_id) DO UPDATE
		SET margin = EXCLUDED.margin, has_margin = EXCLUDED.has_margin, wallet = EXCLUDED.wallet,
		    last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		WHERE projections.margins.last_sequence < EXCLUDED.last_sequence
	`, acct.Account, decimal.NewFromUint64(acct.Margin), acct.HasMargin, acct.Wallet, seq); err != nil {
		return err
	}

	assets := make([]string, 0, len(acct.Positions))
	for _, pos := range acct.Positions {
		assets = append(assets, string(pos.Asset))
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions (account_id, asset, balance, inventory, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (account_id, asset) DO UPDATE
			SET balance = EXCLUDED.balance, inventory = EXCLUDED.inventory,
			    last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
			WHERE projections.positions.last_sequence < EXCLUDED.last_sequence
		`, acct.Account, string(pos.Asset), pos.Balance, pos.Inventory, seq); err != nil {
			return err
		}
	}

	// positions removed by liquidation
	_, err := tx.ExecContext(ctx, `
		DELETE FROM projections.positions
		WHERE account_id = $1 AND NOT (asset = ANY($2)) AND last_sequence < $3
	`, acct.Account, pq.Array(assets), seq)
	return err
}

func (pw *ProjectionWorker) upsertTotals(ctx context.Context, tx *sql.Tx, totals core.PoolTotals, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pool_totals
			(pool_id, total_collateral_balance, total_treasury_balance, margin_total, accounts, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (pool_id) DO UPDATE
		SET total_collateral_balance = EXCLUDED.total_collateral_balance,
		    total_treasury_balance = EXCLUDED.total_treasury_balance,
		    margin_total = EXCLUDED.margin_total, accounts = EXCLUDED.accounts,
		    last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		WHERE projections.pool_totals.last_sequence < EXCLUDED.last_sequence
	`, pw.poolID, totals.Collateral, totals.Treasury, decimal.NewFromUint64(totals.MarginTotal), totals.Accounts, seq); err != nil {
		return err
	}

	for _, a := range totals.Assets {
		var baseline *decimal.Decimal
		if a.Baseline != nil {
			d := a.Baseline.Decimal()
			baseline = &d
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.asset_totals
				(asset, initial_im_ratio, liquidation_ratio, transaction_fee, baseline, longs, shorts, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (asset) DO UPDATE
			SET initial_im_ratio = EXCLUDED.initial_im_ratio, liquidation_ratio = EXCLUDED.liquidation_ratio,
			    transaction_fee = EXCLUDED.transaction_fee, baseline = EXCLUDED.baseline,
			    longs = EXCLUDED.longs, shorts = EXCLUDED.shorts,
			    last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
			WHERE projections.asset_totals.last_sequence < EXCLUDED.last_sequence
		`, string(a.Asset), int64(a.Params.InitialIMRatio), int64(a.Params.LiquidationRatio), int64(a.Params.TransactionFee),
			baseline, decimal.NewFromUint64(a.Longs), decimal.NewFromUint64(a.Shorts), seq); err != nil {
			return err
		}
	}
	return nil
}

// ResetProjections empties every projection table. Replaying the command log
// with a projection worker attached refills them.
func ResetProjections(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{
		`TRUNCATE projections.margins`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.pool_totals`,
		`TRUNCATE projections.asset_totals`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset projections: %w", err)
		}
	}
	return nil
}
