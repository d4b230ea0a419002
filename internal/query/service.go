package query

import (
	"PerpPool/internal/core"
	"PerpPool/internal/observability"
	"PerpPool/internal/state"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoDatabase is returned by log-backed queries when the service runs
// without Postgres.
var ErrNoDatabase = errors.New("query: no database configured")

// StateReader runs read-only functions against the live engine. The core
// runner satisfies it.
type StateReader interface {
	Query(ctx context.Context, fn func(*core.Processor)) error
}

// QueryService answers read-only requests. Account, parameter and pool
// queries read the live engine so they reflect every applied command;
// journal history and integrity checks read the persisted log.
// Every response carries as_of_sequence.
type QueryService struct {
	state   StateReader
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(state StateReader, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{state: state, db: db, metrics: metrics}
}

// GetAccount returns an account's margin, wallet balance and positions.
// Unknown accounts report zero margin and no positions.
func (qs *QueryService) GetAccount(ctx context.Context, account uuid.UUID) (*AccountResponse, error) {
	defer qs.observe("GetAccount", time.Now())

	var resp AccountResponse
	err := qs.state.Query(ctx, func(p *core.Processor) {
		resp.AccountView = p.Engine().Account(account)
		resp.AsOfSequence = p.Sequence()
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAssetParams returns an asset's risk parameters.
func (qs *QueryService) GetAssetParams(ctx context.Context, asset state.AssetID) (*AssetParamsResponse, error) {
	defer qs.observe("GetAssetParams", time.Now())

	var (
		params state.AssetParams
		seq    int64
		perr   error
	)
	err := qs.state.Query(ctx, func(p *core.Processor) {
		params, perr = p.Engine().AssetParams(asset)
		seq = p.Sequence()
	})
	if err != nil {
		return nil, err
	}
	if perr != nil {
		return nil, perr
	}
	return &AssetParamsResponse{
		Asset:            asset,
		InitialIMRatio:   params.InitialIMRatio.String(),
		LiquidationRatio: params.LiquidationRatio.String(),
		TransactionFee:   params.TransactionFee.String(),
		AsOfSequence:     seq,
	}, nil
}

// GetPoolTotals returns custody, treasury and open interest.
func (qs *QueryService) GetPoolTotals(ctx context.Context) (*PoolResponse, error) {
	defer qs.observe("GetPoolTotals", time.Now())

	var resp PoolResponse
	err := qs.state.Query(ctx, func(p *core.Processor) {
		resp.PoolTotals = p.Engine().PoolTotals()
		resp.PoolID = p.Engine().PoolID()
		resp.AsOfSequence = p.Sequence()
		hash := p.StateHash()
		resp.StateHash = hex.EncodeToString(hash[:])
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJournalHistory returns journal entries touching an account, newest
// first. afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	defer qs.observe("GetJournalHistory", time.Now())
	if qs.db == nil {
		return nil, ErrNoDatabase
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	accountPrefix := fmt.Sprintf("user:%s:%%", account)
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity checks the persisted hash chain for breaks and re-runs the
// engine's ledger invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("VerifyIntegrity", time.Now())
	report := &IntegrityReport{}

	var invErr error
	if err := qs.state.Query(ctx, func(p *core.Processor) {
		invErr = p.Engine().CheckInvariants()
		report.AsOfSequence = p.Sequence()
	}); err != nil {
		return nil, err
	}
	if invErr != nil {
		report.InvariantError = invErr.Error()
	}

	if qs.db != nil {
		rows, err := qs.db.QueryContext(ctx, `
			SELECT c1.sequence
			FROM event_log.commands c1
			JOIN event_log.commands c2 ON c2.sequence = c1.sequence - 1
			WHERE c1.prev_hash != c2.state_hash
			ORDER BY c1.sequence
			LIMIT 10
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.InvariantError == ""
	return report, nil
}

func (qs *QueryService) observe(method string, start time.Time) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
