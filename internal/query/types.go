package query

import (
	"PerpPool/internal/core"
	"PerpPool/internal/state"
)

// AccountResponse is an account's margin, wallet and positions.
type AccountResponse struct {
	core.AccountView
	AsOfSequence int64 `json:"as_of_sequence"`
}

// AssetParamsResponse carries ratios as decimal fractions, the same format
// the parameter command accepts.
type AssetParamsResponse struct {
	Asset            state.AssetID `json:"asset"`
	InitialIMRatio   string        `json:"initial_im_ratio"`
	LiquidationRatio string        `json:"liquidation_ratio"`
	TransactionFee   string        `json:"transaction_fee"`
	AsOfSequence     int64         `json:"as_of_sequence"`
}

// PoolResponse is the pool-wide view plus the state hash it was read at.
type PoolResponse struct {
	core.PoolTotals
	PoolID       string `json:"pool_id"`
	AsOfSequence int64  `json:"as_of_sequence"`
	StateHash    string `json:"state_hash"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	InvariantError  string  `json:"invariant_error,omitempty"`
	AsOfSequence    int64   `json:"as_of_sequence"`
}
