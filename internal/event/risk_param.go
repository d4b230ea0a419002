package event

import (
	fpmath "PerpPool/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// Origin identifies the caller of an administrative command.
type Origin struct {
	Account uuid.UUID `json:"account_id"`
	Root    bool      `json:"-"` // set by in-process callers only
	Token   string    `json:"-"` // bearer credential, never persisted
}

// RiskParamUpdate changes an asset's risk parameters. A nil field leaves
// that parameter unchanged.
type RiskParamUpdate struct {
	RequestID        string          `json:"request_id"`
	Origin           Origin          `json:"origin"`
	Asset            string          `json:"asset"`
	InitialIMRatio   *fpmath.Permill `json:"initial_im_ratio,omitempty"`
	LiquidationRatio *fpmath.Permill `json:"liquidation_ratio,omitempty"`
	TransactionFee   *fpmath.Permill `json:"transaction_fee,omitempty"`
	Timestamp        int64           `json:"timestamp"` // Epoch microseconds
}

func (r *RiskParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("risk_param:%s", r.RequestID)
}

func (r *RiskParamUpdate) EventType() EventType {
	return EventTypeRiskParamUpdate
}

func (r *RiskParamUpdate) AssetID() *string {
	s := r.Asset
	return &s
}

func (r *RiskParamUpdate) EventTime() int64 {
	return r.Timestamp
}
