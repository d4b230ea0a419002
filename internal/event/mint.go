package event

import (
	"fmt"

	"github.com/google/uuid"
)

// MintRequested opens, grows, shrinks or closes exposure and posts or
// withdraws collateral in one margin-checked step.
type MintRequested struct {
	RequestID       string    `json:"request_id"`
	Account         uuid.UUID `json:"account_id"`
	Asset           string    `json:"asset"`
	ExposureDelta   int64     `json:"exposure_delta"`
	CollateralDelta int64     `json:"collateral_delta"`
	Timestamp       int64     `json:"timestamp"` // Epoch microseconds
}

func (m *MintRequested) IdempotencyKey() string {
	return fmt.Sprintf("mint:%s", m.RequestID)
}

func (m *MintRequested) EventType() EventType {
	return EventTypeMintRequested
}

func (m *MintRequested) AssetID() *string {
	s := m.Asset
	return &s
}

func (m *MintRequested) EventTime() int64 {
	return m.Timestamp
}
