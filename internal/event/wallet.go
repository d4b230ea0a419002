package event

import (
	"fmt"

	"github.com/google/uuid"
)

// WalletFunded credits a participant wallet from outside the pool. Only an
// administrative origin may mint native currency this way.
type WalletFunded struct {
	RequestID string    `json:"request_id"`
	Origin    Origin    `json:"origin"`
	Account   uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
	Timestamp int64     `json:"timestamp"`
}

func (w *WalletFunded) IdempotencyKey() string {
	return fmt.Sprintf("wallet:%s", w.RequestID)
}

func (w *WalletFunded) EventType() EventType {
	return EventTypeWalletFunded
}

func (w *WalletFunded) AssetID() *string {
	return nil
}

func (w *WalletFunded) EventTime() int64 {
	return w.Timestamp
}
