package event

import "fmt"

// SettlementTick triggers one settlement cycle.
type SettlementTick struct {
	TickID    string `json:"tick_id"` // ULID
	Timestamp int64  `json:"timestamp"`
}

func (t *SettlementTick) IdempotencyKey() string {
	return fmt.Sprintf("tick:%s", t.TickID)
}

func (t *SettlementTick) EventType() EventType {
	return EventTypeSettlementTick
}

func (t *SettlementTick) AssetID() *string {
	return nil
}

func (t *SettlementTick) EventTime() int64 {
	return t.Timestamp
}
