package event

import (
	fpmath "PerpPool/internal/math"
	"time"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMintRequested
	EventTypeRiskParamUpdate
	EventTypeSettlementTick
	EventTypeWalletFunded
)

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Asset context (nil for global commands such as ticks)
	AssetID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command payload
	Payload []byte

	// Oracle view the command was applied with, by asset
	Prices map[string]fpmath.Price

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// AssetID returns the asset context (nil for global commands)
	AssetID() *string

	// EventTime returns the versioned input timestamp (epoch microseconds)
	EventTime() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeMintRequested:
		return "MintRequested"
	case EventTypeRiskParamUpdate:
		return "RiskParamUpdate"
	case EventTypeSettlementTick:
		return "SettlementTick"
	case EventTypeWalletFunded:
		return "WalletFunded"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypeMintRequested; et <= EventTypeWalletFunded; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
