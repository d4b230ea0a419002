package event

import (
	"encoding/json"
	"fmt"
)

// DecodeCommand rebuilds a command from its logged type and payload.
func DecodeCommand(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeMintRequested:
		evt = &MintRequested{}
	case EventTypeRiskParamUpdate:
		evt = &RiskParamUpdate{}
	case EventTypeSettlementTick:
		evt = &SettlementTick{}
	case EventTypeWalletFunded:
		evt = &WalletFunded{}
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
