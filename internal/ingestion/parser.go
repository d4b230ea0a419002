package ingestion

import (
	"PerpPool/internal/core"
	"PerpPool/internal/event"
	fpmath "PerpPool/internal/math"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommandKind names an inbound command stream.
type CommandKind string

const (
	KindMint       CommandKind = "mint"
	KindRiskParams CommandKind = "params"
	KindWallet     CommandKind = "wallet"
	KindTick       CommandKind = "tick"
)

// ParseCommand converts a JSON payload from the command streams into a typed
// command. Missing timestamps are stamped with now.
func ParseCommand(kind CommandKind, data []byte, now time.Time) (event.Event, error) {
	switch kind {
	case KindMint:
		var req MintRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return req.Event(now)
	case KindRiskParams:
		var req RiskParamsRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return req.Event(now)
	case KindWallet:
		var req FundWalletRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return req.Event(now)
	case KindTick:
		var req TickRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return req.Event(now)
	default:
		return nil, invalid("unknown command kind %q", kind)
	}
}

// ParsePriceUpdate converts an oracle message into a price update.
func ParsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var msg PriceMessage
	if err := decode(data, &msg); err != nil {
		return nil, err
	}
	return msg.Event()
}

// --- JSON wire formats ---
// Shared by the stream consumers and the HTTP gateway. Amounts and prices
// travel as decimal strings; bare JSON numbers are accepted too.

type MintRequest struct {
	RequestID       string      `json:"request_id"`
	AccountID       string      `json:"account_id"`
	Asset           string      `json:"asset"`
	ExposureDelta   json.Number `json:"exposure_delta"`
	CollateralDelta json.Number `json:"collateral_delta"`
	TimestampUs     int64       `json:"timestamp_us"`
}

func (r MintRequest) Event(now time.Time) (*event.MintRequested, error) {
	if r.RequestID == "" {
		return nil, invalid("mint: request_id is required")
	}
	account, err := parseAccount(r.AccountID)
	if err != nil {
		return nil, err
	}
	if r.Asset == "" {
		return nil, invalid("mint: asset is required")
	}
	exposure, err := parseAmount("exposure_delta", r.ExposureDelta)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAmount("collateral_delta", r.CollateralDelta)
	if err != nil {
		return nil, err
	}
	return &event.MintRequested{
		RequestID:       r.RequestID,
		Account:         account,
		Asset:           r.Asset,
		ExposureDelta:   exposure,
		CollateralDelta: collateral,
		Timestamp:       stamp(r.TimestampUs, now),
	}, nil
}

type RiskParamsRequest struct {
	RequestID        string  `json:"request_id"`
	AccountID        string  `json:"account_id"`
	Asset            string  `json:"asset"`
	InitialIMRatio   *string `json:"initial_im_ratio,omitempty"`
	LiquidationRatio *string `json:"liquidation_ratio,omitempty"`
	TransactionFee   *string `json:"transaction_fee,omitempty"`
	TimestampUs      int64   `json:"timestamp_us"`

	// Bearer credential. The gateway fills it from the Authorization header.
	Token string `json:"token,omitempty"`
}

func (r RiskParamsRequest) Event(now time.Time) (*event.RiskParamUpdate, error) {
	if r.RequestID == "" {
		return nil, invalid("risk params: request_id is required")
	}
	if r.Asset == "" {
		return nil, invalid("risk params: asset is required")
	}
	var origin uuid.UUID
	if r.AccountID != "" {
		id, err := parseAccount(r.AccountID)
		if err != nil {
			return nil, err
		}
		origin = id
	}

	evt := &event.RiskParamUpdate{
		RequestID: r.RequestID,
		Origin:    event.Origin{Account: origin, Token: r.Token},
		Asset:     r.Asset,
		Timestamp: stamp(r.TimestampUs, now),
	}
	var err error
	if evt.InitialIMRatio, err = parseRatio("initial_im_ratio", r.InitialIMRatio); err != nil {
		return nil, err
	}
	if evt.LiquidationRatio, err = parseRatio("liquidation_ratio", r.LiquidationRatio); err != nil {
		return nil, err
	}
	if evt.TransactionFee, err = parseRatio("transaction_fee", r.TransactionFee); err != nil {
		return nil, err
	}
	return evt, nil
}

type FundWalletRequest struct {
	RequestID   string      `json:"request_id"`
	AccountID   string      `json:"account_id"`
	Amount      json.Number `json:"amount"`
	TimestampUs int64       `json:"timestamp_us"`

	Token string `json:"token,omitempty"`
}

func (r FundWalletRequest) Event(now time.Time) (*event.WalletFunded, error) {
	if r.RequestID == "" {
		return nil, invalid("fund wallet: request_id is required")
	}
	account, err := parseAccount(r.AccountID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", r.Amount)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, invalid("fund wallet: amount must be positive, got %d", amount)
	}
	return &event.WalletFunded{
		RequestID: r.RequestID,
		Origin:    event.Origin{Token: r.Token},
		Account:   account,
		Amount:    amount,
		Timestamp: stamp(r.TimestampUs, now),
	}, nil
}

type TickRequest struct {
	TickID      string `json:"tick_id"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (r TickRequest) Event(now time.Time) (*event.SettlementTick, error) {
	if r.TickID == "" {
		return nil, invalid("tick: tick_id is required")
	}
	return &event.SettlementTick{TickID: r.TickID, Timestamp: stamp(r.TimestampUs, now)}, nil
}

type PriceMessage struct {
	Asset       string `json:"asset"`
	Price       string `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (m PriceMessage) Event() (*event.PriceUpdate, error) {
	if m.Asset == "" {
		return nil, invalid("price: asset is required")
	}
	price, err := fpmath.ParsePrice(m.Price)
	if err != nil {
		return nil, invalid("price %s: %v", m.Asset, err)
	}
	return &event.PriceUpdate{
		Asset:     m.Asset,
		Price:     price,
		Sequence:  m.Sequence,
		Timestamp: m.TimestampUs,
	}, nil
}

// --- helpers ---

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return invalid("malformed payload: %v", err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), core.ErrInvalidCommand)
}

func parseAccount(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, invalid("parse account_id: %v", err)
	}
	if id == uuid.Nil {
		return uuid.Nil, invalid("account_id must not be nil")
	}
	return id, nil
}

// parseAmount accepts an integer in base units. An empty value is zero.
func parseAmount(field string, n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, invalid("parse %s: %v", field, err)
	}
	if !d.IsInteger() {
		return 0, invalid("%s must be a whole number of base units, got %s", field, d.String())
	}
	b := d.BigInt()
	if !b.IsInt64() {
		return 0, fmt.Errorf("%s %s: %w", field, d.String(), fpmath.ErrOverflow)
	}
	return b.Int64(), nil
}

func parseRatio(field string, s *string) (*fpmath.Permill, error) {
	if s == nil {
		return nil, nil
	}
	r, err := fpmath.ParsePermill(*s)
	if err != nil {
		return nil, invalid("parse %s: %v", field, err)
	}
	return &r, nil
}

func stamp(us int64, now time.Time) int64 {
	if us > 0 {
		return us
	}
	return now.UnixMicro()
}
