package event

import (
	fpmath "PerpPool/internal/math"

	"github.com/google/uuid"
)

// NotificationType names an outbound notification. It is also the last
// token of the NATS subject it is published on.
type NotificationType string

const (
	NotifyCollateralUpdated       NotificationType = "collateral_updated"
	NotifyBalanceUpdated          NotificationType = "balance_updated"
	NotifyInitialIMRatioUpdated   NotificationType = "initial_im_ratio_updated"
	NotifyLiquidationRatioUpdated NotificationType = "liquidation_ratio_updated"
	NotifyTransactionFeeUpdated   NotificationType = "transaction_fee_updated"
	NotifyAccountLiquidated       NotificationType = "account_liquidated"
	NotifySettlementCompleted     NotificationType = "settlement_completed"
	NotifyWalletFunded            NotificationType = "wallet_funded"
)

// Notification is emitted by the engine after a command succeeds.
type Notification interface {
	NotificationType() NotificationType
}

// CollateralUpdated reports a non-zero net collateral movement of a mint.
type CollateralUpdated struct {
	Account uuid.UUID `json:"account_id"`
	Delta   int64     `json:"delta"`
	Margin  uint64    `json:"margin"`
}

// BalanceUpdated reports an account's exposure after a mint.
type BalanceUpdated struct {
	Account uuid.UUID `json:"account_id"`
	Asset   string    `json:"asset"`
	Balance int64     `json:"balance"`
}

// RatioUpdated is the payload of the three parameter notifications.
type RatioUpdated struct {
	Kind  NotificationType `json:"-"`
	Asset string           `json:"asset"`
	Ratio fpmath.Permill   `json:"ratio_permill"`
}

// AccountLiquidated reports a full liquidation or an unwind.
type AccountLiquidated struct {
	Account        uuid.UUID `json:"account_id"`
	Kind           string    `json:"kind"`
	Margin         uint64    `json:"margin"`
	LiquidationSum uint64    `json:"liquidation_sum"`
	UnwindSum      uint64    `json:"unwind_sum"`
}

type SettlementCompleted struct {
	TickID        string   `json:"tick_id"`
	AssetsSettled []string `json:"assets_settled"`
	AssetsSkipped []string `json:"assets_skipped,omitempty"`
	Liquidated    int      `json:"liquidated"`
	Unwound       int      `json:"unwound"`
}

type WalletFundedNotice struct {
	Account uuid.UUID `json:"account_id"`
	Amount  int64     `json:"amount"`
	Balance int64     `json:"balance"`
}

func (CollateralUpdated) NotificationType() NotificationType   { return NotifyCollateralUpdated }
func (BalanceUpdated) NotificationType() NotificationType      { return NotifyBalanceUpdated }
func (r RatioUpdated) NotificationType() NotificationType      { return r.Kind }
func (AccountLiquidated) NotificationType() NotificationType   { return NotifyAccountLiquidated }
func (SettlementCompleted) NotificationType() NotificationType { return NotifySettlementCompleted }
func (WalletFundedNotice) NotificationType() NotificationType  { return NotifyWalletFunded }
