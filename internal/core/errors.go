package core

import (
	"PerpPool/internal/auth"
	"PerpPool/internal/ledger"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/state"
	"errors"
)

// Error kinds surfaced by the engine. Callers test with errors.Is.
var (
	ErrBadAssetID          = state.ErrBadAssetID
	ErrPriceNotSet         = state.ErrPriceNotSet
	ErrNotEnoughIM         = state.ErrNotEnoughIM
	ErrBadIMParameters     = state.ErrBadIMParameters
	ErrOverflow            = fpmath.ErrOverflow
	ErrAmountConvertFailed = fpmath.ErrAmountConvertFailed
	ErrNotEnoughBalance    = ledger.ErrInsufficientBalance
	ErrUnauthorized        = auth.ErrUnauthorized

	ErrDuplicate      = errors.New("duplicate command")
	ErrInvalidCommand = errors.New("invalid command")
	ErrStopped        = errors.New("runner stopped")
)

// RejectReason returns a short metric label for err.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrBadAssetID):
		return "bad_asset_id"
	case errors.Is(err, ErrPriceNotSet):
		return "price_not_set"
	case errors.Is(err, ErrNotEnoughIM):
		return "not_enough_im"
	case errors.Is(err, ErrBadIMParameters):
		return "bad_im_parameters"
	case errors.Is(err, ErrOverflow):
		return "overflow"
	case errors.Is(err, ErrAmountConvertFailed):
		return "amount_convert_failed"
	case errors.Is(err, ErrNotEnoughBalance):
		return "not_enough_balance"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid"
	default:
		return "other"
	}
}
