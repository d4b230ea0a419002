package math

import (
	"errors"
	stdmath "math"
)

var (
	ErrOverflow            = errors.New("arithmetic overflow")
	ErrAmountConvertFailed = errors.New("amount conversion failed")
)

// AbsAmount returns |a| as an unsigned balance. Total: |MinInt64| fits in uint64.
func AbsAmount(a int64) uint64 {
	if a < 0 {
		return uint64(-(a + 1)) + 1
	}
	return uint64(a)
}

// AmountFromBalance converts an unsigned balance to a signed amount.
func AmountFromBalance(b uint64) (int64, error) {
	if b > stdmath.MaxInt64 {
		return 0, ErrAmountConvertFailed
	}
	return int64(b), nil
}

// SignedAmount rebuilds a signed amount from a magnitude and a sign (+1/-1).
// Magnitudes above MaxInt64 fail rather than wrap.
func SignedAmount(sign int64, magnitude uint64) (int64, error) {
	v, err := AmountFromBalance(magnitude)
	if err != nil {
		return 0, err
	}
	if sign < 0 {
		return -v, nil
	}
	return v, nil
}

// CheckedAdd returns a + b or ErrOverflow.
func CheckedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > stdmath.MaxInt64-b) || (b < 0 && a < stdmath.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// CheckedSub returns a - b or ErrOverflow.
func CheckedSub(a, b int64) (int64, error) {
	if (b < 0 && a > stdmath.MaxInt64+b) || (b > 0 && a < stdmath.MinInt64+b) {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// CheckedAddBalance returns a + b or ErrOverflow.
func CheckedAddBalance(a, b uint64) (uint64, error) {
	if a > stdmath.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// ApplyDelta adds a signed delta to an unsigned balance, failing on
// overflow or when the result would be negative.
func ApplyDelta(balance uint64, delta int64) (uint64, error) {
	if delta >= 0 {
		return CheckedAddBalance(balance, uint64(delta))
	}
	d := AbsAmount(delta)
	if d > balance {
		return 0, ErrAmountConvertFailed
	}
	return balance - d, nil
}

// SaturatingApplyDelta adds a signed delta to an unsigned balance, saturating
// at MaxUint64 and clamping at zero.
func SaturatingApplyDelta(balance uint64, delta int64) uint64 {
	if delta >= 0 {
		if balance > stdmath.MaxUint64-uint64(delta) {
			return stdmath.MaxUint64
		}
		return balance + uint64(delta)
	}
	d := AbsAmount(delta)
	if d >= balance {
		return 0
	}
	return balance - d
}

// Sign returns -1, 0 or +1.
func Sign(a int64) int64 {
	switch {
	case a > 0:
		return 1
	case a < 0:
		return -1
	default:
		return 0
	}
}
