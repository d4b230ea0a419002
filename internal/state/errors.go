package state

import "errors"

var (
	ErrBadAssetID      = errors.New("asset not in configured universe")
	ErrPriceNotSet     = errors.New("price not set")
	ErrNotEnoughIM     = errors.New("not enough initial margin")
	ErrBadIMParameters = errors.New("liquidation ratio must stay below initial margin ratio")
)
