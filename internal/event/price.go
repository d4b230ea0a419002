package event

import (
	fpmath "PerpPool/internal/math"
	"fmt"
)

// PriceUpdate is an oracle observation. It feeds the price feed, not the
// command log: commands record the prices they were applied with.
type PriceUpdate struct {
	Asset     string       `json:"asset"`
	Price     fpmath.Price `json:"price"`
	Sequence  int64        `json:"sequence"`  // Monotonic per asset
	Timestamp int64        `json:"timestamp"` // Epoch microseconds
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Asset, p.Sequence)
}
