// internal/math/fixedpoint.go
package math

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int32 // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	PriceConfig       = DecimalConfig{DecimalPrecision: 18, Scale: 1_000_000_000_000_000_000}
	PermillConfig     = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	PerquintillConfig = DecimalConfig{DecimalPrecision: 18, Scale: 1_000_000_000_000_000_000}
)

var (
	priceScale       = uint256.NewInt(uint64(PriceConfig.Scale))
	permillScale     = uint256.NewInt(uint64(PermillConfig.Scale))
	perquintillScale = uint256.NewInt(uint64(PerquintillConfig.Scale))

	// ratio × price products carry both scales
	permillPriceScale = new(uint256.Int).Mul(permillScale, priceScale)
)

// maxPriceBits bounds raw prices so that ratio × price × quantity always
// fits in 256 bits.
const maxPriceBits = 128

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
)

// divRound divides num by den and narrows to uint64.
func divRound(num, den *uint256.Int, mode RoundingMode) (uint64, error) {
	var q, rem uint256.Int
	q.DivMod(num, den, &rem)
	if mode == RoundUp && !rem.IsZero() {
		q.AddUint64(&q, 1)
	}
	if !q.IsUint64() {
		return 0, ErrOverflow
	}
	return q.Uint64(), nil
}

// Price is an unsigned fixed-point value with 18 decimal places.
type Price struct {
	raw uint256.Int
}

// PriceFromInt returns a whole-unit price.
func PriceFromInt(v uint64) Price {
	var p Price
	p.raw.Mul(uint256.NewInt(v), priceScale)
	return p
}

// PriceFromRaw wraps an already-scaled value.
func PriceFromRaw(raw *uint256.Int) (Price, error) {
	if raw.BitLen() > maxPriceBits {
		return Price{}, ErrOverflow
	}
	var p Price
	p.raw.Set(raw)
	return p, nil
}

// PriceFromDecimal converts a decimal to a price, truncating digits past
// the 18th decimal place.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	if d.IsNegative() {
		return Price{}, fmt.Errorf("negative price %s", d.String())
	}
	scaled := d.Shift(PriceConfig.DecimalPrecision).Truncate(0)
	raw, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return Price{}, ErrOverflow
	}
	return PriceFromRaw(raw)
}

// ParsePrice parses a decimal string such as "20.5".
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return PriceFromDecimal(d)
}

func (p Price) Raw() *uint256.Int {
	return new(uint256.Int).Set(&p.raw)
}

func (p Price) IsZero() bool {
	return p.raw.IsZero()
}

func (p Price) Cmp(o Price) int {
	return p.raw.Cmp(&o.raw)
}

// AbsDiff returns |p - from| and +1 when p moved up from `from`, -1 otherwise.
func (p Price) AbsDiff(from Price) (Price, int64) {
	var d Price
	if p.raw.Lt(&from.raw) {
		d.raw.Sub(&from.raw, &p.raw)
		return d, -1
	}
	d.raw.Sub(&p.raw, &from.raw)
	return d, 1
}

// SaturatingMulInt returns floor(p × qty), saturating at MaxUint64.
func (p Price) SaturatingMulInt(qty uint64) uint64 {
	var num uint256.Int
	num.Mul(&p.raw, uint256.NewInt(qty))
	v, err := divRound(&num, priceScale, RoundDown)
	if err != nil {
		return ^uint64(0)
	}
	return v
}

func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(p.raw.ToBig(), -PriceConfig.DecimalPrecision)
}

func (p Price) String() string {
	return p.Decimal().String()
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("price must be a decimal string: %w", err)
	}
	parsed, err := ParsePrice(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Permill is a ratio in parts per million, in [0, 1].
type Permill uint32

const PermillOne Permill = 1_000_000

func PermillFromPercent(pct uint32) Permill {
	return PermillFromParts(pct * 10_000)
}

// PermillFromParts clamps to one.
func PermillFromParts(parts uint32) Permill {
	if parts > uint32(PermillOne) {
		return PermillOne
	}
	return Permill(parts)
}

// ParsePermill parses a fraction such as "0.2". Values outside [0, 1] and
// values finer than one part per million are rejected.
func ParsePermill(s string) (Permill, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ratio %q: %w", s, err)
	}
	return PermillFromDecimal(d)
}

func PermillFromDecimal(d decimal.Decimal) (Permill, error) {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("ratio %s outside [0, 1]", d.String())
	}
	parts := d.Shift(PermillConfig.DecimalPrecision)
	if !parts.Equal(parts.Truncate(0)) {
		return 0, fmt.Errorf("ratio %s exceeds %d decimal places", d.String(), PermillConfig.DecimalPrecision)
	}
	return Permill(parts.IntPart()), nil
}

// MulCeil returns ceil(r × price × qty) in base units.
func (r Permill) MulCeil(price Price, qty uint64) (uint64, error) {
	var num uint256.Int
	num.Mul(&price.raw, uint256.NewInt(qty))
	num.Mul(&num, uint256.NewInt(uint64(r)))
	return divRound(&num, permillPriceScale, RoundUp)
}

func (r Permill) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -PermillConfig.DecimalPrecision)
}

func (r Permill) String() string {
	return r.Decimal().String()
}

// Perquintill is a ratio in parts per 10^18, in [0, 1].
type Perquintill uint64

const PerquintillOne Perquintill = 1_000_000_000_000_000_000

// PerquintillFromRational returns floor(p / q) as a ratio. p must not
// exceed q; a zero denominator yields zero.
func PerquintillFromRational(p, q uint64) Perquintill {
	if q == 0 {
		return 0
	}
	if p >= q {
		return PerquintillOne
	}
	var num uint256.Int
	num.Mul(uint256.NewInt(p), perquintillScale)
	v, _ := divRound(&num, uint256.NewInt(q), RoundDown)
	return Perquintill(v)
}

// MulFloor returns floor(r × v).
func (r Perquintill) MulFloor(v uint64) uint64 {
	var num uint256.Int
	num.Mul(uint256.NewInt(uint64(r)), uint256.NewInt(v))
	out, _ := divRound(&num, perquintillScale, RoundDown)
	return out
}
