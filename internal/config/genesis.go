package config

import (
	"PerpPool/internal/core"
	fpmath "PerpPool/internal/math"
	"PerpPool/internal/state"
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// GenesisFile is the on-disk bootstrap document. Ratios and amounts are
// decimal strings so YAML never rounds them through float64.
type GenesisFile struct {
	PoolID     string              `yaml:"pool_id"`
	Assets     []GenesisAssetEntry `yaml:"assets"`
	Endowments []EndowmentEntry    `yaml:"endowments"`
}

type GenesisAssetEntry struct {
	ID               string `yaml:"id"`
	InitialIMRatio   string `yaml:"initial_im_ratio"`
	LiquidationRatio string `yaml:"liquidation_ratio"`
	TransactionFee   string `yaml:"transaction_fee"`
}

type EndowmentEntry struct {
	Account string `yaml:"account"`
	Amount  string `yaml:"amount"`
}

// LoadGenesis reads and validates the genesis file at path.
func LoadGenesis(path string) (core.Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Genesis{}, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes a genesis document. Unknown keys are rejected.
func ParseGenesis(data []byte) (core.Genesis, error) {
	var f GenesisFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return core.Genesis{}, fmt.Errorf("decode genesis: %w", err)
	}
	return f.Genesis()
}

// Genesis converts the file into engine bootstrap values.
func (f GenesisFile) Genesis() (core.Genesis, error) {
	if f.PoolID == "" {
		return core.Genesis{}, errors.New("genesis: pool_id is required")
	}
	if len(f.Assets) == 0 {
		return core.Genesis{}, errors.New("genesis: at least one asset is required")
	}

	g := core.Genesis{PoolID: f.PoolID}
	seen := make(map[string]bool, len(f.Assets))
	for i, a := range f.Assets {
		if a.ID == "" {
			return core.Genesis{}, fmt.Errorf("genesis: assets[%d]: id is required", i)
		}
		if seen[a.ID] {
			return core.Genesis{}, fmt.Errorf("genesis: duplicate asset %s", a.ID)
		}
		seen[a.ID] = true

		var params state.AssetParams
		var err error
		if params.InitialIMRatio, err = parseRatio(a.ID, "initial_im_ratio", a.InitialIMRatio); err != nil {
			return core.Genesis{}, err
		}
		if params.LiquidationRatio, err = parseRatio(a.ID, "liquidation_ratio", a.LiquidationRatio); err != nil {
			return core.Genesis{}, err
		}
		if params.TransactionFee, err = parseRatio(a.ID, "transaction_fee", a.TransactionFee); err != nil {
			return core.Genesis{}, err
		}
		if err := state.ValidateAssetParams(params); err != nil {
			return core.Genesis{}, fmt.Errorf("genesis: asset %s: %w", a.ID, err)
		}
		g.Assets = append(g.Assets, core.GenesisAsset{ID: state.AssetID(a.ID), Params: params})
	}

	for i, e := range f.Endowments {
		account, err := uuid.Parse(e.Account)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis: endowments[%d]: account: %w", i, err)
		}
		amount, err := parseAmount(e.Amount)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis: endowments[%d]: %w", i, err)
		}
		g.Endowments = append(g.Endowments, core.Endowment{Account: account, Amount: amount})
	}
	return g, nil
}

func parseRatio(asset, field, s string) (fpmath.Permill, error) {
	if s == "" {
		return 0, fmt.Errorf("genesis: asset %s: %s is required", asset, field)
	}
	r, err := fpmath.ParsePermill(s)
	if err != nil {
		return 0, fmt.Errorf("genesis: asset %s: %s: %w", asset, field, err)
	}
	return r, nil
}

func parseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	if !d.IsInteger() || !d.IsPositive() {
		return 0, fmt.Errorf("amount %s must be a positive integer", s)
	}
	if d.GreaterThan(decimal.NewFromInt(int64(^uint64(0) >> 1))) {
		return 0, fmt.Errorf("amount %s: %w", s, fpmath.ErrOverflow)
	}
	return d.IntPart(), nil
}
