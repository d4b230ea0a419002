package config

import (
	"PerpPool/internal/core"
	fpmath "PerpPool/internal/math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_FromEnvironment(t *testing.T) {
	t.Setenv("PERP_GRPC_ADDR", ":7000")
	t.Setenv("PERP_PERSIST_BATCH_SIZE", "12")
	t.Setenv("PERP_TICK_INTERVAL", "6s")
	t.Setenv("PERP_ORACLE_SOURCE", "redis")
	t.Setenv("PERP_ADMIN_ACCOUNTS", " 00000000-0000-0000-0000-00000000000a ,,00000000-0000-0000-0000-00000000000b")
	t.Setenv("PERP_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg := Default()
	assert.Equal(t, ":7000", cfg.GRPCAddr)
	assert.Equal(t, 12, cfg.PersistBatchSize)
	assert.Equal(t, 6*time.Second, cfg.TickInterval)
	assert.Equal(t, "redis", cfg.OracleSource)
	assert.Len(t, cfg.AdminAccounts, 2)
	require.NoError(t, cfg.Validate())

	admins, err := cfg.Admins()
	require.NoError(t, err)
	assert.Equal(t, "00000000-0000-0000-0000-00000000000b", admins[1].String())
}

func TestDefault_BadValuesFallBack(t *testing.T) {
	t.Setenv("PERP_PERSIST_BATCH_SIZE", "lots")
	t.Setenv("PERP_TICK_INTERVAL", "soon")

	cfg := Default()
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.Zero(t, cfg.TickInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown oracle", func(c *Config) { c.OracleSource = "carrier-pigeon" }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"negative tick", func(c *Config) { c.TickInterval = -time.Second }},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }},
		{"bad admin", func(c *Config) { c.AdminAccounts = []string{"root"} }},
		{"admins without secret", func(c *Config) {
			c.JWTSecret = ""
			c.AdminAccounts = []string{"00000000-0000-0000-0000-00000000000a"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

const genesisYAML = `
pool_id: test-pool
assets:
  - id: DOT
    initial_im_ratio: "0.2"
    liquidation_ratio: "0.1"
    transaction_fee: "0.001"
endowments:
  - account: 00000000-0000-0000-0000-00000000000a
    amount: "1000000"
`

func TestParseGenesis(t *testing.T) {
	g, err := ParseGenesis([]byte(genesisYAML))
	require.NoError(t, err)

	assert.Equal(t, "test-pool", g.PoolID)
	require.Len(t, g.Assets, 1)
	assert.EqualValues(t, "DOT", g.Assets[0].ID)
	assert.Equal(t, fpmath.PermillFromPercent(20), g.Assets[0].Params.InitialIMRatio)
	assert.Equal(t, fpmath.PermillFromPercent(10), g.Assets[0].Params.LiquidationRatio)
	assert.Equal(t, fpmath.PermillFromParts(1000), g.Assets[0].Params.TransactionFee)
	require.Len(t, g.Endowments, 1)
	assert.Equal(t, int64(1_000_000), g.Endowments[0].Amount)

	_, err = core.NewEngine(g, nil)
	require.NoError(t, err)
}

func TestParseGenesis_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing pool id", `assets: [{id: DOT, initial_im_ratio: "0.2", liquidation_ratio: "0.1", transaction_fee: "0"}]`},
		{"no assets", `pool_id: p`},
		{"ratio ordering", `
pool_id: p
assets: [{id: DOT, initial_im_ratio: "0.1", liquidation_ratio: "0.1", transaction_fee: "0"}]`},
		{"ratio above one", `
pool_id: p
assets: [{id: DOT, initial_im_ratio: "1.5", liquidation_ratio: "0.1", transaction_fee: "0"}]`},
		{"too precise", `
pool_id: p
assets: [{id: DOT, initial_im_ratio: "0.2000001", liquidation_ratio: "0.1", transaction_fee: "0"}]`},
		{"duplicate asset", `
pool_id: p
assets:
  - {id: DOT, initial_im_ratio: "0.2", liquidation_ratio: "0.1", transaction_fee: "0"}
  - {id: DOT, initial_im_ratio: "0.3", liquidation_ratio: "0.1", transaction_fee: "0"}`},
		{"fractional endowment", `
pool_id: p
assets: [{id: DOT, initial_im_ratio: "0.2", liquidation_ratio: "0.1", transaction_fee: "0"}]
endowments: [{account: 00000000-0000-0000-0000-00000000000a, amount: "1.5"}]`},
		{"endowment overflow", `
pool_id: p
assets: [{id: DOT, initial_im_ratio: "0.2", liquidation_ratio: "0.1", transaction_fee: "0"}]
endowments: [{account: 00000000-0000-0000-0000-00000000000a, amount: "9223372036854775808"}]`},
		{"unknown key", `
pool_id: p
funding_rate: "0.01"
assets: [{id: DOT, initial_im_ratio: "0.2", liquidation_ratio: "0.1", transaction_fee: "0"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGenesis([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadGenesis_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(genesisYAML), 0o600))

	g, err := LoadGenesis(path)
	require.NoError(t, err)
	assert.Equal(t, "test-pool", g.PoolID)

	_, err = LoadGenesis(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadGenesis_ShippedFile(t *testing.T) {
	g, err := LoadGenesis(filepath.Join("..", "..", "configs", "genesis.yaml"))
	require.NoError(t, err)
	assert.Len(t, g.Assets, 2)
}
