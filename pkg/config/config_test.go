package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
environment: test
persistence:
  backend: memory
kafka:
  enabled: false
feed:
  websocket_url: ws://localhost:9999/stream
`

func TestParseAppliesEngineDefaults(t *testing.T) {
	c, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	e := c.Engine
	assert.Equal(t, "BTCUSDT", e.Symbol)
	assert.Equal(t, time.Minute, e.CandleInterval)
	assert.Equal(t, 25.0, e.ADXThreshold)
	assert.Equal(t, 0.001, e.SpreadMaxPct)
	assert.Equal(t, 2*time.Second, e.SpreadMaxAge)
	assert.Equal(t, 4, e.CooldownCandles)
	assert.Equal(t, 1000, e.WarmupCandles)
	assert.Equal(t, 0.5, e.FOMOVelocityPctPerMin)
	assert.Equal(t, 1.5, e.MinRewardRisk)
	assert.Equal(t, 3.0, e.SwingFailureVolumeMultiplier)
	assert.Equal(t, "paper", c.Exchange.Type)
	assert.Equal(t, time.UTC, e.Location())
}

func TestParseOverridesAndValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "warmup below minimum",
			yaml:    minimalYAML + "engine:\n  warmup_candles: 10\n",
			wantErr: "WarmupCandles",
		},
		{
			name:    "live exchange without url",
			yaml:    minimalYAML + "exchange:\n  type: live\n",
			wantErr: "exchange.base_url",
		},
		{
			name:    "postgres without dsn",
			yaml:    "environment: test\nkafka:\n  enabled: false\nfeed:\n  websocket_url: ws://x\n",
			wantErr: "postgres.dsn",
		},
		{
			name:    "unknown candle source",
			yaml:    minimalYAML + "  candle_source: carrier-pigeon\n",
			wantErr: "CandleSource",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"engine:\n  adx_threshold: 30\n"), 0o600))

	t.Setenv("ENGINE_SYMBOL", "ETHUSDT")
	t.Setenv("REDIS_ADDR", "cache:6380")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", c.Engine.Symbol)
	assert.Equal(t, 30.0, c.Engine.ADXThreshold)
	assert.Equal(t, "cache", c.Redis.Host)
	assert.Equal(t, 6380, c.Redis.Port)
}

func TestDefaultEngine(t *testing.T) {
	e := DefaultEngine()
	assert.Equal(t, 14, e.ADXPeriod)
	assert.Equal(t, 20, e.BandPeriod)
	assert.Equal(t, 3, e.SignalExpiryCandles)
}
