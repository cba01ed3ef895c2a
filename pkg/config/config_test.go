package config

import (
	"testing"
	"time"

	"defi-aggregator/quote-router/internal/adapters"
	"defi-aggregator/quote-router/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("APP_ENV", "test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ROUTING_API_URL", "http://routing.local")
	t.Setenv("RFQ_API_URL", "")
	t.Setenv("BACKEND_TIMEOUT", "")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, types.DefaultEngineConfig(), cfg.Engine)
	assert.Equal(t, "/health", cfg.Monitoring.HealthCheckPath)
	assert.Equal(t, "quote_router:", cfg.Cache.PrefixKey)

	require.Len(t, cfg.Backends, 2)
	routing := cfg.Backends[0]
	assert.Equal(t, BackendRoutingAPI, routing.Name)
	assert.True(t, routing.IsActive)
	assert.Equal(t, adapters.DefaultTimeout, routing.Timeout)
	assert.Equal(t, []types.RoutingType{types.RoutingClassic}, routing.RoutingTypes)
	assert.False(t, cfg.Backends[1].IsActive)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RFQ_API_URL", "http://rfq.local")
	t.Setenv("BACKEND_TIMEOUT", "2s")
	t.Setenv("GAS_THRESHOLD_BPS", "500")
	t.Setenv("DEFAULT_SLIPPAGE_PERCENT", "0.75")
	t.Setenv("RPC_URL_1", "http://eth.local")
	t.Setenv("RPC_URL_137", "http://polygon.local")
	t.Setenv("RPC_URL_MAINNET", "http://ignored.local")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(500), cfg.Engine.GasThresholdBps)
	assert.Equal(t, uint64(75), cfg.Engine.DefaultSlippageBps)
	assert.True(t, cfg.Backends[1].IsActive)
	assert.Equal(t, 2*time.Second, cfg.Backends[1].Timeout)

	assert.Equal(t, "http://eth.local", cfg.Chains[1])
	assert.Equal(t, "http://polygon.local", cfg.Chains[137])
	ids := ChainIDs(cfg)
	assert.Contains(t, ids, uint64(1))
	assert.Contains(t, ids, uint64(137))
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing port", map[string]string{"PORT": ""}},
		{"bad port", map[string]string{"PORT": "70000"}},
		{"no backend", map[string]string{"ROUTING_API_URL": ""}},
		{"gas threshold too high", map[string]string{"GAS_THRESHOLD_BPS": "20000"}},
		{"bad rate limit", map[string]string{"RATE_LIMIT_ENABLED": "true", "RATE_LIMIT_REQUESTS": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateBackendsRejectsSharedRoutingType(t *testing.T) {
	err := validateBackends([]types.BackendConfig{
		{Name: "a", BaseURL: "http://a", IsActive: true, RoutingTypes: []types.RoutingType{types.RoutingClassic}},
		{Name: "b", BaseURL: "http://b", IsActive: true, RoutingTypes: []types.RoutingType{types.RoutingClassic}},
	})
	assert.Error(t, err)
}

func TestToBackendConfig(t *testing.T) {
	row := DatabaseBackend{
		Name:         "rfq",
		DisplayName:  "RFQ",
		RoutingTypes: "DUTCH_V1, dutch_v2",
		APIURL:       "http://rfq.local",
		APIKey:       "db-key",
		IsActive:     true,
		TimeoutMS:    900,
	}

	backend, err := toBackendConfig(row, EnvironmentConfig{})
	require.NoError(t, err)
	assert.Equal(t, []types.RoutingType{types.RoutingDutchV1, types.RoutingDutchV2}, backend.RoutingTypes)
	assert.Equal(t, "db-key", backend.APIKey)
	assert.Equal(t, 900*time.Millisecond, backend.Timeout)

	backend, err = toBackendConfig(row, EnvironmentConfig{APIKey: "env-key", TimeoutMS: 300})
	require.NoError(t, err)
	assert.Equal(t, "env-key", backend.APIKey)
	assert.Equal(t, 300*time.Millisecond, backend.Timeout)

	row.RoutingTypes = "SPOT"
	_, err = toBackendConfig(row, EnvironmentConfig{})
	assert.Error(t, err)

	row.RoutingTypes = ""
	_, err = toBackendConfig(row, EnvironmentConfig{})
	assert.Error(t, err)
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "ROUTING_API", envPrefix("routing-api"))
	assert.Equal(t, "RFQ", envPrefix("rfq"))

	t.Setenv("ROUTING_API_API_KEY", "k")
	t.Setenv("ROUTING_API_TIMEOUT_MS", "250")
	env := loadEnvironmentConfig("routing-api")
	assert.Equal(t, "k", env.APIKey)
	assert.Equal(t, 250, env.TimeoutMS)
}
