package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":         "postgres://localhost/promo",
		"REDIS_URL":            "redis://localhost:6379/0",
		"JWT_SECRET":           "secret",
		"SESSION_STORE":        "",
		"SHIPPING_FLAT":        "",
		"FREE_SHIPPING_FROM":   "",
		"PRICING_TAX_RATE_BPS": "",
		"SESSION_TTL":          "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, SessionStoreRedis, cfg.SessionStore)
	require.Equal(t, 2*time.Hour, cfg.SessionTTL)
	require.True(t, cfg.ShippingFlat.IsZero())
	require.Nil(t, cfg.FreeShippingFrom)
	require.Zero(t, cfg.TaxRateBps)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadPricingPolicy(t *testing.T) {
	env := baseEnv()
	env["SHIPPING_FLAT"] = "25"
	env["FREE_SHIPPING_FROM"] = "500.50"
	env["PRICING_TAX_RATE_BPS"] = "1100"
	env["SESSION_STORE"] = "Memory"
	env["SESSION_TTL"] = "45m"

	cfg, err := LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "25", cfg.ShippingFlat.String())
	require.NotNil(t, cfg.FreeShippingFrom)
	require.Equal(t, "500.5", cfg.FreeShippingFrom.String())
	require.Equal(t, 1100, cfg.TaxRateBps)
	require.Equal(t, SessionStoreMemory, cfg.SessionStore)
	require.Equal(t, 45*time.Minute, cfg.SessionTTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing database":  {"DATABASE_URL": ""},
		"negative shipping": {"SHIPPING_FLAT": "-1"},
		"bad threshold":     {"FREE_SHIPPING_FROM": "lots"},
		"tax out of range":  {"PRICING_TAX_RATE_BPS": "20000"},
		"unknown store":     {"SESSION_STORE": "etcd"},
	}
	for name, override := range cases {
		t.Run(name, func(t *testing.T) {
			env := baseEnv()
			for k, v := range override {
				env[k] = v
			}
			_, err := LoadForTests(env)
			require.Error(t, err)
		})
	}
}
