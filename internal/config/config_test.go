package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("VAT_RATE", "")
	t.Setenv("SHIPPING_RATES", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("NOTIFIER_WORKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.True(t, cfg.Pricing.VATRate.Equal(decimal.RequireFromString("0.11")))
	assert.Equal(t, int64(10000), cfg.Pricing.ShippingRates["regular"])
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 8, cfg.NotifierWorkers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("VAT_RATE", "0.12")
	t.Setenv("SHIPPING_RATES", "regular:9000, cargo:50000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("NOTIFIER_WORKERS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.True(t, cfg.Pricing.VATRate.Equal(decimal.RequireFromString("0.12")))
	assert.Equal(t, map[string]int64{"regular": 9000, "cargo": 50000}, cfg.Pricing.ShippingRates)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.NotifierWorkers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"driver":   {"STORE_DRIVER", "sqlite"},
		"vat":      {"VAT_RATE", "1.5"},
		"shipping": {"SHIPPING_RATES", "regular"},
		"workers":  {"NOTIFIER_WORKERS", "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
