package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewtube/billing/pkg/config"
)

type testConfig struct {
	Name     string        `env:"TEST_CFG_NAME" envDefault:"billing"`
	Interval time.Duration `env:"TEST_CFG_INTERVAL" envDefault:"15m"`
	Retries  int           `env:"TEST_CFG_RETRIES" envDefault:"3"`
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		var cfg testConfig
		require.NoError(t, config.Load(&cfg))

		assert.Equal(t, "billing", cfg.Name)
		assert.Equal(t, 15*time.Minute, cfg.Interval)
		assert.Equal(t, 3, cfg.Retries)
	})

	t.Run("reads the environment", func(t *testing.T) {
		t.Setenv("TEST_CFG_NAME", "override")
		t.Setenv("TEST_CFG_INTERVAL", "1h")

		var cfg testConfig
		require.NoError(t, config.Load(&cfg))

		assert.Equal(t, "override", cfg.Name)
		assert.Equal(t, time.Hour, cfg.Interval)
	})

	t.Run("invalid value fails", func(t *testing.T) {
		t.Setenv("TEST_CFG_RETRIES", "not-a-number")

		var cfg testConfig
		err := config.Load(&cfg)
		require.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer fails", func(t *testing.T) {
		err := config.Load[testConfig](nil)
		require.ErrorIs(t, err, config.ErrNilPointer)
	})
}
