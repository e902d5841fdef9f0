package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/config"
)

type testConfig struct {
	Name     string        `env:"CONFIG_TEST_NAME" envDefault:"billingd"`
	Interval time.Duration `env:"CONFIG_TEST_INTERVAL" envDefault:"1h"`
	Required string        `env:"CONFIG_TEST_REQUIRED,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults and values", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_REQUIRED", "set")
		t.Setenv("CONFIG_TEST_INTERVAL", "15m")

		var cfg testConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "billingd", cfg.Name)
		assert.Equal(t, 15*time.Minute, cfg.Interval)
		assert.Equal(t, "set", cfg.Required)
	})

	t.Run("missing required variable", func(t *testing.T) {
		var cfg testConfig
		err := config.Load(&cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		err := config.Load[testConfig](nil)
		assert.ErrorIs(t, err, config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	assert.Panics(t, func() {
		var cfg testConfig
		config.MustLoad(&cfg)
	})
}
