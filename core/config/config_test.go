package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/config"
)

type sampleConfig struct {
	Name    string        `env:"GUARD_TEST_NAME" envDefault:"guard"`
	Timeout time.Duration `env:"GUARD_TEST_TIMEOUT" envDefault:"30s"`
}

type requiredConfig struct {
	Secret string `env:"GUARD_TEST_REQUIRED_SECRET,required"`
}

// Tests mutate process environment and the package cache, so they do not run in parallel.

func TestLoad(t *testing.T) {
	config.Reset()
	t.Setenv("GUARD_TEST_NAME", "custom")

	var cfg sampleConfig
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, "custom", cfg.Name)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestLoad_Cached(t *testing.T) {
	config.Reset()
	t.Setenv("GUARD_TEST_NAME", "first")

	var first sampleConfig
	require.NoError(t, config.Load(&first))

	t.Setenv("GUARD_TEST_NAME", "second")

	var second sampleConfig
	require.NoError(t, config.Load(&second))
	assert.Equal(t, "first", second.Name)

	config.Reset()
	var third sampleConfig
	require.NoError(t, config.Load(&third))
	assert.Equal(t, "second", third.Name)
}

func TestLoad_Required(t *testing.T) {
	config.Reset()

	var cfg requiredConfig
	err := config.Load(&cfg)
	assert.ErrorIs(t, err, config.ErrParsingConfig)

	assert.Panics(t, func() {
		var c requiredConfig
		config.MustLoad(&c)
	})
}
