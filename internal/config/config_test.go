package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 36867, cfg.Port)
	assert.Equal(t, 24, cfg.GearCount)
	assert.Equal(t, 1, cfg.MaxClients)
	assert.Equal(t, 5*time.Second, cfg.KeepAlive)
	assert.Equal(t, 100*time.Millisecond, cfg.Debounce)
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--port", "9999", "--max-clients", "4", "--serial", "TEST123"})
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 4, cfg.MaxClients)
	assert.Equal(t, "TEST123", cfg.Serial)
}
