package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 54*time.Second, cfg.Server.PingPeriod)
	assert.Equal(t, 5*time.Second, cfg.Client.GracePeriod)
	assert.Equal(t, 100*time.Millisecond, cfg.Client.SpeakingInterval)
	assert.Equal(t, 256, cfg.Client.FFTSize)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.Client.ICEServers)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
mode: debug
server:
  port: 9000
  codec: msgpack
client:
  display_name: Alice
  grace_period: 2s
  ice_servers: []
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "msgpack", cfg.Server.Codec)
	assert.Equal(t, "Alice", cfg.Client.DisplayName)
	assert.Equal(t, 2*time.Second, cfg.Client.GracePeriod)
	assert.Equal(t, int64(32768), cfg.Server.ReadLimit)
}

func TestLoadFileEnvOverride(t *testing.T) {
	t.Setenv("VOICE_SERVER_PORT", "7777")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}
