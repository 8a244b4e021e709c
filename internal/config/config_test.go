package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/weiawesome/groupwatch/pkg/config"
	"github.com/weiawesome/groupwatch/pkg/pubsub"
)

func loadFrom(t *testing.T, dir string) *Config {
	t.Helper()
	v, err := pkgconfig.Load(dir, "config")
	require.NoError(t, err)
	cfg, err := load(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFrom(t, t.TempDir())

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, int64(65536), cfg.WebSocket.MaxMessageSize)
	assert.Equal(t, 2000, cfg.Room.MaxMessageLength)
	assert.Equal(t, pubsub.DriverNone, cfg.PubSub.Driver)
	assert.False(t, cfg.PubSub.Enabled())
	assert.False(t, cfg.Registry.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Registry.KeyTTL)
	assert.NotEmpty(t, cfg.Log.InstanceID)
	assert.Equal(t, "groupwatch-"+cfg.Log.InstanceID, cfg.PubSub.Kafka.GroupID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("WEBSOCKET_SEND_BUFFER", "32")
	t.Setenv("PUBSUB_DRIVER", "redis")
	t.Setenv("CLIENT_ORIGIN", "https://watch.example.com")

	cfg := loadFrom(t, t.TempDir())

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 32, cfg.WebSocket.SendBuffer)
	assert.True(t, cfg.PubSub.Enabled())
	assert.Equal(t, []string{"https://watch.example.com"}, cfg.WebSocket.AllowedOrigins)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  port: 9000
websocket:
  pong_wait: 5s
registry:
  enabled: true
  prefix: gw-test
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	cfg := loadFrom(t, dir)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.PongWait)
	assert.True(t, cfg.Registry.Enabled)
	assert.Equal(t, "gw-test", cfg.Registry.Prefix)
}
