package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("ANNOUNCED_IP", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, "127.0.0.1", cfg.Media.AnnouncedIP)
	assert.Equal(t, uint16(40000), cfg.Media.UDPPortMin)
	assert.Len(t, cfg.Media.STUNServers, 3)
	assert.Equal(t, time.Second, cfg.MainVideo.PollInterval)
	assert.Equal(t, 15, cfg.MainVideo.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Recording.StopTimeout)
	assert.False(t, cfg.Recording.S3.Enabled())
	assert.Equal(t, "kick", cfg.Signal.Backpressure)
}

func TestLoadFileAndAnnouncedIPEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.test.yaml")
	content := []byte(`
port: 9090
mode: debug
media:
  udp_port_min: 50000
  udp_port_max: 50010
main_video:
  poll_interval: 250ms
  max_attempts: 4
recording:
  dir: /tmp/rec
  s3:
    bucket: meetings
`)
	require.NoError(t, os.WriteFile(file, content, 0o600))
	t.Setenv("ANNOUNCED_IP", "203.0.113.7")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, "203.0.113.7", cfg.Media.AnnouncedIP)
	assert.Equal(t, uint16(50010), cfg.Media.UDPPortMax)
	assert.Equal(t, 250*time.Millisecond, cfg.MainVideo.PollInterval)
	assert.Equal(t, 4, cfg.MainVideo.MaxAttempts)
	assert.Equal(t, "/tmp/rec", cfg.Recording.Dir)
	assert.True(t, cfg.Recording.S3.Enabled())
	assert.Equal(t, "recordings/", cfg.Recording.S3.Prefix)
}

func TestLoadRejectsInvertedPortRange(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("media:\n  udp_port_min: 50\n  udp_port_max: 10\n"), 0o600))

	_, err := Load(file)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackpressure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("signal:\n  backpressure: slow\n"), 0o600))

	_, err := Load(file)
	assert.ErrorContains(t, err, "signal.backpressure")
}
