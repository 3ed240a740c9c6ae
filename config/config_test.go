package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, ":8888", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 256, cfg.Server.MaxLineLength)
	assert.Equal(t, 0, cfg.Server.MaxConnections)
	assert.Equal(t, 100, cfg.Registry.MaxUsers)
	assert.Equal(t, 1000, cfg.Registry.MaxFiles)
	assert.False(t, cfg.Audit.Enabled)
	assert.True(t, cfg.Audit.Async)
	assert.Equal(t, 256, cfg.Audit.QueueSize)
	assert.Equal(t, "file", cfg.AuditServer.Sink)
	assert.Equal(t, "logs.txt", cfg.AuditServer.Path)
	assert.Equal(t, ":8000", cfg.HTTP.Address)

	assert.Equal(t, cfg, Default())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
server:
  read_timeout: 5s
  max_connections: 64
registry:
  max_users: 0
audit:
  enabled: true
  address: 10.0.0.2:4500
  async: false
audit_server:
  sink: badger
  path: /var/lib/p2pdir/audit
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 64, cfg.Server.MaxConnections)
	assert.Equal(t, 0, cfg.Registry.MaxUsers)
	assert.Equal(t, 1000, cfg.Registry.MaxFiles)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "10.0.0.2:4500", cfg.Audit.Address)
	assert.False(t, cfg.Audit.Async)
	assert.Equal(t, "badger", cfg.AuditServer.Sink)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  max_connections: 8\n")
	t.Setenv("P2PDIR_SERVER_MAX_CONNECTIONS", "16")
	t.Setenv("P2PDIR_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Server.MaxConnections)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"negative capacity", "registry:\n  max_users: -1\n"},
		{"tiny line length", "server:\n  max_line_length: 1\n"},
		{"unknown sink", "audit_server:\n  sink: s3\n"},
		{"audit without address", "audit:\n  enabled: true\n  address: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
