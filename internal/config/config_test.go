package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
source:
  url: mem:albums
target:
  url: https://couch.example.com/albums
  token: abc
replication:
  bulk: false
  batch_size: 50
  timeout: 5s
server:
  addr: 0.0.0.0:5984
  data: /var/lib/docsync/data.db
  jwt_secret: hush
  cors_origins: ["https://app.example.com"]
history: /var/lib/docsync/history.db
`))
	require.NoError(t, err)

	assert.Equal(t, "mem:albums", cfg.Source.URL)
	assert.Equal(t, "abc", cfg.Target.Token)
	assert.False(t, cfg.Replication.Bulk)
	assert.Equal(t, 50, cfg.Replication.BatchSize)
	assert.Equal(t, 8, cfg.Replication.Concurrency, "unset keys keep their defaults")
	assert.Equal(t, 5*time.Second, cfg.Replication.Timeout)
	assert.Equal(t, "hush", cfg.Server.JWTSecret)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/var/lib/docsync/history.db", cfg.History)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown key", input: "replication:\n  bulk_size: 3\n"},
		{name: "zero batch", input: "replication:\n  batch_size: 0\n"},
		{name: "zero concurrency", input: "replication:\n  concurrency: 0\n"},
		{name: "negative timeout", input: "replication:\n  timeout: -1s\n"},
		{name: "bad duration", input: "replication:\n  timeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(dir, "docsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history: h.db\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "h.db", cfg.History)
}
