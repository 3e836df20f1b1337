package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.Temporal.Address)
	assert.Equal(t, "subpack-agents", cfg.Temporal.TaskQueue)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, ":8000", cfg.Gateway.Addr)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
temporal:
  address: temporal.internal:7233
  namespace: subpack-prod
model:
  provider: anthropic
  model: claude-sonnet-4-20250514
data:
  packs_dir: /srv/packs
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "temporal.internal:7233", cfg.Temporal.Address)
	assert.Equal(t, "subpack-prod", cfg.Temporal.Namespace)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "/srv/packs", cfg.Data.PacksDir)
	// Unset fields keep their defaults.
	assert.Equal(t, "subpack-agents", cfg.Temporal.TaskQueue)
	assert.Equal(t, 10, cfg.Temporal.MaxConcurrentActivities)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("temporal:\n  address: from-file:7233\n"), 0o644))
	t.Setenv("TEMPORAL_ADDRESS", "from-env:7233")
	t.Setenv("MAX_CONCURRENT_ACTIVITIES", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env:7233", cfg.Temporal.Address)
	assert.Equal(t, 25, cfg.Temporal.MaxConcurrentActivities)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:7233", cfg.Temporal.Address)
}

func TestValidate(t *testing.T) {
	t.Run("collects all errors", func(t *testing.T) {
		cfg := Default()
		cfg.Temporal.Address = ""
		cfg.Model.Provider = "bedrock"
		cfg.Mongo.URI = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "temporal address is required")
		assert.Contains(t, err.Error(), `unknown model provider "bedrock"`)
		assert.Contains(t, err.Error(), "mongo URI is required")
	})

	t.Run("tls cert and key must pair", func(t *testing.T) {
		cfg := Default()
		cfg.Temporal.TLSCert = "/etc/certs/client.pem"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cert and key must be set together")
	})

	t.Run("default config is valid", func(t *testing.T) {
		cfg := Default()
		assert.NoError(t, cfg.Validate())
	})
}
