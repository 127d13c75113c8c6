package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, StorageFile, cfg.Storage.Kind)
	assert.Equal(t, 8000, cfg.HTTP.Port)
	assert.Equal(t, 2, cfg.Generator.MinPerRequest)
	assert.Equal(t, 5, cfg.Generator.MaxPerRequest)
	assert.InDelta(t, 0.3, cfg.Generator.InconsistencyRate, 1e-9)
	assert.InDelta(t, 0.1, cfg.Generator.DuplicateRate, 1e-9)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mockinvoice.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  kind: document-store
  mongodb_database: exercises
  timeout: 2s
generator:
  inconsistency_rate: 0.8
  max_batch_size: 40
auth:
  api_keys: [alpha, beta]
`), 0o600))

	t.Setenv("INCONSISTENCY_RATE", "0.25")
	t.Setenv("API_KEYS", "gamma, delta ,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageMongo, cfg.Storage.Kind)
	assert.Equal(t, "exercises", cfg.Storage.MongoDatabase)
	assert.Equal(t, 2*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, 40, cfg.Generator.MaxBatchSize)
	assert.InDelta(t, 0.25, cfg.Generator.InconsistencyRate, 1e-9)
	assert.Equal(t, []string{"gamma", "delta"}, cfg.Auth.APIKeys)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	t.Setenv("AUTH_ENABLED", "maybe")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.HTTP.Port)
	assert.True(t, cfg.Auth.Enabled)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("DUPLICATE_RATE", "1.5")
	t.Setenv("STORAGE_KIND", "cassandra")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate_rate")
	assert.Contains(t, err.Error(), "cassandra")
}

func TestLoadRejectsNaNRates(t *testing.T) {
	t.Setenv("INCONSISTENCY_RATE", "NaN")
	t.Setenv("DUPLICATE_RATE", "NaN")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inconsistency_rate")
	assert.Contains(t, err.Error(), "duplicate_rate")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNormalizeStorageKind(t *testing.T) {
	tests := map[string]string{
		"":               StorageFile,
		"json":           StorageFile,
		"FILE":           StorageFile,
		"mongo":          StorageMongo,
		"document-store": StorageMongo,
		"redis":          StorageRedis,
		"sqlite":         StorageSQLite,
		"other":          "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeStorageKind(in), in)
	}
}

func TestValidateBounds(t *testing.T) {
	cfg := Default()
	cfg.Generator.MinPerRequest = 6
	cfg.Generator.MaxPerRequest = 5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Generator.MaxBatchSize = 3
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
