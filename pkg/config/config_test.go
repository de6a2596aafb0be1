package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/pg-search-replicator/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"film_work", "person", "genre"}, cfg.Pipeline.Tables)
	assert.Equal(t, "film_work", cfg.Pipeline.PrimaryTable)
	assert.Equal(t, "etl_data", cfg.Pipeline.StateKey)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff.Start)
	assert.Equal(t, 2.0, cfg.Backoff.Factor)
	assert.Equal(t, 10*time.Second, cfg.Backoff.Cap)
	assert.Zero(t, cfg.Backoff.MaxAttempts)
	assert.Equal(t, "movies", cfg.Elasticsearch.Index)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replicator.yaml")
	data := []byte(`
pipeline:
  tables: [film_work, person]
  batchSize: 50
  idleSleep: 2s
elasticsearch:
  index: movies_v2
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("SP_PIPELINE_BATCH_SIZE", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"film_work", "person"}, cfg.Pipeline.Tables)
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.IdleSleep)
	assert.Equal(t, "movies_v2", cfg.Elasticsearch.Index)
	// untouched sections keep their defaults
	assert.Equal(t, "content", cfg.Pipeline.Schema)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*Config){
		"no tables":      func(c *Config) { c.Pipeline.Tables = nil },
		"bad table":      func(c *Config) { c.Pipeline.Tables = []string{"person; drop table x"} },
		"zero batch":     func(c *Config) { c.Pipeline.BatchSize = 0 },
		"empty key":      func(c *Config) { c.Pipeline.StateKey = "" },
		"no index":       func(c *Config) { c.Elasticsearch.Index = "" },
		"cap below base": func(c *Config) { c.Backoff.Cap = time.Millisecond },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}
