package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/obseal/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, 256*1024, cfg.Pipeline.ChunkSize)
	assert.Equal(t, config.KDFSHA256, cfg.Pipeline.KDF)
	assert.Positive(t, cfg.Pipeline.Workers)
	assert.NotEmpty(t, cfg.Pipeline.TempDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name: "zero chunk size",
			modify: func(c *config.Config) {
				c.Pipeline.ChunkSize = 0
			},
			wantErr: "pipeline.chunk_size must be positive",
		},
		{
			name: "unknown kdf",
			modify: func(c *config.Config) {
				c.Pipeline.KDF = "md5"
			},
			wantErr: "invalid pipeline.kdf",
		},
		{
			name: "unknown conflict strategy",
			modify: func(c *config.Config) {
				c.Storage.Conflict = "merge"
			},
			wantErr: "invalid storage.conflict",
		},
		{
			name: "journal without path",
			modify: func(c *config.Config) {
				c.Journal.Path = ""
			},
			wantErr: "journal.path is required",
		},
		{
			name: "dynamodb journal without table",
			modify: func(c *config.Config) {
				c.Journal.Backend = config.JournalDynamoDB
			},
			wantErr: "journal.table is required",
		},
		{
			name: "dynamodb journal",
			modify: func(c *config.Config) {
				c.Journal.Backend = config.JournalDynamoDB
				c.Journal.Table = "obseal-jobs"
				c.Journal.Path = ""
			},
		},
		{
			name: "unknown journal backend",
			modify: func(c *config.Config) {
				c.Journal.Backend = "postgres"
			},
			wantErr: "invalid journal.backend",
		},
		{
			name: "invalid log level",
			modify: func(c *config.Config) {
				c.Log.Level = "invalid"
			},
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OBSEAL_PIPELINE_CHUNK_SIZE", "4096")
	t.Setenv("OBSEAL_PIPELINE_KDF", "SCRYPT")
	t.Setenv("OBSEAL_LOG_LEVEL", "DEBUG")
	t.Setenv("OBSEAL_STORAGE_S3_BUCKET", "artifacts")

	loader := config.NewLoader("")
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.Pipeline.ChunkSize)
	assert.Equal(t, config.KDFScrypt, cfg.Pipeline.KDF)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "artifacts", cfg.Storage.S3.Bucket)
}

func TestLoaderFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "obseal.yaml")

	configYAML := `
pipeline:
  chunk_size: 1024
  workers: 8
log:
  level: warn
  format: json
storage:
  conflict: error
`
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))

	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "error", cfg.Storage.Conflict)
	assert.Equal(t, configPath, loader.ConfigFile())

	// Untouched keys keep their defaults
	assert.Equal(t, config.KDFSHA256, cfg.Pipeline.KDF)
}

func TestLoaderMissingExplicitFile(t *testing.T) {
	loader := config.NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "obseal.yaml")
	require.NoError(t, config.SaveExample(path))

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Pipeline.ChunkSize, cfg.Pipeline.ChunkSize)
}

func TestConfigEnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Pipeline.TempDir = filepath.Join(tmpDir, "spill")
	cfg.Storage.OutputDir = filepath.Join(tmpDir, "out")
	cfg.Journal.Path = filepath.Join(tmpDir, "state", "journal.db")
	cfg.Log.File = filepath.Join(tmpDir, "logs", "app.log")

	require.NoError(t, cfg.EnsureDirectories())

	assert.DirExists(t, cfg.Pipeline.TempDir)
	assert.DirExists(t, cfg.Storage.OutputDir)
	assert.DirExists(t, filepath.Dir(cfg.Journal.Path))
	assert.DirExists(t, filepath.Dir(cfg.Log.File))
}
