package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Seal/unseal pipeline behaviour
	Pipeline PipelineConfig `mapstructure:"pipeline" json:"pipeline"`

	// Where finished artifacts go
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// Job history
	Journal JournalConfig `mapstructure:"journal" json:"journal"`

	// Daemon mode
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`
}

// PipelineConfig for the transform pipeline.
type PipelineConfig struct {
	ChunkSize     int    `mapstructure:"chunk_size" json:"chunk_size"`         // Reader and obfuscation stride
	TempDir       string `mapstructure:"temp_dir" json:"temp_dir"`             // Obfuscation spill directory
	Workers       int    `mapstructure:"workers" json:"workers"`               // CPU-bound stage pool size
	MaxConcurrent int    `mapstructure:"max_concurrent" json:"max_concurrent"` // Jobs in flight per batch
	KDF           string `mapstructure:"kdf" json:"kdf"`                       // sha256 (compatible) or scrypt
}

// StorageConfig for artifact persistence.
type StorageConfig struct {
	OutputDir string   `mapstructure:"output_dir" json:"output_dir"`
	Conflict  string   `mapstructure:"conflict" json:"conflict"` // overwrite, rename, error
	S3        S3Config `mapstructure:"s3" json:"s3"`
}

// S3Config for remote persistence. Empty bucket disables it.
type S3Config struct {
	Bucket  string        `mapstructure:"bucket" json:"bucket"`
	Prefix  string        `mapstructure:"prefix" json:"prefix"`
	Region  string        `mapstructure:"region" json:"region"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// JournalConfig for the job history database.
type JournalConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	Backend string        `mapstructure:"backend" json:"backend"` // sqlite or dynamodb
	Path    string        `mapstructure:"path" json:"path"`       // SQLite file
	Table   string        `mapstructure:"table" json:"table"`     // DynamoDB table
	Region  string        `mapstructure:"region" json:"region"`
	TTL     time.Duration `mapstructure:"ttl" json:"ttl"` // DynamoDB item expiry, 0 keeps forever
}

// Supported journal backends.
const (
	JournalSQLite   = "sqlite"
	JournalDynamoDB = "dynamodb"
)

// ServerConfig for `obseal serve`.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" json:"addr"`
	MaxConns     int           `mapstructure:"max_conns" json:"max_conns"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" json:"max_body_bytes"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // Log file path (empty = stderr)
	Color  bool   `mapstructure:"color" json:"color"`   // Enable colored output
}

// Supported key derivation modes.
const (
	KDFSHA256 = "sha256"
	KDFScrypt = "scrypt"
)

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".obseal"

	return &Config{
		Pipeline: PipelineConfig{
			ChunkSize:     256 * 1024,
			TempDir:       os.TempDir(),
			Workers:       4,
			MaxConcurrent: 2,
			KDF:           KDFSHA256,
		},
		Storage: StorageConfig{
			OutputDir: ".",
			Conflict:  "rename",
			S3: S3Config{
				Timeout: 30 * time.Second,
			},
		},
		Journal: JournalConfig{
			Enabled: true,
			Backend: JournalSQLite,
			Path:    filepath.Join(dataDir, "journal.db"),
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:7788",
			MaxConns:     32,
			MaxBodyBytes: 64 * 1024,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Pipeline.ChunkSize <= 0 {
		return errors.New("pipeline.chunk_size must be positive")
	}

	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be positive")
	}

	if c.Pipeline.MaxConcurrent <= 0 {
		return errors.New("pipeline.max_concurrent must be positive")
	}

	if c.Pipeline.KDF != KDFSHA256 && c.Pipeline.KDF != KDFScrypt {
		return fmt.Errorf("invalid pipeline.kdf: %s", c.Pipeline.KDF)
	}

	validConflicts := map[string]bool{"overwrite": true, "rename": true, "error": true}
	if !validConflicts[c.Storage.Conflict] {
		return fmt.Errorf("invalid storage.conflict: %s", c.Storage.Conflict)
	}

	if c.Journal.Enabled {
		switch c.Journal.Backend {
		case JournalSQLite:
			if c.Journal.Path == "" {
				return errors.New("journal.path is required for the sqlite journal")
			}
		case JournalDynamoDB:
			if c.Journal.Table == "" {
				return errors.New("journal.table is required for the dynamodb journal")
			}
		default:
			return fmt.Errorf("invalid journal.backend: %s", c.Journal.Backend)
		}
	}

	if c.Server.MaxConns <= 0 {
		return errors.New("server.max_conns must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Pipeline.TempDir,
		c.Storage.OutputDir,
	}

	if c.Journal.Enabled && c.Journal.Backend == JournalSQLite {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
