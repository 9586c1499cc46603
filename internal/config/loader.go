package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. OBSEAL_LOG_LEVEL.
const EnvPrefix = "OBSEAL"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader. An empty path searches the default locations.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// Load reads configuration from defaults, file and environment, in that order.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults(DefaultConfig())

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("obseal")
		for _, dir := range l.defaultDirs() {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.Pipeline.KDF = strings.ToLower(cfg.Pipeline.KDF)
	cfg.Journal.Backend = strings.ToLower(cfg.Journal.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// defaultDirs returns default config file locations.
func (l *Loader) defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "obseal"),
			filepath.Join(homeDir, ".obseal"),
		)
	}

	return dirs
}

// setDefaults registers every key so AutomaticEnv can override it.
func (l *Loader) setDefaults(cfg *Config) {
	for key, value := range flatten(cfg) {
		l.v.SetDefault(key, value)
	}
}

func flatten(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"pipeline.chunk_size":     cfg.Pipeline.ChunkSize,
		"pipeline.temp_dir":       cfg.Pipeline.TempDir,
		"pipeline.workers":        cfg.Pipeline.Workers,
		"pipeline.max_concurrent": cfg.Pipeline.MaxConcurrent,
		"pipeline.kdf":            cfg.Pipeline.KDF,
		"storage.output_dir":      cfg.Storage.OutputDir,
		"storage.conflict":        cfg.Storage.Conflict,
		"storage.s3.bucket":       cfg.Storage.S3.Bucket,
		"storage.s3.prefix":       cfg.Storage.S3.Prefix,
		"storage.s3.region":       cfg.Storage.S3.Region,
		"storage.s3.timeout":      cfg.Storage.S3.Timeout,
		"journal.enabled":         cfg.Journal.Enabled,
		"journal.backend":         cfg.Journal.Backend,
		"journal.path":            cfg.Journal.Path,
		"journal.table":           cfg.Journal.Table,
		"journal.region":          cfg.Journal.Region,
		"journal.ttl":             cfg.Journal.TTL,
		"server.addr":             cfg.Server.Addr,
		"server.max_conns":        cfg.Server.MaxConns,
		"server.max_body_bytes":   cfg.Server.MaxBodyBytes,
		"server.write_timeout":    cfg.Server.WriteTimeout,
		"log.level":               cfg.Log.Level,
		"log.format":              cfg.Log.Format,
		"log.file":                cfg.Log.File,
		"log.color":               cfg.Log.Color,
	}
}

// SaveExample writes an example config file. The format follows the file extension.
func SaveExample(path string) error {
	v := viper.New()
	for key, value := range flatten(DefaultConfig()) {
		v.Set(key, value)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
