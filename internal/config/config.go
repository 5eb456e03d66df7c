package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for wemirrord.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Store      StoreConfig      `toml:"store"`
	Server     ServerConfig     `toml:"server"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// StoreConfig represents configuration for the secondary (mirror) store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "memory", "sqlite", or "s3"

	// SQLite-specific fields (only used when Type == "sqlite")
	SQLitePath string `toml:"sqlite_path,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// ServerConfig holds settings for the HTTP ingest/read surface.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// DispatchConfig holds settings for the in-process delivery queue.
type DispatchConfig struct {
	QueueSize      int     `toml:"queue_size"`
	Workers        int     `toml:"workers"`
	MaxAttempts    int     `toml:"max_attempts"`
	InitialDelayMS int64   `toml:"initial_delay_ms"`
	MaxDelayMS     int64   `toml:"max_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
	Jitter         bool    `toml:"jitter"`
}

// EncryptionConfig holds paths to the age key pair used to protect
// snapshot exports.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config with the provided values and defaults.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(baseDir, "mirror.db"),
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8787",
		},
		Dispatch: DispatchConfig{
			QueueSize:      1024,
			Workers:        4,
			MaxAttempts:    5,
			InitialDelayMS: 100,
			MaxDelayMS:     5000,
			Multiplier:     2.0,
			Jitter:         true,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "wemirror.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "wemirror.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
