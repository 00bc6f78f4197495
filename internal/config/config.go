package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for budgetsync.
type Config struct {
	UserID     string           `toml:"user_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Remote     RemoteConfig     `toml:"remote"`
	Encryption EncryptionConfig `toml:"encryption"`
	Sync       SyncConfig       `toml:"sync"`
	Network    NetworkConfig    `toml:"network"`
	Log        LogConfig        `toml:"log"`
	Feed       FeedConfig       `toml:"feed"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt documents
// kept by the filesystem and s3 remotes.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// DatabaseConfig represents configuration for the local store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RemoteConfig represents configuration for the remote budget store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type    string   `toml:"type"` // "http", "filesystem", "s3" or "memory"
	Timeout Duration `toml:"timeout,omitempty"`

	// HTTP-specific fields (only used when Type == "http")
	BaseURL   string `toml:"base_url,omitempty"`
	TokenEnv  string `toml:"token_env,omitempty"`
	TokenPath string `toml:"token_path,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// Encrypt stores documents encrypted at rest (filesystem and s3 only).
	Encrypt bool `toml:"encrypt,omitempty"`
}

// SyncConfig tunes the sync coordinator. Zero values mean defaults.
type SyncConfig struct {
	Interval      Duration  `toml:"interval,omitempty"`
	MaxRetryCount int       `toml:"max_retry_count,omitempty"`
	BackoffMin    *Duration `toml:"backoff_min,omitempty"` // "0s" disables backoff
	BackoffMax    Duration  `toml:"backoff_max,omitempty"`
}

// NetworkConfig selects the network presence signal.
type NetworkConfig struct {
	Type      string `toml:"type"`                 // "manual" (always online) or "file"
	StateFile string `toml:"state_file,omitempty"` // only used for type=file
}

// LogConfig controls the application log.
type LogConfig struct {
	Level      string `toml:"level,omitempty"` // debug, info, warn, error
	MaxSizeMB  int    `toml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"max_backups,omitempty"`
}

// FeedConfig configures the websocket feed served by `budgetsync serve`.
type FeedConfig struct {
	Addr string `toml:"addr,omitempty"`
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(userID, baseDir string) *Config {
	return &Config{
		UserID:  userID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Remote: RemoteConfig{
			Type:     "http",
			BaseURL:  "http://localhost:8080/api",
			TokenEnv: "BUDGETSYNC_TOKEN",
			Timeout:  Duration{15 * time.Second},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "budgetsync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "budgetsync.key"),
		},
		Sync: SyncConfig{
			Interval:      Duration{30 * time.Second},
			MaxRetryCount: 5,
			BackoffMax:    Duration{5 * time.Minute},
		},
		Network: NetworkConfig{Type: "manual"},
		Log:     LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
		Feed:    FeedConfig{Addr: "127.0.0.1:8787"},
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

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The config may name a token file; keep it private to the user.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
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
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
