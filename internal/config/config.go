package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for a check-in kiosk.
type Config struct {
	DeviceID   string           `toml:"device_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Camera     CameraConfig     `toml:"camera"`
	Sampler    SamplerConfig    `toml:"sampler"`
	Decoder    DecoderConfig    `toml:"decoder"`
	Resolver   ResolverConfig   `toml:"resolver"`
	Database   DatabaseConfig   `toml:"database"`
	Session    SessionConfig    `toml:"session"`
	Encryption EncryptionConfig `toml:"encryption"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
}

// CameraConfig selects the capture backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CameraConfig struct {
	Type   string `toml:"type"`   // "memory", "imagedir" or "opencv"
	Facing string `toml:"facing"` // "rear" (default), "front" or "any"

	// Simulated backends (Type == "memory" or "imagedir")
	TorchCapable bool `toml:"torch_capable,omitempty"`
	WarmupTicks  int  `toml:"warmup_ticks,omitempty"`

	// Memory-specific fields (only used when Type == "memory")
	Payload      string `toml:"payload,omitempty"`
	PayloadAfter int    `toml:"payload_after,omitempty"`

	// ImageDir-specific fields (only used when Type == "imagedir")
	ImageDir string `toml:"image_dir,omitempty"`

	// OpenCV-specific fields (only used when Type == "opencv")
	Device int `toml:"device,omitempty"`
}

// SamplerConfig controls the frame sampling rate.
type SamplerConfig struct {
	IntervalMS int `toml:"interval_ms"` // clamped to 200-750, defaults to 500
}

// DecoderConfig selects the frame decoder.
type DecoderConfig struct {
	Type string `toml:"type"` // "qr" (default), "annotated" or "opencv"
}

// ResolverConfig tunes payload classification.
type ResolverConfig struct {
	// CheckinHosts restricts which web hosts are read as ticket links. Empty
	// accepts any host serving /events/<id>/checkin.
	CheckinHosts []string `toml:"checkin_hosts,omitempty"`
}

// DatabaseConfig represents configuration for the history and check-in database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SessionConfig holds scan session limits. Zero values mean "no limit".
type SessionConfig struct {
	MaxDurationSeconds     int     `toml:"max_duration_seconds"`
	RetryInitialMS         int     `toml:"retry_initial_ms"`
	RetryMaxMS             int     `toml:"retry_max_ms"`
	RetryMultiplier        float64 `toml:"retry_multiplier"`
	HistoryLimit           int     `toml:"history_limit"`
	DuplicateWindowSeconds int     `toml:"duplicate_window_seconds"`
}

// EncryptionConfig holds paths to the age key pair used for history exports.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ArchiveConfig represents configuration for the history export target.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// ServerConfig configures the kiosk control API.
type ServerConfig struct {
	Addr                string  `toml:"addr"`
	RateLimit           float64 `toml:"rate_limit"` // requests per second per client
	RateBurst           int     `toml:"rate_burst"`
	HistoryCacheSeconds int     `toml:"history_cache_seconds"`
}

// NewConfig creates a new Config with the provided values and defaults for
// every backend.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Camera: CameraConfig{
			Type:   "memory",
			Facing: "rear",
		},
		Sampler: SamplerConfig{IntervalMS: 500},
		Decoder: DecoderConfig{Type: "qr"},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Session: SessionConfig{
			RetryInitialMS:         500,
			RetryMaxMS:             5000,
			RetryMultiplier:        2,
			DuplicateWindowSeconds: 300,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "checkin.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "checkin.key"),
		},
		Archive: ArchiveConfig{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(baseDir, "archive"),
		},
		Server: ServerConfig{
			Addr:                ":8080",
			RateLimit:           5,
			RateBurst:           10,
			HistoryCacheSeconds: 2,
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
