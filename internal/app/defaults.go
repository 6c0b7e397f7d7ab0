package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env holds the environment overrides the CLI honours.
type Env struct {
	ConfigPath        string `env:"CHECKIN_CONFIG_PATH"`
	Home              string `env:"CHECKIN_HOME"`
	LogLevel          string `env:"CHECKIN_LOG_LEVEL" envDefault:"info"`
	S3AccessKeyID     string `env:"CHECKIN_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"CHECKIN_S3_SECRET_ACCESS_KEY"`
}

// Defaults are the resolved application paths.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
	Env        Env
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CHECKIN_CONFIG_PATH: config file location (default: ~/.config/checkin.toml)
//   - CHECKIN_HOME: base directory for checkin data (default: ~/.local/share/checkin)
func GetDefaults() (Defaults, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Defaults{}, fmt.Errorf("parse env: %w", err)
	}

	d := Defaults{ConfigPath: e.ConfigPath, BaseDir: e.Home, Env: e}
	if d.ConfigPath == "" || d.BaseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if d.ConfigPath == "" {
			d.ConfigPath = filepath.Join(homeDir, ".config", "checkin.toml")
		}
		if d.BaseDir == "" {
			d.BaseDir = filepath.Join(homeDir, ".local", "share", "checkin")
		}
	}
	d.LogDir = filepath.Join(d.BaseDir, "log")
	return d, nil
}

// Level maps CHECKIN_LOG_LEVEL onto a slog level. Unknown names mean info.
func (e Env) Level() slog.Level {
	switch strings.ToLower(e.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
