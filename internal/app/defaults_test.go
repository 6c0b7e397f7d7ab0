package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("CHECKIN_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("CHECKIN_HOME", "/custom/checkin")
		t.Setenv("CHECKIN_S3_ACCESS_KEY_ID", "AKIA")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if d.ConfigPath != "/custom/config.toml" {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, "/custom/config.toml")
		}
		if d.BaseDir != "/custom/checkin" {
			t.Errorf("BaseDir = %q, want %q", d.BaseDir, "/custom/checkin")
		}
		if d.LogDir != "/custom/checkin/log" {
			t.Errorf("LogDir = %q, want %q", d.LogDir, "/custom/checkin/log")
		}
		if d.Env.S3AccessKeyID != "AKIA" {
			t.Errorf("S3AccessKeyID = %q", d.Env.S3AccessKeyID)
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("CHECKIN_CONFIG_PATH", "")
		t.Setenv("CHECKIN_HOME", "")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		if want := filepath.Join(homeDir, ".config", "checkin.toml"); d.ConfigPath != want {
			t.Errorf("ConfigPath = %q, want %q", d.ConfigPath, want)
		}
		wantBase := filepath.Join(homeDir, ".local", "share", "checkin")
		if d.BaseDir != wantBase {
			t.Errorf("BaseDir = %q, want %q", d.BaseDir, wantBase)
		}
		if want := filepath.Join(wantBase, "log"); d.LogDir != want {
			t.Errorf("LogDir = %q, want %q", d.LogDir, want)
		}
	})
}

func TestEnv_Level(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (Env{LogLevel: in}).Level(); got != want {
			t.Errorf("Level(%q) = %v, want %v", in, got, want)
		}
	}
}
