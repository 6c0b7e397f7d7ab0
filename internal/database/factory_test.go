package database

import (
	"testing"

	"checkin-go/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     func(t *testing.T) config.DatabaseConfig
		wantErr bool
	}{
		{
			name: "memory database",
			cfg:  func(*testing.T) config.DatabaseConfig { return config.DatabaseConfig{Type: "memory"} },
		},
		{
			name: "sqlite database",
			cfg: func(t *testing.T) config.DatabaseConfig {
				return config.DatabaseConfig{Type: "sqlite", DataDir: t.TempDir()}
			},
		},
		{
			name:    "sqlite database without data_dir",
			cfg:     func(*testing.T) config.DatabaseConfig { return config.DatabaseConfig{Type: "sqlite"} },
			wantErr: true,
		},
		{
			name:    "unknown database type",
			cfg:     func(*testing.T) config.DatabaseConfig { return config.DatabaseConfig{Type: "unknown"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewDatabaseFromConfig(tt.cfg(t), "kiosk-1", nil)
			if tt.wantErr {
				if err == nil {
					t.Error("NewDatabaseFromConfig() expected error, got nil")
				}
				if got != nil {
					t.Error("NewDatabaseFromConfig() should return nil on error")
					got.Close()
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
			}
			defer got.Close()
		})
	}

	t.Run("memory database is migrated", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.DatabaseConfig{Type: "memory"}, "kiosk-1", nil)
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() error = %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() = %v, want nil", err)
		}
	})
}
