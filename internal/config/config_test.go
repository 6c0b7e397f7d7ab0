package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		DeviceID: "kiosk-north-door",
		BaseDir:  "/var/lib/checkin",
		LogDir:   "/var/lib/checkin/log",
		Camera: CameraConfig{
			Type:         "imagedir",
			Facing:       "front",
			TorchCapable: true,
			WarmupTicks:  3,
			ImageDir:     "/srv/frames",
		},
		Sampler:  SamplerConfig{IntervalMS: 300},
		Decoder:  DecoderConfig{Type: "annotated"},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/var/lib/checkin/db"},
		Session: SessionConfig{
			MaxDurationSeconds: 120,
			RetryInitialMS:     250,
			RetryMaxMS:         4000,
			RetryMultiplier:    1.5,
			HistoryLimit:       50,
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/var/lib/checkin/keys/checkin.pub",
			PrivateKeyPath: "/var/lib/checkin/keys/checkin.key",
		},
		Archive: ArchiveConfig{Type: "s3", Name: "events", S3Bucket: "exports", S3Region: "eu-west-1"},
		Server:  ServerConfig{Addr: "127.0.0.1:9090", RateLimit: 2, RateBurst: 4},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.DeviceID != original.DeviceID {
		t.Errorf("DeviceID = %q, want %q", got.DeviceID, original.DeviceID)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Camera != original.Camera {
		t.Errorf("Camera = %+v, want %+v", got.Camera, original.Camera)
	}
	if got.Sampler.IntervalMS != 300 {
		t.Errorf("Sampler.IntervalMS = %d, want 300", got.Sampler.IntervalMS)
	}
	if got.Decoder.Type != "annotated" {
		t.Errorf("Decoder.Type = %q, want %q", got.Decoder.Type, "annotated")
	}
	if got.Session != original.Session {
		t.Errorf("Session = %+v, want %+v", got.Session, original.Session)
	}
	if got.Archive.S3Bucket != "exports" {
		t.Errorf("Archive.S3Bucket = %q, want %q", got.Archive.S3Bucket, "exports")
	}
	if got.Server != original.Server {
		t.Errorf("Server = %+v, want %+v", got.Server, original.Server)
	}
}

func TestManager_Read_Partial(t *testing.T) {
	input := `
device_id = "kiosk-1"

[camera]
type = "memory"
payload = "checkin://event/ev-1?token=t-1"
payload_after = 2
`
	m := &Manager{}
	got, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Camera.Payload != "checkin://event/ev-1?token=t-1" {
		t.Errorf("Camera.Payload = %q", got.Camera.Payload)
	}
	if got.Camera.PayloadAfter != 2 {
		t.Errorf("Camera.PayloadAfter = %d, want 2", got.Camera.PayloadAfter)
	}
	if got.Sampler.IntervalMS != 0 {
		t.Errorf("Sampler.IntervalMS = %d, want 0 for unset", got.Sampler.IntervalMS)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("kiosk-1", "/data/checkin")

	if cfg.DeviceID != "kiosk-1" {
		t.Errorf("DeviceID = %q, want %q", cfg.DeviceID, "kiosk-1")
	}
	if cfg.LogDir != "/data/checkin/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/checkin/log")
	}
	if cfg.Camera.Facing != "rear" {
		t.Errorf("Camera.Facing = %q, want %q", cfg.Camera.Facing, "rear")
	}
	if cfg.Sampler.IntervalMS != 500 {
		t.Errorf("Sampler.IntervalMS = %d, want 500", cfg.Sampler.IntervalMS)
	}
	if cfg.Database.DataDir != "/data/checkin/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/checkin/db")
	}
	if cfg.Session.MaxDurationSeconds != 0 || cfg.Session.HistoryLimit != 0 {
		t.Errorf("Session limits = %+v, want unlimited", cfg.Session)
	}
	if cfg.Encryption.PublicKeyPath != "/data/checkin/keys/checkin.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if cfg.Archive.FSRoot != "/data/checkin/archive" {
		t.Errorf("Archive.FSRoot = %q", cfg.Archive.FSRoot)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "checkin.toml")
		cfg := NewConfig("k1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "checkin.toml")
		cfg := NewConfig("k1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "checkin.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.DeviceID != "read-test" {
			t.Errorf("DeviceID = %q, want %q", got.DeviceID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/checkin.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
