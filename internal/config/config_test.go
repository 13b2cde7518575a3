package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Cooldown != 3*time.Second {
		t.Errorf("Cooldown: got %v, want 3s", cfg.Cooldown)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port: got %q, want %q", cfg.Port, DefaultPort)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default().Validate(): got %v, want none", errs)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qrsnap.yaml")
	data := []byte(`
port: "9090"
output_dir: /tmp/snaps
cooldown: 1500ms
log:
  level: debug
  format: json
webrtc:
  signalling_url: ws://robot:8443
  producer: camera
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port: got %q, want 9090", cfg.Port)
	}
	if cfg.Cooldown != 1500*time.Millisecond {
		t.Errorf("Cooldown: got %v, want 1.5s", cfg.Cooldown)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log: got %+v", cfg.Log)
	}
	if cfg.WebRTC.Producer != "camera" {
		t.Errorf("WebRTC.Producer: got %q, want camera", cfg.WebRTC.Producer)
	}
	// untouched keys keep their defaults
	if cfg.RefreshRate != DefaultRefreshRate {
		t.Errorf("RefreshRate: got %v, want %v", cfg.RefreshRate, DefaultRefreshRate)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("QRSNAP_PORT", "7000")
	t.Setenv("QRSNAP_COOLDOWN", "250ms")
	t.Setenv("GOOGLE_CLIENT_ID", "id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("Port: got %q, want 7000", cfg.Port)
	}
	if cfg.Cooldown != 250*time.Millisecond {
		t.Errorf("Cooldown: got %v, want 250ms", cfg.Cooldown)
	}
	if !cfg.Drive.Enabled() {
		t.Error("Drive.Enabled: got false, want true")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing): expected error")
	}

	t.Setenv("QRSNAP_COOLDOWN", "soon")
	if _, err := Load(""); err == nil {
		t.Error("Load with bad QRSNAP_COOLDOWN: expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   int
	}{
		{"valid", func(*Config) {}, 0},
		{"bad port", func(c *Config) { c.Port = "http" }, 1},
		{"empty output", func(c *Config) { c.OutputDir = "" }, 1},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }, 1},
		{"zero refresh", func(c *Config) { c.RefreshRate = 0 }, 1},
		{"half webrtc", func(c *Config) { c.WebRTC.SignallingURL = "ws://x" }, 1},
		{"drive without token path", func(c *Config) {
			c.Drive = DriveConfig{ClientID: "a", ClientSecret: "b"}
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if got := cfg.Validate(); len(got) != tt.want {
				t.Errorf("Validate: got %v, want %d problems", got, tt.want)
			}
		})
	}
}
