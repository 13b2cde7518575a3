// Package config loads qrsnap configuration from an optional YAML file
// and QRSNAP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultPort        = "8080"
	DefaultOutputDir   = "qrcode_snapshots"
	DefaultCooldown    = 3 * time.Second
	DefaultRefreshRate = 60.0
	DefaultLogLevel    = "info"
	DefaultTokenPath   = "drive_token.json"
)

// Config is the full application configuration.
type Config struct {
	Port        string        `yaml:"port"`
	OutputDir   string        `yaml:"output_dir"`
	UploadDir   string        `yaml:"upload_dir"`
	Cooldown    time.Duration `yaml:"cooldown"`
	RefreshRate float64       `yaml:"refresh_rate"`

	Log    LogConfig    `yaml:"log"`
	Drive  DriveConfig  `yaml:"drive"`
	WebRTC WebRTCConfig `yaml:"webrtc"`
	Screen ScreenConfig `yaml:"screen"`
}

// LogConfig controls internal/log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DriveConfig holds Google Drive delivery settings. Delivery is off
// unless ClientID and ClientSecret are both set.
type DriveConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	TokenPath    string `yaml:"token_path"`
	FolderID     string `yaml:"folder_id"`
}

// Enabled reports whether Drive credentials are present.
func (d DriveConfig) Enabled() bool {
	return d.ClientID != "" && d.ClientSecret != ""
}

// WebRTCConfig selects a live stream from a webrtcsink signalling server.
type WebRTCConfig struct {
	SignallingURL string `yaml:"signalling_url"`
	Producer      string `yaml:"producer"`
}

// ScreenConfig selects a display for screen sampling.
type ScreenConfig struct {
	Display int `yaml:"display"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:        DefaultPort,
		OutputDir:   DefaultOutputDir,
		UploadDir:   os.TempDir(),
		Cooldown:    DefaultCooldown,
		RefreshRate: DefaultRefreshRate,
		Log:         LogConfig{Level: DefaultLogLevel},
		Drive:       DriveConfig{TokenPath: DefaultTokenPath},
	}
}

// Load builds a Config from defaults, then the YAML file at path (if path
// is not empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "QRSNAP_PORT")
	setString(&c.OutputDir, "QRSNAP_OUTPUT_DIR")
	setString(&c.UploadDir, "QRSNAP_UPLOAD_DIR")
	setString(&c.Log.Level, "QRSNAP_LOG_LEVEL")
	setString(&c.Log.Format, "QRSNAP_LOG_FORMAT")
	setString(&c.Drive.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Drive.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Drive.RedirectURL, "QRSNAP_DRIVE_REDIRECT_URL")
	setString(&c.Drive.TokenPath, "QRSNAP_DRIVE_TOKEN_PATH")
	setString(&c.Drive.FolderID, "QRSNAP_DRIVE_FOLDER_ID")
	setString(&c.WebRTC.SignallingURL, "QRSNAP_WEBRTC_URL")
	setString(&c.WebRTC.Producer, "QRSNAP_WEBRTC_PRODUCER")

	if v := os.Getenv("QRSNAP_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: QRSNAP_COOLDOWN: %w", err)
		}
		c.Cooldown = d
	}
	if v := os.Getenv("QRSNAP_REFRESH_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: QRSNAP_REFRESH_RATE: %w", err)
		}
		c.RefreshRate = f
	}
	if v := os.Getenv("QRSNAP_SCREEN_DISPLAY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: QRSNAP_SCREEN_DISPLAY: %w", err)
		}
		c.Screen.Display = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate returns every problem found. An empty slice means valid.
func (c Config) Validate() []string {
	var errs []string
	if c.Port == "" {
		errs = append(errs, "port is required")
	} else if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		errs = append(errs, fmt.Sprintf("port %q is not a valid TCP port", c.Port))
	}
	if c.OutputDir == "" {
		errs = append(errs, "output_dir is required")
	}
	if c.Cooldown < 0 {
		errs = append(errs, "cooldown must be >= 0")
	}
	if c.RefreshRate <= 0 {
		errs = append(errs, "refresh_rate must be > 0")
	}
	if c.Screen.Display < 0 {
		errs = append(errs, "screen.display must be >= 0")
	}
	if (c.WebRTC.SignallingURL == "") != (c.WebRTC.Producer == "") {
		errs = append(errs, "webrtc.signalling_url and webrtc.producer must be set together")
	}
	if c.Drive.Enabled() && c.Drive.TokenPath == "" {
		errs = append(errs, "drive.token_path is required when drive is enabled")
	}
	return errs
}
