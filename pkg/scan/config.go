package scan

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/qrsnap/pkg/snapshot"
	"github.com/teslashibe/qrsnap/pkg/video"
)

// DefaultCooldown is the minimum gap between two detections of the same
// value for the second one to be eligible for capture.
const DefaultCooldown = 3 * time.Second

// Encoder turns the decoded frame into a capture artifact.
type Encoder func(f *video.Frame) ([]byte, error)

// EncodePNG is the default Encoder.
func EncodePNG(f *video.Frame) ([]byte, error) {
	return snapshot.EncodePNG(f.Pix, f.Width, f.Height)
}

// Config holds loop configuration.
type Config struct {
	// Cooldown suppresses capture attempts for a value seen again within
	// this window of its last sighting.
	Cooldown time.Duration

	// RefreshRate in Hz paces ticks when the stream reports no FPS.
	RefreshRate float64

	// StopWhenEnded makes Run return video.ErrEnded once the stream ends
	// instead of idle-polling for it to resume.
	StopWhenEnded bool

	Logger  *slog.Logger
	Encoder Encoder

	// Refresh overrides the tick source. Used in tests.
	Refresh video.Refresh
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:    DefaultCooldown,
		RefreshRate: 60,
		Encoder:     EncodePNG,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Cooldown < 0 {
		return fmt.Errorf("scan: cooldown must be >= 0, got %v", c.Cooldown)
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("scan: refresh rate must be > 0, got %v", c.RefreshRate)
	}
	return nil
}

// Option configures a Loop.
type Option func(*Config)

// WithCooldown sets the cooldown window.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) { c.Cooldown = d }
}

// WithRefreshRate sets the fallback tick rate.
func WithRefreshRate(hz float64) Option {
	return func(c *Config) { c.RefreshRate = hz }
}

// WithStopWhenEnded makes Run return when the stream ends.
func WithStopWhenEnded(stop bool) Option {
	return func(c *Config) { c.StopWhenEnded = stop }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithEncoder replaces the artifact encoder.
func WithEncoder(e Encoder) Option {
	return func(c *Config) { c.Encoder = e }
}

// WithRefresh replaces the tick source.
func WithRefresh(r video.Refresh) Option {
	return func(c *Config) { c.Refresh = r }
}
