// Package web serves the qrsnap HTTP API and the capture event stream.
package web

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/teslashibe/qrsnap/pkg/hub"
	"github.com/teslashibe/qrsnap/pkg/session"
	"github.com/teslashibe/qrsnap/pkg/snapshot"
	"github.com/teslashibe/qrsnap/pkg/video"
)

// MaxUploadSize bounds uploaded video files.
const MaxUploadSize = 512 << 20

// Drive is the remote upload surface the API exposes. gdrive.Sink
// implements it.
type Drive interface {
	Authenticated() bool
	AuthURL() string
	HandleCallback(ctx context.Context, state, code string) error
	Disconnect() error
	UploadArchive(ctx context.Context, captures []snapshot.Capture) (string, error)
}

// SourceFunc builds a frame source for a local video path.
type SourceFunc func(path string) (video.Source, error)

// Config configures the server.
type Config struct {
	Port      string
	UploadDir string
	StaticDir string // optional dashboard assets served at /

	Sessions *session.Manager
	Events   *hub.Hub
	Drive    Drive // nil when Drive is not configured

	// NewSource defaults to a video file source.
	NewSource SourceFunc
	Logger    *slog.Logger
}

// Server is the API server.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
}

// New builds the fiber app and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("web: session manager required")
	}
	if cfg.Events == nil {
		return nil, errors.New("web: event hub required")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "web")
	if cfg.NewSource == nil {
		cfg.NewSource = func(path string) (video.Source, error) {
			return video.NewFile(path, cfg.Logger), nil
		}
	}

	s := &Server{cfg: cfg, logger: logger}

	app := fiber.New(fiber.Config{
		AppName:               "qrsnap",
		DisableStartupMessage: true,
		BodyLimit:             MaxUploadSize,
		ErrorHandler:          s.handleError,
	})
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Post("/session", s.handleLoad)
	api.Delete("/session", s.handleStop)
	api.Post("/session/pause", s.handlePause)
	api.Post("/session/resume", s.handleResume)
	api.Get("/status", s.handleStatus)
	api.Get("/snapshots", s.handleSnapshots)
	api.Get("/snapshots/:name", s.handleSnapshot)
	api.Get("/archive", s.handleArchive)
	api.Get("/drive/auth", s.handleDriveAuth)
	api.Get("/drive/callback", s.handleDriveCallback)
	api.Delete("/drive", s.handleDriveDisconnect)
	api.Post("/drive/archive", s.handleDriveArchive)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s, nil
}

// App exposes the fiber app, mostly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", "http://localhost:"+s.cfg.Port)
		errc <- s.app.Listen(":" + s.cfg.Port)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
