// Package app wires configuration, sources, sinks and the web API into the
// qrsnap process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/teslashibe/qrsnap/internal/config"
	"github.com/teslashibe/qrsnap/internal/log"
	"github.com/teslashibe/qrsnap/pkg/decode"
	"github.com/teslashibe/qrsnap/pkg/gdrive"
	"github.com/teslashibe/qrsnap/pkg/hub"
	"github.com/teslashibe/qrsnap/pkg/session"
	"github.com/teslashibe/qrsnap/pkg/snapshot"
	"github.com/teslashibe/qrsnap/pkg/video"
	"github.com/teslashibe/qrsnap/pkg/web"
)

// Options selects what the process does.
type Options struct {
	Config config.Config

	// Video scans one file headlessly and exits when it ends.
	Video string

	// Serve runs the web API.
	Serve bool

	// Screen samples the local display instead of a file.
	Screen bool

	StaticDir string

	// NewDecoder and NewSource default to gocv-backed implementations.
	NewDecoder func() decode.Decoder
	NewSource  web.SourceFunc

	// Refresh overrides the sampling clock. Used in tests.
	Refresh video.Refresh
}

// Result summarizes a headless scan.
type Result struct {
	Captures []snapshot.Capture
	Archive  string
}

// App is the qrsnap process.
type App struct {
	opts   Options
	cfg    config.Config
	logger *slog.Logger

	decoder decode.Decoder
	dir     *snapshot.DirSink
	sinks   *snapshot.Multi
	drive   *gdrive.Sink
	events  *hub.Hub

	result Result
}

// New validates options. Nothing is opened until Init.
func New(opts Options) (*App, error) {
	if errs := opts.Config.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if opts.Video == "" && !opts.Serve {
		return nil, errors.New("nothing to do: pass -video or -serve")
	}
	if opts.Video != "" && opts.Serve {
		return nil, errors.New("-video and -serve are exclusive")
	}
	return &App{opts: opts, cfg: opts.Config}, nil
}

// Init sets up logging, the decoder and the capture sinks.
func (a *App) Init() error {
	log.Init(log.Options{Level: a.cfg.Log.Level, Format: a.cfg.Log.Format})
	a.logger = log.Component("app")

	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}
	a.dir = snapshot.NewDirSink(a.cfg.OutputDir)
	a.sinks = snapshot.NewMulti(log.Component("sink"), a.dir)

	if a.cfg.Drive.Enabled() {
		drv, err := gdrive.New(gdrive.Config{
			ClientID:     a.cfg.Drive.ClientID,
			ClientSecret: a.cfg.Drive.ClientSecret,
			RedirectURL:  a.cfg.Drive.RedirectURL,
			TokenPath:    a.cfg.Drive.TokenPath,
			FolderID:     a.cfg.Drive.FolderID,
		}, log.L())
		if err != nil {
			return fmt.Errorf("google drive: %w", err)
		}
		a.drive = drv
		// uploads start once the user connects an account
		a.sinks.Add(snapshot.SinkFunc(func(ctx context.Context, c snapshot.Capture) error {
			if !drv.Authenticated() {
				return nil
			}
			return drv.Deliver(ctx, c)
		}))
		a.logger.Info("google drive delivery enabled", "connected", drv.Authenticated())
	}

	if a.opts.NewDecoder != nil {
		a.decoder = a.opts.NewDecoder()
	} else {
		a.decoder = decode.NewQR()
	}
	if a.opts.NewSource == nil {
		a.opts.NewSource = func(path string) (video.Source, error) {
			return video.NewFile(path, log.Component("video")), nil
		}
	}
	a.events = hub.New("events", log.L())

	a.logger.Info("initialized",
		"output_dir", a.cfg.OutputDir,
		"cooldown", a.cfg.Cooldown,
		"refresh_rate", a.cfg.RefreshRate)
	return nil
}

func (a *App) sessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.Cooldown = a.cfg.Cooldown
	opts.RefreshRate = a.cfg.RefreshRate
	opts.Sink = a.sinks
	opts.Publisher = a.events
	opts.Logger = log.Component("session")
	opts.Refresh = a.opts.Refresh
	return opts
}

// Run executes the selected mode until it finishes or ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.opts.Video != "" {
		return a.scanFile(ctx)
	}
	return a.serve(ctx)
}

// scanFile plays one file to the end, writing each capture as it is
// accepted and the archive at the end.
func (a *App) scanFile(ctx context.Context) error {
	src, err := a.opts.NewSource(a.opts.Video)
	if err != nil {
		return err
	}
	opts := a.sessionOptions()
	opts.StopWhenEnded = true
	opts.Publisher = nil

	s, err := session.New(filepath.Base(a.opts.Video), src, a.decoder, opts)
	if err != nil {
		return err
	}
	defer s.Stop()

	if err := s.Start(ctx); err != nil {
		return err
	}
	// an interrupted scan still writes what it captured so far
	if err := s.Wait(ctx); err != nil && ctx.Err() == nil {
		return err
	}

	captures := s.Snapshots()
	path, err := a.dir.WriteArchive(captures)
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	a.result = Result{Captures: captures, Archive: path}

	st := s.Status()
	a.logger.Info("scan complete",
		"captures", len(captures),
		"detections", st.Loop.Detections,
		"rejected", st.Validation.Rejected,
		"archive", path)
	return nil
}

func (a *App) serve(ctx context.Context) error {
	go a.events.Run(ctx)

	mgr := session.NewManager(ctx, a.decoder, a.sessionOptions())
	defer mgr.Stop()

	if err := a.loadLive(mgr); err != nil {
		return err
	}

	cfg := web.Config{
		Port:      a.cfg.Port,
		UploadDir: a.cfg.UploadDir,
		StaticDir: a.opts.StaticDir,
		Sessions:  mgr,
		Events:    a.events,
		NewSource: a.opts.NewSource,
		Logger:    log.L(),
	}
	if a.drive != nil {
		cfg.Drive = a.drive
	}
	srv, err := web.New(cfg)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// loadLive starts a session on a live source when one is configured.
func (a *App) loadLive(mgr *session.Manager) error {
	var (
		src  video.Source
		name string
	)
	switch {
	case a.opts.Screen:
		src = video.NewScreen(a.cfg.Screen.Display, log.Component("screen"))
		name = fmt.Sprintf("screen:%d", a.cfg.Screen.Display)
	case a.cfg.WebRTC.SignallingURL != "":
		src = video.NewWebRTC(video.WebRTCConfig{
			SignallingURL: a.cfg.WebRTC.SignallingURL,
			Producer:      a.cfg.WebRTC.Producer,
		}, log.Component("webrtc"))
		name = "webrtc:" + a.cfg.WebRTC.Producer
	default:
		return nil
	}
	_, err := mgr.Load(name, src)
	return err
}

// Result returns the outcome of a headless scan.
func (a *App) Result() Result { return a.result }

// Shutdown releases the decoder.
func (a *App) Shutdown() {
	if a.decoder != nil {
		if err := a.decoder.Close(); err != nil {
			a.logger.Warn("decoder close", "error", err)
		}
	}
}
