// qrsnap samples a video stream, detects QR codes and saves one verified
// PNG snapshot per distinct payload.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/qrsnap/internal/config"
	"github.com/teslashibe/qrsnap/pkg/app"
)

func main() {
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	a, err := app.New(opts)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	if err := a.Init(); err != nil {
		log.Fatalf("initialization failed: %v", err)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		a.Shutdown()
		log.Fatalf("runtime error: %v", err)
	}
}

// parseFlags loads the config file, then applies command line overrides.
func parseFlags(args []string) (app.Options, error) {
	fs := flag.NewFlagSet("qrsnap", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("QRSNAP_CONFIG"), "Path to YAML config file")
	videoPath := fs.String("video", "", "Scan this video file and exit when it ends")
	outDir := fs.String("out", "", "Directory for snapshots and the archive")
	serve := fs.Bool("serve", false, "Run the web API")
	port := fs.String("port", "", "HTTP port for -serve")
	static := fs.String("static", "", "Directory of dashboard assets served at /")
	screen := fs.Bool("screen", false, "Sample the local display (with -serve)")
	display := fs.Int("display", -1, "Display index for -screen")
	signalling := fs.String("webrtc", "", "WebRTC signalling URL of a live camera (with -serve)")
	producer := fs.String("producer", "", "WebRTC producer name")
	cooldown := fs.Duration("cooldown", 0, "Re-detection cooldown per payload")
	debug := fs.Bool("debug", false, "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return app.Options{}, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg, err := config.Load(*configPath)
	if err != nil {
		return app.Options{}, err
	}

	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *display >= 0 {
		cfg.Screen.Display = *display
	}
	if *signalling != "" {
		cfg.WebRTC.SignallingURL = *signalling
	}
	if *producer != "" {
		cfg.WebRTC.Producer = *producer
	}
	// zero is a valid cooldown, so only an explicit flag overrides
	if set["cooldown"] {
		cfg.Cooldown = *cooldown
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	return app.Options{
		Config:    cfg,
		Video:     *videoPath,
		Serve:     *serve,
		Screen:    *screen,
		StaticDir: *static,
	}, nil
}
