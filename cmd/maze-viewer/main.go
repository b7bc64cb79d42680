package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"maze-relay-go/internal/calibration"
	"maze-relay-go/internal/config"
	"maze-relay-go/internal/session"
	"maze-relay-go/internal/viewer"
	"maze-relay-go/internal/vision"
)

func main() {
	d := config.Default()
	var (
		configPath   = flag.String("config", "", "Optional YAML config file; flags given explicitly override it")
		relayURL     = flag.String("relay", d.Viewer.RelayURL, "Relay consumer WebSocket URL")
		httpPort     = flag.Int("http-port", d.Viewer.HTTPPort, "Port serving /frame.png and /status (0 disables)")
		frameRate    = flag.Float64("frame-rate", d.Viewer.FrameRate, "Render rate in frames per second")
		canvasWidth  = flag.Int("canvas-width", d.Viewer.CanvasWidth, "Canvas width in pixels")
		canvasHeight = flag.Int("canvas-height", d.Viewer.CanvasHeight, "Canvas height in pixels")
		backend      = flag.String("backend", d.Viewer.Backend, "Vision backend: auto, native or opencv")
		verbose      = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := d
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Error("config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	flag.Visit(func(f *flag.Flag) {
		v := &cfg.Viewer
		switch f.Name {
		case "relay":
			v.RelayURL = *relayURL
		case "http-port":
			v.HTTPPort = *httpPort
		case "frame-rate":
			v.FrameRate = *frameRate
		case "canvas-width":
			v.CanvasWidth = *canvasWidth
		case "canvas-height":
			v.CanvasHeight = *canvasHeight
		case "backend":
			v.Backend = *backend
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	prims, err := vision.Select(cfg.Viewer.Backend)
	if err != nil {
		logger.Error("vision backend", "error", err)
		os.Exit(1)
	}
	engine := calibration.NewEngine(prims, cfg.Calibration, logger)

	sx, sy := cfg.Viewer.Scale()
	sess := session.New(engine, session.Options{
		ScaleX:         sx,
		ScaleY:         sy,
		MotionDuration: cfg.Viewer.MotionDuration,
		NoticeTTL:      cfg.Viewer.NoticeDuration,
		Logger:         logger,
	})
	v := viewer.New(cfg.Viewer, sess, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Viewer.HTTPPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.Viewer.HTTPPort)
		go func() {
			logger.Info("serving rendered frames", "url", fmt.Sprintf("http://localhost%s/frame.png", addr))
			if err := v.Serve(ctx, addr); err != nil {
				logger.Error("snapshot server stopped", "error", err)
			}
		}()
	}

	logger.Info("viewer starting", "relay", cfg.Viewer.RelayURL, "backend", cfg.Viewer.Backend, "opencv", vision.Available)
	_ = v.Run(ctx)
}
