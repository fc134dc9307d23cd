package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"edgecast/config"
	"edgecast/httpServer"
	"edgecast/internal/metrics"
	"edgecast/internal/pipeline"
	"edgecast/internal/source"
	"edgecast/internal/transport"
	"edgecast/internal/vision"
	"edgecast/pkg/models"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "edgecast",
		Short: "Publish an edge-detected camera feed over a pub/sub relay",
		Long: `edgecast captures video and audio, turns every frame into a Sobel edge
silhouette, and publishes frames and 5 second audio clips to a pub/sub relay.
It can subscribe to a stream at the same time and render what it receives.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New(configPath)
			if err != nil {
				return err
			}
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (yaml, json or toml)")
	flags.String("http-addr", ":8080", "Control API listen address")
	flags.String("transport", "websocket", "Relay transport: websocket or memory")
	flags.String("relay-url", "wss://localhost:8443", "Relay base URL")
	flags.String("publish-selector", "", "Publish to this stream (1 or 2) at startup")
	flags.String("subscribe-selector", "", "Subscribe to this stream (1 or 2) at startup")
	flags.String("overlay-color", "139,117,0", "Edge color as r,g,b")
	flags.Bool("background-subtraction", false, "Remove static background before edge detection")
	flags.Bool("render-reprocess", false, "Run edge detection on received frames too")
	flags.Int("video-device", -1, "Capture device id, -1 for the synthetic test card")
	flags.String("log-level", "info", "Log level")
	flags.String("log-format", "text", "Log format: text or json")

	return cmd
}

func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func newDialer(cfg *config.Config, log *logrus.Entry) (transport.Dialer, error) {
	if cfg.Transport == "memory" {
		log.Warn("Using in-process memory relay; only this process can see the streams")
		return transport.NewMemoryHub(cfg.ReceiveBuffer), nil
	}
	d := transport.NewWebSocketDialer(cfg.RelayURL, transport.WithReadLimit(int64(cfg.MaxPayloadBytes)))

	// Fail at startup rather than in every reconnect attempt
	if _, err := d.URL(transport.Address{Direction: models.DirectionPublish}); err != nil {
		return nil, err
	}
	return d, nil
}

func newVideoSource(cfg *config.Config) (source.VideoSource, error) {
	if cfg.VideoDevice < 0 {
		return source.NewPattern(cfg.FrameWidth, cfg.FrameHeight), nil
	}
	webcam, err := source.OpenWebcam(cfg.VideoDevice)
	if err != nil {
		return nil, err
	}
	return webcam, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logger)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info("Starting edgecast...")
	log.WithFields(logrus.Fields{
		"http_addr": cfg.HTTPAddr,
		"transport": cfg.Transport,
		"relay":     cfg.RelayURL,
		"frame":     fmt.Sprintf("%dx%d", cfg.FrameWidth, cfg.FrameHeight),
		"overlay":   cfg.OverlayColor.String(),
	}).Info("Configuration loaded")

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	dialer, err := newDialer(cfg, log)
	if err != nil {
		return err
	}

	video, err := newVideoSource(cfg)
	if err != nil {
		return err
	}

	var audio source.AudioSource
	if cfg.AudioEnabled {
		audio = source.NewTone(cfg.AudioFormat(), source.DefaultToneFrequency, nil)
	}

	p, err := pipeline.New(dialer, video, audio, nil, m, log, pipeline.Options{
		Owner:                 cfg.Owner,
		StreamName:            cfg.StreamName,
		PublishCredential:     cfg.PublishAPIKey,
		SubscribeCredential:   cfg.SubscribeAPIKey,
		FrameWidth:            cfg.FrameWidth,
		FrameHeight:           cfg.FrameHeight,
		CanvasWidth:           cfg.CanvasWidth,
		CanvasHeight:          cfg.CanvasHeight,
		RefreshRate:           cfg.RefreshRate,
		Overlay:               cfg.OverlayColor,
		RenderReprocess:       cfg.RenderReprocess,
		BackgroundSubtraction: cfg.BackgroundSubtraction,
		MOG2: vision.MOG2Config{
			History:       cfg.BGHistory,
			VarThreshold:  cfg.BGVarThreshold,
			DetectShadows: cfg.BGDetectShadows,
		},
		ReconnectDelay:     cfg.ReconnectDelay,
		AudioChunkDuration: cfg.AudioChunkDuration,
		MaxPayloadBytes:    cfg.MaxPayloadBytes,
		MaxImagePixels:     cfg.MaxImagePixels,
		SendBuffer:         cfg.SendBuffer,
		ReceiveBuffer:      cfg.ReceiveBuffer,
		DecodeWorkers:      int64(cfg.DecodeWorkers),
	})
	if err != nil {
		video.Close()
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return err
	}

	// Streams selected in config start right away; otherwise wait for the API
	if cfg.PublishSelector != "" {
		if _, err := p.StartPublishing(cfg.PublishSelector); err != nil {
			return fmt.Errorf("publish_selector: %w", err)
		}
	}
	if cfg.SubscribeSelector != "" {
		if _, err := p.StartSubscribing(cfg.SubscribeSelector); err != nil {
			return fmt.Errorf("subscribe_selector: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpServer.New(p, reg, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("edgecast started successfully")
	log.Info("---")
	log.Info("API Endpoints:")
	log.Info("  GET  /api/ping")
	log.Info("  GET  /api/v1/streams")
	log.Info("  POST /api/v1/publish")
	log.Info("  POST /api/v1/subscribe")
	log.Info("  POST /api/v1/streams/:direction/stop")
	log.Info("  GET  /live/local.png")
	log.Info("  GET  /live/remote.png")
	log.Info("  GET  /metrics")
	log.Info("---")

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown failed")
	}

	return nil
}
