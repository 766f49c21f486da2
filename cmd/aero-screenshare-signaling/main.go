package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/coordinator"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/recorder"
	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-screenshare-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"recordings_dir", cfg.RecordingsDir,
		"default_recording_quality", cfg.DefaultRecordingQuality,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"signaling_ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"api_requests_per_minute", cfg.APIRequestsPerMinute,
		"ice_servers", len(cfg.ICEServers),
	)
	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("ice server configuration rejected; /readyz will report not ready", "err", err)
	}
	if cfg.Mode == config.ModeProd && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("no allowed origins configured; only same-host browser origins are accepted")
	}

	m := metrics.New()
	rec, err := recorder.New(cfg.RecordingsDir, logger.With("component", "recorder"))
	if err != nil {
		logger.Error("failed to prepare recordings directory", "err", err)
		os.Exit(2)
	}
	hub := signaling.NewHub(m)
	svc, err := coordinator.New(coordinator.Config{
		Messenger:        hub,
		Recorder:         rec,
		Logger:           logger.With("component", "coordinator"),
		Metrics:          m,
		DefaultQuality:   cfg.DefaultRecordingQuality,
		CaptureQueueSize: cfg.CaptureQueueSize,
		CaptureTimeout:   cfg.CaptureTimeout,
	})
	if err != nil {
		logger.Error("failed to configure coordinator", "err", err)
		os.Exit(2)
	}
	sig, err := signaling.NewServer(signaling.Config{
		Coordinator:          svc,
		Hub:                  hub,
		Logger:               logger.With("component", "signaling"),
		Metrics:              m,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		SendQueueLength:      cfg.SignalingSendQueueLength,
	})
	if err != nil {
		logger.Error("failed to configure signaling", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	srv.AddReadinessCheck("recordings_dir", rec.Check)
	srv.HandleWithOrigin("GET /webrtc/signal", sig.Handler())
	srv.HandleWithOrigin("/api/", httpserver.NewAPI(svc, logger.With("component", "api"), cfg.APIRequestsPerMinute))
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Hijacked signaling sockets are not covered by Shutdown.
		sig.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
			_ = srv.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
