// Command collector is the log collector binary. It loads a YAML
// configuration file, initializes the file-watch collector core against a
// configured root directory, drains collected log entries into the
// configured sink, exposes a /healthz and /debug/live-files HTTP surface,
// and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripwire/logcollector/internal/audittrail"
	"github.com/tripwire/logcollector/internal/collector"
	"github.com/tripwire/logcollector/internal/config"
	"github.com/tripwire/logcollector/internal/operational"
	"github.com/tripwire/logcollector/internal/sink"
	"github.com/tripwire/logcollector/internal/watcher"
)

func main() {
	configPath := flag.String("config", "/etc/collector/config.yaml", "path to the collector YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collector: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("root_path", cfg.RootPath),
		slog.String("log_level", cfg.LogLevel),
		slog.String("health_addr", cfg.HealthAddr),
		slog.String("sink", cfg.Sink),
	)

	s, err := buildSink(cfg)
	if err != nil {
		logger.Error("failed to initialize sink", slog.Any("error", err))
		os.Exit(1)
	}
	defer s.Close()

	var collectorOpts []collector.Option
	if cfg.AuditLogPath != "" {
		a, err := audittrail.Open(cfg.AuditLogPath)
		if err != nil {
			logger.Error("failed to open audit trail", slog.String("path", cfg.AuditLogPath), slog.Any("error", err))
			os.Exit(1)
		}
		defer a.Close()
		collectorOpts = append(collectorOpts, collector.WithAuditTrail(a))
		logger.Info("audit trail enabled", slog.String("path", cfg.AuditLogPath))
	}

	w, err := watcher.New()
	if err != nil {
		logger.Error("failed to create watcher", slog.Any("error", err))
		os.Exit(1)
	}

	c, err := collector.Initialize(cfg.RootPath, w, logger, collectorOpts...)
	if err != nil {
		logger.Error("failed to initialize collector", slog.String("root_path", cfg.RootPath), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("collector initialized", slog.String("root_path", c.RootPath()))

	opServer := operational.NewServer()
	opServer.Update(c.Snapshot())

	httpServer := &http.Server{
		Addr:         cfg.HealthAddr,
		Handler:      opServer.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("operational server listening", slog.String("addr", cfg.HealthAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("operational server error", slog.Any("error", err))
		}
	}()

	entriesDone := make(chan struct{})
	go runCollectLoop(c, s, opServer, logger, entriesDone)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	if err := w.Close(); err != nil {
		logger.Warn("watcher close error", slog.Any("error", err))
	}
	<-entriesDone
	if err := c.Close(); err != nil {
		logger.Warn("collector close error", slog.Any("error", err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("operational server shutdown error", slog.Any("error", err))
	}

	logger.Info("collector exited cleanly")
}

// runCollectLoop owns the Collector: it is the only goroutine that calls
// CollectEntries, satisfying the single-owner contract described in
// internal/collector. It exits when CollectEntries returns ErrClosed, which
// closing the Watcher triggers; main closes the Collector only after this
// loop has returned.
func runCollectLoop(c *collector.Collector, s sink.Sink, opServer *operational.Server, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		entries, err := c.CollectEntries()
		if err != nil {
			if errors.Is(err, watcher.ErrClosed) {
				return
			}
			logger.Error("collect entries failed", slog.Any("error", err))
			return
		}
		for _, e := range entries {
			if err := s.Accept(e.Path, e.Line); err != nil {
				logger.Warn("sink accept failed", slog.String("path", e.Path), slog.Any("error", err))
			}
		}
		opServer.Update(c.Snapshot())
	}
}

// buildSink constructs the configured Sink reference adapter.
func buildSink(cfg *config.Config) (sink.Sink, error) {
	switch cfg.Sink {
	case "sqlite":
		return sink.NewSQLite(cfg.SQLitePath)
	default:
		return sink.NewStdout(os.Stdout), nil
	}
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
