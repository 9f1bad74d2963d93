package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-transcriber/internal/config"
	"live-transcriber/internal/diagnostics"
	"live-transcriber/internal/domain"
	"live-transcriber/internal/metrics"
	"live-transcriber/internal/queue"
	"live-transcriber/internal/retry"
	"live-transcriber/internal/server"
	"live-transcriber/internal/session"
	"live-transcriber/internal/transcribe"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transcription service (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	checker := diagnostics.NewChecker()
	report := checker.Run(cfg.Pipeline)
	for _, item := range report.Items {
		if item.Status == domain.DiagnosticStatusFail {
			logger.Warn("startup check failed",
				slog.String("check", item.Name),
				slog.String("message", item.Message),
			)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	pipeline := transcribe.NewPipeline(transcribe.Options{
		FFmpegPath:       cfg.Pipeline.FFmpegPath,
		WhisperPath:      cfg.Pipeline.WhisperPath,
		ModelPath:        cfg.Pipeline.ModelPath,
		ScratchDir:       cfg.Pipeline.ScratchDir,
		NormalizeTimeout: cfg.Pipeline.GetNormalizeTimeout(),
		InferTimeout:     cfg.Pipeline.GetInferTimeout(),
	})

	runner := retry.NewRunner(retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.GetBaseDelay(),
		MaxDelay:    cfg.Retry.GetMaxDelay(),
	}, pipeline)
	runner.OnRetry(func(attempt int, err error) {
		m.RetryScheduled()
		logger.Warn("retrying chunk",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	})

	state := session.NewState(cfg.Session.MaxErrors, cfg.Session.MaxEvents)
	q := queue.New(runner, state, m, logger)

	var reportMu sync.Mutex
	srv := server.New(server.Deps{
		Config:  cfg,
		Queue:   q,
		Session: state,
		Invoker: pipeline,
		Diagnostics: func() domain.DiagnosticReport {
			reportMu.Lock()
			defer reportMu.Unlock()
			return checker.Run(cfg.Pipeline)
		},
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down, draining backlog")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", slog.String("error", err.Error()))
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), 2*cfg.Pipeline.GetInferTimeout())
		defer cancelDrain()
		return q.Close(drainCtx)
	})

	return group.Wait()
}

// newLogger builds the slog logger selected by the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
