package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/einvoicetw/captcha-solver/internal/audio"
	"github.com/einvoicetw/captcha-solver/internal/browser"
	"github.com/einvoicetw/captcha-solver/internal/captcha"
	"github.com/einvoicetw/captcha-solver/internal/config"
	"github.com/einvoicetw/captcha-solver/internal/fetch"
	"github.com/einvoicetw/captcha-solver/internal/observability"
	"github.com/einvoicetw/captcha-solver/internal/stt"
)

// solveOutput is printed to stdout on success, one JSON object per run.
type solveOutput struct {
	Code     string `json:"code"`
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("login_url", cfg.LoginURL).
		Str("stt_provider", cfg.STTProvider).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("CAPTCHA solver starting")

	// Cancel the solve on SIGINT/SIGTERM so the browser session and scratch
	// audio are torn down before exit.
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		logger.Warn().Str("signal", sig.String()).Msg("Interrupt received, cancelling solve")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("Solver run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := observability.GetLogger()

	transcriber, err := stt.New(cfg)
	if err != nil {
		return err
	}

	transcoder := audio.NewFFmpegTranscoder(cfg.FFmpegPath)
	if !transcoder.Available() {
		logger.Warn().Str("path", cfg.FFmpegPath).Msg("Transcoder not found, challenge audio will be transcribed as downloaded")
	}

	downloader := fetch.NewClient(cfg.FetchTimeout)

	if cfg.MetricsEnabled {
		shutdown := startMetricsServer(cfg, transcoder, transcriber)
		defer shutdown()
	}

	// Provisions the Playwright driver and Chromium on first run; later runs
	// verify the existing installation.
	if err := browser.Install(); err != nil {
		logger.Warn().Err(err).Msg("Browser install check failed, continuing with existing installation")
	}

	session, err := browser.NewSession(browser.Options{
		Headless:       cfg.BrowserHeadless,
		ExecutablePath: cfg.BrowserExecutable,
		UserAgent:      cfg.BrowserUserAgent,
		ViewportWidth:  cfg.BrowserWidth,
		ViewportHeight: cfg.BrowserHeight,
		NavTimeout:     cfg.NavTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close browser session")
		}
	}()

	logger.Info().Str("url", cfg.LoginURL).Msg("Opening login page")
	if err := session.Goto(cfg.LoginURL); err != nil {
		return err
	}

	resolver := captcha.NewResolver(cfg, downloader, transcoder, transcriber)
	code, err := resolver.Solve(ctx, session)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(solveOutput{
		Code:     code,
		Provider: transcriber.Name(),
		URL:      session.URL(),
	})
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))

	return nil
}

// startMetricsServer serves /health, /ready, and /metrics while a solve is
// in flight. Returns the shutdown function.
func startMetricsServer(cfg *config.Config, transcoder audio.Transcoder, transcriber stt.Transcriber) func() {
	logger := observability.GetLogger()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"transcoder": func(ctx context.Context) (bool, error) {
			if !transcoder.Available() {
				return false, fmt.Errorf("transcoder binary not found")
			}
			return true, nil
		},
		"stt": func(ctx context.Context) (bool, error) {
			if transcriber == nil {
				return false, fmt.Errorf("no transcriber configured")
			}
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.MetricsPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.MetricsPort).Msg("Metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server forced to shutdown")
		}
	}
}
