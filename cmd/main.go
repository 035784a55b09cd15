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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pdf-rag/internal/app"
	"pdf-rag/internal/config"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

const configFilePath = "./configs/config.yaml"

var (
	configPath  string
	metricsAddr string
	verbose     bool

	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorMessage(err))
		os.Exit(1)
	}
}

// appError marks a failure raised by the pipeline. Its message is replaced by
// models.UserMessage; every other error, such as a bad flag or config file,
// is printed as is.
type appError struct{ err error }

func (e appError) Error() string { return e.err.Error() }
func (e appError) Unwrap() error { return e.err }

func errorMessage(err error) string {
	var ae appError
	if errors.As(err, &ae) {
		return models.UserMessage(ae.err)
	}
	return err.Error()
}

var rootCmd = &cobra.Command{
	Use:   "pdf-rag",
	Short: "Ask questions about your PDF documents",
	Long: `pdf-rag ingests PDF files into a vector index and answers questions
using only the text found in them.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configFilePath, "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		setupLogging("info", true)
		log.Error().Err(err).Str("path", configPath).Msg("Error loading config")
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	setupLogging(level, cfg.Log.Console)
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")

	if metricsAddr != "" {
		serveMetrics(metricsAddr)
	}
	return nil
}

func setupLogging(level string, console bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
}

// withApp builds the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Error initializing application")
		return appError{err}
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing application")
		}
	}()
	if err := fn(ctx, a); err != nil {
		return appError{err}
	}
	return nil
}
