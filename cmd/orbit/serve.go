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

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/martinemde/orbit/history"
	"github.com/martinemde/orbit/httpapi"
	"github.com/martinemde/orbit/llm"
	"github.com/martinemde/orbit/loop"
	"github.com/martinemde/orbit/tools"
)

type serveConfig struct {
	Addr          string `env:"ORBIT_ADDR" envDefault:":8080"`
	DBPath        string `env:"ORBIT_DB" envDefault:"orbit.db"`
	Model         string `env:"ORBIT_MODEL"`
	MaxSteps      int    `env:"ORBIT_MAX_STEPS"`
	Confirm       bool   `env:"ORBIT_CONFIRM"`
	ShowReasoning bool   `env:"ORBIT_SHOW_REASONING"`
	ArtifactDir   string `env:"ORBIT_ARTIFACT_DIR" envDefault:"artifacts"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the loop API over HTTP",
	Long: `Serve exposes loops over HTTP: start, inspect, stream, resume,
cancel. Configuration comes from the environment:

  ORBIT_ADDR            listen address (default :8080)
  ORBIT_DB              SQLite history path (default orbit.db)
  ORBIT_MODEL           default model for new loops
  ORBIT_MAX_STEPS       default step limit for new loops
  ORBIT_CONFIRM         gate every tool round behind the resume endpoint
  ORBIT_SHOW_REASONING  emit reasoning events
  ORBIT_ARTIFACT_DIR    directory for create_artifact output (default artifacts)
  ORBIT_RATES           YAML pricing table overriding the built-in rates
  ORBIT_PROVIDER        default completion provider
  LOG_LEVEL             debug, info, warn, error (default info)
  LOG_FORMAT            json or text (default text)

Provider credentials: ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY
or GOOGLE_API_KEY, OLLAMA_HOST.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg serveConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	logger := newLogger(os.Stdout)

	client, err := llm.NewFromEnv(logger)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := history.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer store.Close()

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg, tools.BuiltinOptions{ArtifactDir: cfg.ArtifactDir}); err != nil {
		return err
	}

	base := loop.Config{
		Client:        client,
		Model:         resolveModel(cfg.Model),
		MaxSteps:      cfg.MaxSteps,
		Tools:         reg,
		Confirm:       cfg.Confirm,
		ShowReasoning: cfg.ShowReasoning,
		Logger:        logger,
	}
	table, err := loadRates()
	if err != nil {
		return err
	}
	base.Rates = table

	mgr := httpapi.NewManager(base, store, logger)
	handler := httpapi.NewRouter(httpapi.Deps{
		Manager:   mgr,
		Logger:    logger,
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening",
			"addr", cfg.Addr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("loop shutdown error", "error", err)
	}
	return nil
}
