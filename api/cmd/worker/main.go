package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"glm-ocr/api/internal/config"
	"glm-ocr/api/internal/handle"
	"glm-ocr/api/internal/httpserver"
	"glm-ocr/api/internal/logger"
	"glm-ocr/api/internal/ocr"
	"glm-ocr/api/internal/ocr/gemini"
	"glm-ocr/api/internal/ocr/ollama"
	"glm-ocr/api/internal/ocr/openai"
	"glm-ocr/api/internal/runpod"
)

var (
	configPath string
	serveAPI   bool
	port       string
	backend    string
)

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "GLM-OCR serverless worker",
	Long:          "Loads the OCR model once and serves jobs from the hosting platform, or a local /runsync API.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML config file (default $CONFIG_FILE)")
	rootCmd.Flags().BoolVar(&serveAPI, "rp_serve_api", false, "serve a local HTTP API instead of pulling platform jobs")
	rootCmd.Flags().StringVar(&port, "port", "", "local API port (default $PORT or 8000)")
	rootCmd.Flags().StringVar(&backend, "backend", "", "model backend: openai | ollama | gemini (default $OCR_BACKEND)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serveAPI {
		cfg.Mode = "api"
	}
	if port != "" {
		cfg.Port = port
	}
	if backend != "" {
		cfg.Backend = backend
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
	svc, err := ocr.NewService(loadCtx, gen, ocr.NewImageResolver(cfg.FetchTimeout, cfg.MaxImageBytes), log)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if cfg.Mode == "api" {
		return serveLocalAPI(ctx, cfg, svc, log)
	}
	return serveJobs(ctx, cfg, svc, log)
}

func newGenerator(cfg *config.Config) (ocr.Generator, error) {
	switch cfg.Backend {
	case "openai":
		return openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Model), nil
	case "ollama":
		return ollama.New(cfg.OllamaHost, cfg.Model, cfg.OllamaPull)
	case "gemini":
		return gemini.New(cfg.GeminiAPIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func serveLocalAPI(ctx context.Context, cfg *config.Config, svc *ocr.Service, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	handle.New(svc, log).Routes(mux)
	return httpserver.Serve(ctx, ":"+cfg.Port, mux, log)
}

func serveJobs(ctx context.Context, cfg *config.Config, svc *ocr.Service, log *zap.SugaredLogger) error {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	w, err := runpod.NewWorker(runpod.WorkerConfig{
		JobGetURL:    cfg.JobGetURL,
		JobDoneURL:   cfg.JobDoneURL,
		PingURL:      cfg.PingURL,
		PingInterval: cfg.PingInterval,
		WorkerID:     workerID,
		APIKey:       cfg.WorkerAPIKey,
	}, svc, log)
	if err != nil {
		return err
	}

	go func() {
		body := fmt.Sprintf("ok %s/%s", svc.Backend(), svc.Model())
		if err := httpserver.Serve(ctx, ":"+cfg.Port, httpserver.HealthMux(body), log); err != nil {
			log.Warnw("health server stopped", "err", err)
		}
	}()
	return w.Run(ctx)
}
