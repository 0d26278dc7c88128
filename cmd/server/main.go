package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunjian0523/whisper-jax/internal/config"
	"github.com/sunjian0523/whisper-jax/internal/engine"
	"github.com/sunjian0523/whisper-jax/internal/metrics"
	"github.com/sunjian0523/whisper-jax/internal/pipeline"
	"github.com/sunjian0523/whisper-jax/internal/server"
)

const (
	defaultConfigPath = "config.yaml"
	serviceName       = "whisper-jax-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// A .env file can seed the environment before flags and config are
	// read; a missing file is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("WHISPER_CONFIG", defaultConfigPath), "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Deploy-time settings may come from the environment instead of the
	// config file.
	if v := os.Getenv("ENGINE_ENDPOINT"); v != "" {
		cfg.Engine.Endpoint = v
	}
	if v := os.Getenv("ENGINE_API_KEY"); v != "" {
		cfg.Engine.APIKey = v
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("address", cfg.Server.Address),
		slog.Int("max_upload_mb", cfg.Server.MaxUploadMB),
		slog.Float64("chunk_length", cfg.Pipeline.ChunkLength),
		slog.Float64("stride_fraction", cfg.Pipeline.StrideFraction),
		slog.Int("batch_size", cfg.Pipeline.BatchSize),
		slog.Int("workers", cfg.Pipeline.Workers),
		slog.String("engine_endpoint", cfg.Engine.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Initialize the inference engine client
	engineClient, err := engine.NewClient(engine.Config{
		Endpoint: cfg.Engine.Endpoint,
		APIKey:   cfg.Engine.APIKey,
		Timeout:  cfg.Engine.GetTimeoutDuration(),
	})
	if err != nil {
		logger.Error("Failed to create engine client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Engine client initialized",
		slog.String("endpoint", cfg.Engine.Endpoint),
		slog.Duration("timeout", cfg.Engine.GetTimeoutDuration()),
	)

	// Initialize the shared inference pool
	pool, err := pipeline.NewPool(cfg.Pipeline.Workers)
	if err != nil {
		logger.Error("Failed to create inference pool", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize the transcription pipeline
	pl, err := pipeline.New(pipeline.Config{
		ChunkLength:    cfg.Pipeline.ChunkLength,
		StrideFraction: cfg.Pipeline.StrideFraction,
		BatchSize:      cfg.Pipeline.BatchSize,
	}, engineClient, engineClient, pool, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Transcription pipeline initialized",
		slog.Float64("chunk_length", cfg.Pipeline.ChunkLength),
		slog.Int("batch_size", cfg.Pipeline.BatchSize),
		slog.Int("workers", cfg.Pipeline.Workers),
	)

	// Initialize and start the HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, pl, engineClient, pool, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop the HTTP server first so in-flight requests can finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Release the pool and the engine connections
	pool.Close()
	if err := engineClient.Close(); err != nil {
		logger.Error("Error closing engine client", slog.String("error", err.Error()))
	}

	// Get final statistics
	stats := engineClient.GetStats()
	logger.Info("Final engine statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Float64("success_rate", stats.SuccessRate),
		slog.Uint64("bytes_sent", stats.BytesSent),
	)

	logger.Info("Service stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
