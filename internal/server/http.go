package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sunjian0523/whisper-jax/internal/config"
	"github.com/sunjian0523/whisper-jax/internal/engine"
	"github.com/sunjian0523/whisper-jax/internal/metrics"
	"github.com/sunjian0523/whisper-jax/internal/pipeline"
	"github.com/sunjian0523/whisper-jax/internal/stitch"
)

// warnBothSources is surfaced when a request carries both a microphone
// capture and a file upload. The wording is shown to users verbatim.
const warnBothSources = "WARNING: You've uploaded an audio file and used the microphone. " +
	"The recorded file from the microphone will be used and the uploaded audio will be discarded.\n"

// multipartMemory is the in-memory threshold for parsing uploads;
// larger bodies spill to temporary files.
const multipartMemory = 32 << 20

// HTTPServer provides the transcription API and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	pipeline *pipeline.Pipeline
	engine   *engine.Client
	pool     *pipeline.Pool
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, pl *pipeline.Pipeline,
	eng *engine.Client, pool *pipeline.Pool, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		pipeline:  pl,
		engine:    eng,
		pool:      pool,
		metrics:   m,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)

	// Uploads can be large and inference can run for minutes, so only
	// the header read and idle phases carry fixed deadlines.
	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Transcription endpoint
	mux.HandleFunc("/transcribe", h.withMetrics("/transcribe", h.handleTranscribe))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Wrap the response writer to capture the status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// Handler returns the route handler for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// transcribeResponse is the JSON body of a successful transcription.
type transcribeResponse struct {
	Text     string        `json:"text"`
	Chunks   []chunkOutput `json:"chunks,omitempty"`
	RuntimeS float64       `json:"runtime_s"`
	Warning  string        `json:"warning,omitempty"`
}

// chunkOutput is one timestamped span of the transcript.
type chunkOutput struct {
	Timestamp [2]float64 `json:"timestamp"`
	Text      string     `json:"text"`
}

// handleTranscribe implements the POST /transcribe endpoint. The form
// may carry the audio as "microphone" or "file"; when both are present
// the microphone wins and the response carries a warning. Generation
// options arrive as ordinary form fields and fall back to configured
// defaults when absent.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.config.Server.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	audioData, warning, err := resolveSource(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts, chunked, err := parseOptions(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	var transcript *stitch.Transcript
	if chunked {
		transcript, err = h.pipeline.TranscribeChunked(r.Context(), audioData, opts)
	} else {
		transcript, err = h.pipeline.Transcribe(r.Context(), audioData, opts)
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := transcribeResponse{
		Text:     transcript.Text,
		RuntimeS: time.Since(start).Seconds(),
		Warning:  warning,
	}
	if opts.ReturnTimestamps {
		resp.Chunks = make([]chunkOutput, 0, len(transcript.Segments))
		for _, seg := range transcript.Segments {
			resp.Chunks = append(resp.Chunks, chunkOutput{
				Timestamp: [2]float64{seg.Start, seg.End},
				Text:      seg.Text,
			})
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// resolveSource picks the audio bytes for a request. A missing field is
// not an error; having neither source is.
func resolveSource(r *http.Request) ([]byte, string, error) {
	mic, err := formFileBytes(r, "microphone")
	if err != nil {
		return nil, "", fmt.Errorf("failed to read microphone upload: %w", err)
	}

	upload, err := formFileBytes(r, "file")
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file upload: %w", err)
	}

	switch {
	case mic != nil && upload != nil:
		return mic, warnBothSources, nil
	case mic != nil:
		return mic, "", nil
	case upload != nil:
		return upload, "", nil
	default:
		return nil, "", pipeline.ErrNoInput
	}
}

// formFileBytes reads one uploaded file from the form, or returns nil
// when the field is absent.
func formFileBytes(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// parseOptions reads the generation options from the form. Requests are
// chunked unless the "chunked" field turns it off.
func parseOptions(r *http.Request) (pipeline.Options, bool, error) {
	var opts pipeline.Options
	opts.Task = r.FormValue("task")

	chunked := true
	if v := r.FormValue("chunked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, false, fmt.Errorf("invalid chunked value %q", v)
		}
		chunked = b
	}

	if v := r.FormValue("return_timestamps"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, false, fmt.Errorf("invalid return_timestamps value %q", v)
		}
		opts.ReturnTimestamps = b
	}

	if v := r.FormValue("chunk_length_s"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, false, fmt.Errorf("invalid chunk_length_s value %q", v)
		}
		opts.ChunkLength = f
	}

	if v := r.FormValue("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, false, fmt.Errorf("invalid batch_size value %q", v)
		}
		opts.BatchSize = n
	}

	return opts, chunked, nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	engineStats := h.engine.GetStats()
	poolStats := h.pool.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "whisper-jax-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"engine": map[string]interface{}{
				"status":         "running",
				"endpoint":       h.config.Engine.Endpoint,
				"total_requests": engineStats.TotalRequests,
				"success_rate":   engineStats.SuccessRate,
			},
			"pool": map[string]interface{}{
				"status": "running",
				"size":   poolStats.Size,
				"in_use": poolStats.InUse,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port":             h.config.Server.Port,
			"address":          h.config.Server.Address,
			"max_upload_mb":    h.config.Server.MaxUploadMB,
			"shutdown_timeout": h.config.Server.ShutdownTimeout,
		},
		"pipeline": map[string]interface{}{
			"chunk_length":    h.config.Pipeline.ChunkLength,
			"stride_fraction": h.config.Pipeline.StrideFraction,
			"batch_size":      h.config.Pipeline.BatchSize,
			"workers":         h.config.Pipeline.Workers,
		},
		"engine": map[string]interface{}{
			"endpoint": h.config.Engine.Endpoint,
			"timeout":  h.config.Engine.Timeout,
			// Note: API key is intentionally omitted for security
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"engine":    h.engine.GetStats(),
		"pool":      h.pool.GetStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Whisper JAX Transcription Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"POST /transcribe": "Transcribe or translate an uploaded audio file",
			"GET /health":      "Service health check",
			"GET /config":      "Get service configuration",
			"GET /stats":       "Get engine and pool statistics",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
