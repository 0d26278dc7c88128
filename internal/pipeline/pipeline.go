package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sunjian0523/whisper-jax/internal/audio"
	"github.com/sunjian0523/whisper-jax/internal/chunk"
	"github.com/sunjian0523/whisper-jax/internal/engine"
	"github.com/sunjian0523/whisper-jax/internal/features"
	"github.com/sunjian0523/whisper-jax/internal/metrics"
	"github.com/sunjian0523/whisper-jax/internal/stitch"
)

// ErrNoInput is returned when a transcription request carries no audio
// source at all. The message is surfaced to clients verbatim.
var ErrNoInput = errors.New("ERROR: You have to either use the microphone or upload an audio file")

// Config holds the pipeline defaults applied when a request does not
// override them.
type Config struct {
	ChunkLength    float64 // seconds of audio per window
	StrideFraction float64 // per-side overlap share of the window
	BatchSize      int     // chunks per inference call
	Stitch         stitch.Config
}

// Validate checks the pipeline configuration
func (c Config) Validate() error {
	if c.ChunkLength <= 0 {
		return fmt.Errorf("chunk length must be positive, got %f", c.ChunkLength)
	}
	if c.StrideFraction < 0 || c.StrideFraction >= 0.5 {
		return fmt.Errorf("stride fraction must be in [0, 0.5), got %f", c.StrideFraction)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Options control one transcription request. Zero values fall back to
// the pipeline configuration.
type Options struct {
	Task             string
	ReturnTimestamps bool
	ChunkLength      float64
	BatchSize        int
}

// Pipeline turns uploaded audio into transcripts. It is safe for
// concurrent use; all requests share the inference pool.
type Pipeline struct {
	cfg      Config
	engine   engine.Engine
	stitcher *stitch.Stitcher
	pool     *Pool
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New wires a pipeline together. The engine runs inference, dec renders
// tokens as text, and pool bounds concurrent engine calls.
func New(cfg Config, eng engine.Engine, dec engine.Decoder, pool *Pool, mtr *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("inference pool is required")
	}
	if mtr == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stitcher, err := stitch.New(cfg.Stitch, dec)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		engine:   eng,
		stitcher: stitcher,
		pool:     pool,
		metrics:  mtr,
		logger:   logger,
	}, nil
}

// TranscribeChunked runs the full chunked pipeline on an uploaded file:
// decode, chunk with overlap, batch, infer, stitch. Empty uploads and
// silent files produce an empty transcript without error.
func (p *Pipeline) TranscribeChunked(ctx context.Context, data []byte, opts Options) (*stitch.Transcript, error) {
	return p.run(ctx, data, opts, true)
}

// Transcribe sends the upload through the engine as one window without
// chunking. Audio beyond the model window is dropped.
func (p *Pipeline) Transcribe(ctx context.Context, data []byte, opts Options) (*stitch.Transcript, error) {
	return p.run(ctx, data, opts, false)
}

func (p *Pipeline) run(ctx context.Context, data []byte, opts Options, chunked bool) (*stitch.Transcript, error) {
	logger := p.logger.With(
		slog.String("request_id", uuid.NewString()),
		slog.Bool("chunked", chunked),
	)

	p.metrics.RequestStarted()
	defer p.metrics.RequestFinished()

	start := time.Now()
	transcript, err := p.process(ctx, logger, data, opts, chunked)
	elapsed := time.Since(start)

	if err != nil {
		p.metrics.RecordRequestFailure(elapsed.Seconds())
		logger.Error("transcription failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed))
		return nil, err
	}

	p.metrics.RecordRequestSuccess(elapsed.Seconds())
	logger.Info("transcription complete",
		slog.Int("chars", len(transcript.Text)),
		slog.Int("segments", len(transcript.Segments)),
		slog.Duration("elapsed", elapsed))
	return transcript, nil
}

func (p *Pipeline) process(ctx context.Context, logger *slog.Logger, data []byte, opts Options, chunked bool) (*stitch.Transcript, error) {
	opts, err := p.fillOptions(opts)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return &stitch.Transcript{}, nil
	}

	signal, err := audio.Decode(data, features.SampleRate)
	if err != nil {
		p.metrics.RecordAudioDecodeError()
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}

	duration := signal.Duration()
	p.metrics.RecordAudioDuration(duration)
	logger.Info("audio decoded",
		slog.Float64("duration_s", duration),
		slog.Int("samples", len(signal.Samples)))

	if len(signal.Samples) == 0 {
		return &stitch.Transcript{}, nil
	}

	var results []stitch.Result
	if chunked {
		results, err = p.chunkedResults(ctx, logger, signal, opts)
	} else {
		results, err = p.singleResult(ctx, logger, signal, opts)
	}
	if err != nil {
		return nil, err
	}

	stitchStart := time.Now()
	transcript, err := p.stitcher.Stitch(ctx, results, opts.ReturnTimestamps)
	if err != nil {
		return nil, err
	}
	p.metrics.RecordStitch(time.Since(stitchStart).Seconds())

	return transcript, nil
}

// fillOptions applies pipeline defaults and validates the result.
func (p *Pipeline) fillOptions(opts Options) (Options, error) {
	if opts.Task == "" {
		opts.Task = engine.TaskTranscribe
	}
	if opts.ChunkLength == 0 {
		opts.ChunkLength = p.cfg.ChunkLength
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = p.cfg.BatchSize
	}

	if opts.Task != engine.TaskTranscribe && opts.Task != engine.TaskTranslate {
		return opts, fmt.Errorf("unknown task %q", opts.Task)
	}
	if opts.ChunkLength <= 0 {
		return opts, fmt.Errorf("chunk length must be positive, got %f", opts.ChunkLength)
	}
	if opts.ChunkLength > features.WindowSecs {
		return opts, fmt.Errorf("chunk length %gs exceeds the %ds model window", opts.ChunkLength, features.WindowSecs)
	}
	if opts.BatchSize <= 0 {
		return opts, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	return opts, nil
}

// chunkedResults cuts the signal into overlapping windows, extracts
// features, and dispatches the batches.
func (p *Pipeline) chunkedResults(ctx context.Context, logger *slog.Logger, signal *audio.Signal, opts Options) ([]stitch.Result, error) {
	chunker, err := chunk.NewChunker(signal, features.NewExtractor(), opts.ChunkLength, p.cfg.StrideFraction)
	if err != nil {
		return nil, err
	}

	batcher, err := chunk.NewBatcher(chunker.Chunks(), opts.BatchSize)
	if err != nil {
		return nil, err
	}

	var (
		batches []*chunk.Batch
		chunks  int
	)
	for batcher.Next() {
		b := batcher.Batch()
		p.metrics.RecordBatch(len(b.Chunks) - b.Real)
		chunks += b.Real
		batches = append(batches, b)
	}
	if err := batcher.Err(); err != nil {
		return nil, err
	}
	p.metrics.RecordChunks(chunks)

	logger.Info("audio chunked",
		slog.Int("chunks", chunks),
		slog.Int("batches", len(batches)),
		slog.Float64("chunk_length_s", opts.ChunkLength),
		slog.Int("batch_size", opts.BatchSize))

	return p.runBatches(ctx, batches, opts.Task, opts.ReturnTimestamps)
}

// singleResult extracts one window of features and runs it as a batch of
// one through the pool.
func (p *Pipeline) singleResult(ctx context.Context, logger *slog.Logger, signal *audio.Signal, opts Options) ([]stitch.Result, error) {
	samples := signal.Samples
	if len(samples) > features.NumSamples {
		logger.Warn("audio exceeds model window, truncating",
			slog.Float64("duration_s", signal.Duration()),
			slog.Int("window_s", features.WindowSecs))
		samples = samples[:features.NumSamples]
	}

	feats, err := features.NewExtractor().Extract(samples)
	if err != nil {
		return nil, err
	}

	var resp *engine.BatchResponse
	err = p.pool.Do(ctx, func() error {
		start := time.Now()
		r, inferErr := p.engine.Infer(ctx, &engine.BatchRequest{
			Features:         [][][]float32{feats},
			Task:             opts.Task,
			ReturnTimestamps: opts.ReturnTimestamps,
		})
		elapsed := time.Since(start).Seconds()
		if inferErr != nil {
			p.metrics.RecordInferenceFailure(elapsed)
			return inferErr
		}
		p.metrics.RecordInferenceSuccess(elapsed)
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Outputs) == 0 {
		return nil, fmt.Errorf("engine returned no output")
	}

	return []stitch.Result{{
		Index:    0,
		Tokens:   resp.Outputs[0].Tokens,
		ChunkLen: float64(len(samples)) / float64(signal.SampleRate),
	}}, nil
}
