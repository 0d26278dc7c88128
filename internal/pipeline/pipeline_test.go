package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sunjian0523/whisper-jax/internal/audio"
	"github.com/sunjian0523/whisper-jax/internal/engine"
	"github.com/sunjian0523/whisper-jax/internal/metrics"
	"github.com/sunjian0523/whisper-jax/internal/stitch"
)

// stubEngine returns slot-keyed tokens so tests can predict the merged
// transcript. Padding slots get tokens too; the dispatcher must ignore
// them.
type stubEngine struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
	lastTask    string
	delay       time.Duration
	fail        bool
	perSlot     func(slot int) []int
}

func (e *stubEngine) Infer(ctx context.Context, req *engine.BatchRequest) (*engine.BatchResponse, error) {
	e.mu.Lock()
	e.calls++
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	e.lastTask = req.Task
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if e.fail {
		return nil, fmt.Errorf("engine unavailable")
	}

	outputs := make([]engine.ChunkOutput, len(req.Features))
	for j := range outputs {
		if e.perSlot != nil {
			outputs[j] = engine.ChunkOutput{Tokens: e.perSlot(j)}
		}
	}
	return &engine.BatchResponse{Outputs: outputs}, nil
}

func (e *stubEngine) stats() (calls, maxInFlight int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.maxInFlight
}

type stubDecoder struct {
	mu    sync.Mutex
	calls int
}

func (d *stubDecoder) DecodeTokens(_ context.Context, tokens []int) (string, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	var b strings.Builder
	for _, tok := range tokens {
		fmt.Fprintf(&b, " #%d", tok)
	}
	return b.String(), nil
}

func testPipeline(t *testing.T, eng engine.Engine, poolSize int) *Pipeline {
	t.Helper()

	pool, err := NewPool(poolSize)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	p, err := New(Config{
		ChunkLength:    30,
		StrideFraction: 1.0 / 6.0,
		BatchSize:      16,
		// Small token space so test tokens stay below the control range.
		Stitch: stitch.Config{SpecialBegin: 5000, TimestampBegin: 6000},
	},
		eng,
		&stubDecoder{},
		pool,
		metrics.NewMetrics(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return p
}

// sineWAV builds a mono 16kHz WAV of the given length.
func sineWAV(t *testing.T, seconds float64) []byte {
	t.Helper()

	n := int(seconds * 16000)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	data, err := audio.EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("failed to encode test WAV: %v", err)
	}
	return data
}

// zeroSampleWAV builds a valid WAV whose data chunk holds no samples.
func zeroSampleWAV(t *testing.T) []byte {
	t.Helper()

	header := audio.WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    16000,
		ByteRate:      32000,
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: 0,
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	return buf.Bytes()
}

func TestPipelineEmptyUpload(t *testing.T) {
	eng := &stubEngine{}
	p := testPipeline(t, eng, 4)

	transcript, err := p.TranscribeChunked(context.Background(), nil, Options{})
	if err != nil {
		t.Fatalf("TranscribeChunked failed: %v", err)
	}
	if transcript.Text != "" || len(transcript.Segments) != 0 {
		t.Errorf("empty upload produced output: %+v", transcript)
	}

	if calls, _ := eng.stats(); calls != 0 {
		t.Errorf("engine called %d times for empty upload", calls)
	}
}

func TestPipelineZeroSampleWAV(t *testing.T) {
	eng := &stubEngine{}
	p := testPipeline(t, eng, 4)

	transcript, err := p.TranscribeChunked(context.Background(), zeroSampleWAV(t), Options{})
	if err != nil {
		t.Fatalf("TranscribeChunked failed: %v", err)
	}
	if transcript.Text != "" {
		t.Errorf("zero-sample audio produced text %q", transcript.Text)
	}

	if calls, _ := eng.stats(); calls != 0 {
		t.Errorf("engine called %d times for zero-sample audio", calls)
	}
}

func TestPipelineChunkedTranscribe(t *testing.T) {
	// 45s of audio at 30s windows with 5s strides gives two chunks in a
	// single padded batch. Chunk 0 keeps all three of its tokens; chunk 1
	// loses its first token to the left stride.
	eng := &stubEngine{
		perSlot: func(slot int) []int {
			base := slot*10 + 1
			return []int{base, base + 1, base + 2}
		},
	}
	p := testPipeline(t, eng, 4)

	transcript, err := p.TranscribeChunked(context.Background(), sineWAV(t, 45), Options{})
	if err != nil {
		t.Fatalf("TranscribeChunked failed: %v", err)
	}

	want := " #1 #2 #3 #12 #13"
	if transcript.Text != want {
		t.Errorf("text = %q, want %q", transcript.Text, want)
	}

	if calls, _ := eng.stats(); calls != 1 {
		t.Errorf("engine called %d times, want 1", calls)
	}
}

func TestPipelineSingleWindow(t *testing.T) {
	eng := &stubEngine{
		perSlot: func(slot int) []int { return []int{7, 8} },
	}
	p := testPipeline(t, eng, 4)

	transcript, err := p.Transcribe(context.Background(), sineWAV(t, 10), Options{Task: engine.TaskTranslate})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if want := " #7 #8"; transcript.Text != want {
		t.Errorf("text = %q, want %q", transcript.Text, want)
	}

	calls, _ := eng.stats()
	if calls != 1 {
		t.Errorf("engine called %d times, want 1", calls)
	}
	if eng.lastTask != engine.TaskTranslate {
		t.Errorf("task = %q, want %q", eng.lastTask, engine.TaskTranslate)
	}
}

func TestPipelineSingleWindowTruncates(t *testing.T) {
	eng := &stubEngine{
		perSlot: func(slot int) []int { return []int{1} },
	}
	p := testPipeline(t, eng, 4)

	transcript, err := p.Transcribe(context.Background(), sineWAV(t, 35), Options{})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if want := " #1"; transcript.Text != want {
		t.Errorf("text = %q, want %q", transcript.Text, want)
	}
	if calls, _ := eng.stats(); calls != 1 {
		t.Errorf("engine called %d times, want 1", calls)
	}
}

func TestPipelineFailFast(t *testing.T) {
	eng := &stubEngine{fail: true}
	p := testPipeline(t, eng, 1)

	_, err := p.TranscribeChunked(context.Background(), sineWAV(t, 90), Options{BatchSize: 2})
	if err == nil {
		t.Fatal("expected engine failure to propagate")
	}
	if !strings.Contains(err.Error(), "engine unavailable") {
		t.Errorf("error %q should carry the engine message", err.Error())
	}
}

func TestPipelineConcurrencyBound(t *testing.T) {
	eng := &stubEngine{
		delay:   20 * time.Millisecond,
		perSlot: func(slot int) []int { return []int{1} },
	}
	p := testPipeline(t, eng, 2)

	// 90s yields five chunks; batch size 1 turns each into its own
	// engine call, all contending for two pool slots.
	_, err := p.TranscribeChunked(context.Background(), sineWAV(t, 90), Options{BatchSize: 1})
	if err != nil {
		t.Fatalf("TranscribeChunked failed: %v", err)
	}

	calls, maxInFlight := eng.stats()
	if calls != 5 {
		t.Errorf("engine called %d times, want 5", calls)
	}
	if maxInFlight > 2 {
		t.Errorf("max in-flight calls = %d, want at most 2", maxInFlight)
	}
}

func TestPipelineInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown task", Options{Task: "summarize"}},
		{"negative chunk length", Options{ChunkLength: -5}},
		{"chunk length beyond window", Options{ChunkLength: 31}},
		{"negative batch size", Options{BatchSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{}
			p := testPipeline(t, eng, 1)

			if _, err := p.TranscribeChunked(context.Background(), sineWAV(t, 1), tt.opts); err == nil {
				t.Error("expected options error")
			}
		})
	}
}

func TestPipelineInvalidAudio(t *testing.T) {
	eng := &stubEngine{}
	p := testPipeline(t, eng, 1)

	if _, err := p.TranscribeChunked(context.Background(), []byte("not a wav file"), Options{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewValidation(t *testing.T) {
	pool, err := NewPool(1)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	dec := &stubDecoder{}
	mtr := metrics.NewMetrics(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	valid := Config{ChunkLength: 30, StrideFraction: 1.0 / 6.0, BatchSize: 16}

	tests := []struct {
		name string
		cfg  Config
		eng  engine.Engine
		dec  engine.Decoder
		pool *Pool
	}{
		{"nil engine", valid, nil, dec, pool},
		{"nil decoder", valid, &stubEngine{}, nil, pool},
		{"nil pool", valid, &stubEngine{}, dec, nil},
		{"zero chunk length", Config{BatchSize: 16}, &stubEngine{}, dec, pool},
		{"stride fraction too large", Config{ChunkLength: 30, StrideFraction: 0.5, BatchSize: 16}, &stubEngine{}, dec, pool},
		{"zero batch size", Config{ChunkLength: 30}, &stubEngine{}, dec, pool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.eng, tt.dec, tt.pool, mtr, logger); err == nil {
				t.Error("expected constructor error")
			}
		})
	}
}

func TestPoolBounds(t *testing.T) {
	pool, err := NewPool(2)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), func() error {
				mu.Lock()
				current++
				if current > peak {
					peak = current
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				current--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Do failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", peak)
	}

	stats := pool.GetStats()
	if stats.Acquired != 8 {
		t.Errorf("acquired = %d, want 8", stats.Acquired)
	}
	if stats.InUse != 0 {
		t.Errorf("in use = %d after drain, want 0", stats.InUse)
	}
	if stats.MaxInUse > 2 {
		t.Errorf("max in use = %d, want at most 2", stats.MaxInUse)
	}

	pool.Close()
}

func TestPoolContextCancelled(t *testing.T) {
	pool, err := NewPool(1)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		pool.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Do(ctx, func() error { return nil }); err == nil {
		t.Error("expected context error while pool is full")
	}

	close(release)
}

func TestPoolClosed(t *testing.T) {
	pool, err := NewPool(2)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	pool.Close()

	doErr := pool.Do(context.Background(), func() error {
		t.Error("fn ran on a closed pool")
		return nil
	})
	if !errors.Is(doErr, ErrPoolClosed) {
		t.Errorf("Do after Close = %v, want ErrPoolClosed", doErr)
	}

	if got := pool.GetStats().Rejected; got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}

	// Closing twice must not panic or deadlock.
	pool.Close()
}

func TestNewPoolValidation(t *testing.T) {
	if _, err := NewPool(0); err == nil {
		t.Error("expected error for zero pool size")
	}
	if _, err := NewPool(-3); err == nil {
		t.Error("expected error for negative pool size")
	}
}
