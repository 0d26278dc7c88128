package chunk

import (
	"fmt"
	"math"
	"testing"

	"github.com/sunjian0523/whisper-jax/internal/audio"
)

// fakeExtractor produces a 1x1 feature matrix carrying the window sample
// count, so tests can verify window geometry without paying for the FFT.
type fakeExtractor struct {
	fail bool
}

func (f *fakeExtractor) Extract(samples []float32) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("extractor exploded")
	}
	return [][]float32{{float32(len(samples))}}, nil
}

func makeSignal(t *testing.T, seconds float64, rate int) *audio.Signal {
	t.Helper()
	return &audio.Signal{
		Samples:    make([]float32, int(seconds*float64(rate))),
		SampleRate: rate,
	}
}

func collectChunks(t *testing.T, c *Chunker) []*Chunk {
	t.Helper()
	var chunks []*Chunk
	it := c.Chunks()
	for it.Next() {
		chunks = append(chunks, it.Chunk())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return chunks
}

func TestChunkerShortSignal(t *testing.T) {
	// A signal shorter than one chunk yields exactly one chunk with both
	// strides zero.
	signal := makeSignal(t, 10, 16000)
	chunker, err := NewChunker(signal, &fakeExtractor{}, 30, DefaultStrideFraction)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks := collectChunks(t, chunker)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}

	c := chunks[0]
	if !c.IsFirst || !c.IsLast {
		t.Errorf("Expected single chunk to be both first and last, got first=%v last=%v", c.IsFirst, c.IsLast)
	}
	if c.StrideLeft != 0 || c.StrideRight != 0 {
		t.Errorf("Expected zero strides, got left=%f right=%f", c.StrideLeft, c.StrideRight)
	}
	if math.Abs(c.ChunkLen-10) > 1e-9 {
		t.Errorf("Expected chunk length 10s, got %f", c.ChunkLen)
	}
	if c.Offset != 0 {
		t.Errorf("Expected offset 0, got %f", c.Offset)
	}
}

func TestChunkerTwoChunks(t *testing.T) {
	// 45s of audio with 30s chunks and a stride fraction of 1/8 (3.75s of
	// overlap per side) must produce exactly two chunks.
	signal := makeSignal(t, 45, 16000)
	chunker, err := NewChunker(signal, &fakeExtractor{}, 30, 1.0/8.0)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks := collectChunks(t, chunker)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}

	first, second := chunks[0], chunks[1]

	if first.StrideLeft != 0 {
		t.Errorf("First chunk: expected stride_left 0, got %f", first.StrideLeft)
	}
	if math.Abs(first.StrideRight-3.75) > 1e-9 {
		t.Errorf("First chunk: expected stride_right 3.75, got %f", first.StrideRight)
	}
	if first.IsLast {
		t.Error("First chunk must not be last")
	}
	if math.Abs(first.ChunkLen-30) > 1e-9 {
		t.Errorf("First chunk: expected length 30s, got %f", first.ChunkLen)
	}

	if math.Abs(second.StrideLeft-3.75) > 1e-9 {
		t.Errorf("Second chunk: expected stride_left 3.75, got %f", second.StrideLeft)
	}
	if second.StrideRight != 0 {
		t.Errorf("Second chunk: expected stride_right 0, got %f", second.StrideRight)
	}
	if !second.IsLast {
		t.Error("Second chunk must be last")
	}
	if math.Abs(second.Offset-22.5) > 1e-9 {
		t.Errorf("Second chunk: expected offset 22.5, got %f", second.Offset)
	}
	if math.Abs(second.ChunkLen-22.5) > 1e-9 {
		t.Errorf("Second chunk: expected length 22.5s, got %f", second.ChunkLen)
	}
}

func TestChunkerEmptySignal(t *testing.T) {
	signal := makeSignal(t, 0, 16000)
	chunker, err := NewChunker(signal, &fakeExtractor{}, 30, DefaultStrideFraction)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	chunks := collectChunks(t, chunker)
	if len(chunks) != 0 {
		t.Errorf("Expected no chunks for empty signal, got %d", len(chunks))
	}

	if got := chunker.Count(); got != 0 {
		t.Errorf("Expected Count 0, got %d", got)
	}
}

func TestChunkerCoverage(t *testing.T) {
	// Core regions (chunk length minus both strides) must tile the signal
	// exactly: no gaps, no double counting.
	tests := []struct {
		name     string
		seconds  float64
		chunkLen float64
		fraction float64
	}{
		{name: "single chunk", seconds: 12, chunkLen: 30, fraction: 1.0 / 6.0},
		{name: "two chunks", seconds: 45, chunkLen: 30, fraction: 1.0 / 8.0},
		{name: "many chunks", seconds: 321, chunkLen: 30, fraction: 1.0 / 6.0},
		{name: "exact chunk length", seconds: 30, chunkLen: 30, fraction: 1.0 / 6.0},
		{name: "no overlap", seconds: 90, chunkLen: 30, fraction: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := makeSignal(t, tt.seconds, 16000)
			chunker, err := NewChunker(signal, &fakeExtractor{}, tt.chunkLen, tt.fraction)
			if err != nil {
				t.Fatalf("NewChunker failed: %v", err)
			}

			chunks := collectChunks(t, chunker)
			var covered float64
			for i, c := range chunks {
				covered += c.ChunkLen - c.StrideLeft - c.StrideRight
				if c.Index != i {
					t.Errorf("Chunk %d has index %d", i, c.Index)
				}
			}

			if math.Abs(covered-tt.seconds) > 1e-6 {
				t.Errorf("Core regions cover %fs of a %fs signal", covered, tt.seconds)
			}

			if got := chunker.Count(); got != len(chunks) {
				t.Errorf("Count() = %d but iterator yielded %d", got, len(chunks))
			}
		})
	}
}

func TestChunkerRestartable(t *testing.T) {
	signal := makeSignal(t, 75, 16000)
	chunker, err := NewChunker(signal, &fakeExtractor{}, 30, DefaultStrideFraction)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	first := collectChunks(t, chunker)
	second := collectChunks(t, chunker)

	if len(first) == 0 {
		t.Fatal("Expected chunks on first pass")
	}
	if len(first) != len(second) {
		t.Fatalf("Restarted iteration yielded %d chunks, first pass %d", len(second), len(first))
	}

	for i := range first {
		a, b := first[i], second[i]
		if a.Index != b.Index || a.Offset != b.Offset || a.ChunkLen != b.ChunkLen ||
			a.StrideLeft != b.StrideLeft || a.StrideRight != b.StrideRight {
			t.Errorf("Chunk %d differs between passes: %+v vs %+v", i, a, b)
		}
	}
}

func TestChunkerExtractorError(t *testing.T) {
	signal := makeSignal(t, 45, 16000)
	chunker, err := NewChunker(signal, &fakeExtractor{fail: true}, 30, DefaultStrideFraction)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}

	it := chunker.Chunks()
	if it.Next() {
		t.Error("Expected Next to fail with a broken extractor")
	}
	if it.Err() == nil {
		t.Error("Expected iteration error")
	}
}

func TestNewChunkerValidation(t *testing.T) {
	signal := makeSignal(t, 10, 16000)
	extractor := &fakeExtractor{}

	tests := []struct {
		name      string
		signal    *audio.Signal
		extractor FeatureExtractor
		chunkLen  float64
		fraction  float64
	}{
		{name: "nil signal", signal: nil, extractor: extractor, chunkLen: 30, fraction: 0.1},
		{name: "nil extractor", signal: signal, extractor: nil, chunkLen: 30, fraction: 0.1},
		{name: "zero chunk length", signal: signal, extractor: extractor, chunkLen: 0, fraction: 0.1},
		{name: "negative fraction", signal: signal, extractor: extractor, chunkLen: 30, fraction: -0.1},
		{name: "fraction at half", signal: signal, extractor: extractor, chunkLen: 30, fraction: 0.5},
		{
			name:      "strides swallow the step",
			signal:    &audio.Signal{Samples: make([]float32, 2), SampleRate: 1},
			extractor: extractor,
			chunkLen:  2,
			fraction:  0.49,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewChunker(tt.signal, tt.extractor, tt.chunkLen, tt.fraction); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}
