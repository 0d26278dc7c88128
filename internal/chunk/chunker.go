package chunk

import (
	"fmt"
	"math"

	"github.com/sunjian0523/whisper-jax/internal/audio"
)

// DefaultStrideFraction is the share of the chunk length reserved as
// overlap context on each side of a window.
const DefaultStrideFraction = 1.0 / 6.0

// FeatureExtractor converts one window of samples into fixed-shape model
// input features, zero-padding windows shorter than the model's capacity.
type FeatureExtractor interface {
	Extract(samples []float32) ([][]float32, error)
}

// Chunk is one overlapping window of the source signal together with its
// extracted features and the stride metadata stitching needs later.
type Chunk struct {
	Index       int         // monotonic position in the chunk sequence
	Features    [][]float32 // fixed-shape model input
	IsFirst     bool
	IsLast      bool
	ChunkLen    float64 // seconds of audio actually covered
	StrideLeft  float64 // seconds of left overlap context
	StrideRight float64 // seconds of right overlap context
	Offset      float64 // absolute start time in the signal, seconds
	Pad         bool    // true for batch-padding dummies
}

// Chunker derives overlapping windows from a signal. It holds only the
// window geometry; each call to Chunks returns a fresh lazy iterator, so
// the sequence is restartable.
type Chunker struct {
	signal    *audio.Signal
	extractor FeatureExtractor

	chunkSamples  int
	strideSamples int // per side
}

// NewChunker validates the window geometry against the signal.
// chunkLength is in seconds; strideFraction is the per-side overlap share
// and must leave a positive step between window starts.
func NewChunker(signal *audio.Signal, extractor FeatureExtractor, chunkLength, strideFraction float64) (*Chunker, error) {
	if signal == nil {
		return nil, fmt.Errorf("signal is required")
	}
	if extractor == nil {
		return nil, fmt.Errorf("feature extractor is required")
	}
	if chunkLength <= 0 {
		return nil, fmt.Errorf("chunk length must be positive, got %f", chunkLength)
	}
	if strideFraction < 0 || strideFraction >= 0.5 {
		return nil, fmt.Errorf("stride fraction must be in [0, 0.5), got %f", strideFraction)
	}

	chunkSamples := int(math.Round(chunkLength * float64(signal.SampleRate)))
	strideSamples := int(math.Round(chunkLength * strideFraction * float64(signal.SampleRate)))
	if chunkSamples <= 2*strideSamples {
		return nil, fmt.Errorf("chunk of %d samples leaves no step after two strides of %d", chunkSamples, strideSamples)
	}

	return &Chunker{
		signal:        signal,
		extractor:     extractor,
		chunkSamples:  chunkSamples,
		strideSamples: strideSamples,
	}, nil
}

// Count returns how many chunks the iterator will yield.
func (c *Chunker) Count() int {
	inputLen := len(c.signal.Samples)
	if inputLen == 0 {
		return 0
	}

	step := c.chunkSamples - 2*c.strideSamples
	count := 0
	for start := 0; start < inputLen; start += step {
		count++
		if c.isLast(start, inputLen) {
			break
		}
	}
	return count
}

// isLast reports whether the window starting at start is the final one.
// With a right stride configured, a window ending exactly at the signal
// end is not last: one more window covers the tail with full context.
func (c *Chunker) isLast(start, inputLen int) bool {
	end := start + c.chunkSamples
	if c.strideSamples > 0 {
		return end > inputLen
	}
	return end >= inputLen
}

// Chunks returns a new iterator over the window sequence, starting from
// the beginning of the signal.
func (c *Chunker) Chunks() *Iterator {
	return &Iterator{chunker: c}
}

// Iterator walks the chunk sequence lazily, extracting features for one
// window at a time. Use it like a scanner:
//
//	it := chunker.Chunks()
//	for it.Next() {
//		process(it.Chunk())
//	}
//	if err := it.Err(); err != nil { ... }
//
// An Iterator is single-goroutine; restart by calling Chunks again.
type Iterator struct {
	chunker *Chunker

	nextStart int
	index     int
	done      bool

	current *Chunk
	err     error
}

// Next advances to the next chunk. It returns false when the sequence is
// exhausted or feature extraction fails; check Err afterwards.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	c := it.chunker
	inputLen := len(c.signal.Samples)
	if it.nextStart >= inputLen {
		it.done = true
		return false
	}

	start := it.nextStart
	end := start + c.chunkSamples
	if end > inputLen {
		end = inputLen
	}

	isFirst := start == 0
	isLast := c.isLast(start, inputLen)

	window := c.signal.Samples[start:end]
	feats, err := c.extractor.Extract(window)
	if err != nil {
		it.err = fmt.Errorf("failed to extract features for chunk %d: %w", it.index, err)
		return false
	}

	rate := float64(c.signal.SampleRate)
	strideSecs := float64(c.strideSamples) / rate

	chk := &Chunk{
		Index:    it.index,
		Features: feats,
		IsFirst:  isFirst,
		IsLast:   isLast,
		ChunkLen: float64(end-start) / rate,
		Offset:   float64(start) / rate,
	}
	if !isFirst {
		chk.StrideLeft = strideSecs
	}
	if !isLast {
		chk.StrideRight = strideSecs
	}

	it.current = chk
	it.index++
	it.nextStart = start + (c.chunkSamples - 2*c.strideSamples)
	if isLast {
		it.done = true
	}
	return true
}

// Chunk returns the chunk produced by the last successful Next call.
func (it *Iterator) Chunk() *Chunk {
	return it.current
}

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
