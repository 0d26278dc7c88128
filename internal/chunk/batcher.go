package chunk

import (
	"fmt"
)

// DefaultBatchSize is the number of chunks submitted per inference call
// when a request does not override it.
const DefaultBatchSize = 16

// Batch is a uniform group of chunks for one inference call. The final
// batch of a sequence is padded with zero-feature dummy chunks up to the
// batch size; Real records how many chunks carry actual audio.
type Batch struct {
	Index  int
	Chunks []*Chunk
	Real   int
}

// Batcher groups a chunk iterator's output into fixed-size batches,
// preserving chunk order. Like the Iterator it wraps, it is lazy and
// single-goroutine.
type Batcher struct {
	it        *Iterator
	batchSize int

	index   int
	current *Batch
	err     error
	done    bool
}

// NewBatcher wraps an iterator. batchSize must be positive.
func NewBatcher(it *Iterator, batchSize int) (*Batcher, error) {
	if it == nil {
		return nil, fmt.Errorf("chunk iterator is required")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &Batcher{it: it, batchSize: batchSize}, nil
}

// Next assembles the next batch. It returns false when the underlying
// iterator is exhausted or failed; check Err afterwards.
func (b *Batcher) Next() bool {
	if b.done || b.err != nil {
		return false
	}

	chunks := make([]*Chunk, 0, b.batchSize)
	for len(chunks) < b.batchSize && b.it.Next() {
		chunks = append(chunks, b.it.Chunk())
	}

	if err := b.it.Err(); err != nil {
		b.err = err
		return false
	}

	if len(chunks) == 0 {
		b.done = true
		return false
	}

	realCount := len(chunks)
	if realCount < b.batchSize {
		b.done = true // a short batch is always the final one
		chunks = padBatch(chunks, b.batchSize)
	}

	b.current = &Batch{
		Index:  b.index,
		Chunks: chunks,
		Real:   realCount,
	}
	b.index++
	return true
}

// Batch returns the batch produced by the last successful Next call.
func (b *Batcher) Batch() *Batch {
	return b.current
}

// Err returns the first error encountered while pulling chunks, if any.
func (b *Batcher) Err() error {
	return b.err
}

// padBatch extends a short batch to size with dummy chunks whose features
// are all zeros of the same shape as the real chunks.
func padBatch(chunks []*Chunk, size int) []*Chunk {
	rows := len(chunks[0].Features)
	cols := 0
	if rows > 0 {
		cols = len(chunks[0].Features[0])
	}

	for i := len(chunks); i < size; i++ {
		feats := make([][]float32, rows)
		for r := range feats {
			feats[r] = make([]float32, cols)
		}
		chunks = append(chunks, &Chunk{
			Index:    -1,
			Features: feats,
			Pad:      true,
		})
	}
	return chunks
}
