package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sunjian0523/whisper-jax/internal/chunk"
	"github.com/sunjian0523/whisper-jax/internal/engine"
	"github.com/sunjian0523/whisper-jax/internal/stitch"
)

// runBatches fans the batches out to the engine through the shared pool
// and returns one result per real chunk, in chunk order. The first
// failure cancels the remaining batches and is returned to the caller.
func (p *Pipeline) runBatches(ctx context.Context, batches []*chunk.Batch, task string, timestamps bool) ([]stitch.Result, error) {
	responses := make([]*engine.BatchResponse, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range batches {
		i, b := i, b
		g.Go(func() error {
			err := p.pool.Do(gctx, func() error {
				p.metrics.SetPoolInUse(p.pool.InUse())

				req := &engine.BatchRequest{
					Features:         featureTensor(b),
					Task:             task,
					ReturnTimestamps: timestamps,
				}

				start := time.Now()
				resp, inferErr := p.engine.Infer(gctx, req)
				elapsed := time.Since(start).Seconds()
				if inferErr != nil {
					p.metrics.RecordInferenceFailure(elapsed)
					return fmt.Errorf("batch %d failed: %w", b.Index, inferErr)
				}
				p.metrics.RecordInferenceSuccess(elapsed)

				responses[i] = resp
				return nil
			})
			p.metrics.SetPoolInUse(p.pool.InUse())
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []stitch.Result
	for i, b := range batches {
		resp := responses[i]
		if len(resp.Outputs) < b.Real {
			return nil, fmt.Errorf("batch %d returned %d outputs for %d chunks", b.Index, len(resp.Outputs), b.Real)
		}
		for j := 0; j < b.Real; j++ {
			c := b.Chunks[j]
			results = append(results, stitch.Result{
				Index:       c.Index,
				Tokens:      resp.Outputs[j].Tokens,
				Offset:      c.Offset,
				ChunkLen:    c.ChunkLen,
				StrideLeft:  c.StrideLeft,
				StrideRight: c.StrideRight,
			})
		}
	}
	return results, nil
}

// featureTensor stacks a batch's chunk features into one tensor. Padding
// chunks contribute their zero features, so the tensor shape is uniform.
func featureTensor(b *chunk.Batch) [][][]float32 {
	tensor := make([][][]float32, len(b.Chunks))
	for i, c := range b.Chunks {
		tensor[i] = c.Features
	}
	return tensor
}
