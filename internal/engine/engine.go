package engine

import (
	"context"
)

// Task values accepted by the engine.
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// BatchRequest carries one batch of stacked chunk features and the
// generation parameters for a single inference call.
type BatchRequest struct {
	Features         [][][]float32 // [batch][mels][frames]
	Task             string
	ReturnTimestamps bool
}

// ChunkOutput is the raw token sequence generated for one batch slot.
type ChunkOutput struct {
	Tokens []int
}

// BatchResponse holds one output per batch slot, in slot order. Outputs
// for padding slots are generated like any other and discarded upstream.
type BatchResponse struct {
	Outputs []ChunkOutput
}

// Engine is the opaque inference engine: features in, token sequences
// out. Implementations must be safe for concurrent use; the dispatcher
// issues calls from multiple workers.
type Engine interface {
	Infer(ctx context.Context, req *BatchRequest) (*BatchResponse, error)
}

// Decoder turns token sequences into text. The engine server owns the
// tokenizer, so decoding is one more engine capability rather than local
// vocabulary handling.
type Decoder interface {
	DecodeTokens(ctx context.Context, tokens []int) (string, error)
}
