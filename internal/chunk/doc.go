// Package chunk slices decoded audio into overlapping fixed-duration
// windows and groups their features into uniform batches for inference.
// Chunk iteration is lazy and restartable; batching preserves chunk order
// and pads the final batch to the configured size with dummy chunks.
package chunk
