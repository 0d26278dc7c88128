// Package stitch merges per-chunk token sequences into one transcript.
// Each chunk's tokens are trimmed to the chunk's core region using the
// stride geometry recorded at chunking time, duplicated tokens across
// seams are removed by a sliding sequence match, and the surviving tokens
// are decoded into text through the engine tokenizer.
package stitch
