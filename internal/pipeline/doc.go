// Package pipeline orchestrates one transcription request end to end:
// decode the upload, cut it into overlapping chunks, batch the chunk
// features, fan the batches out to the inference engine under a shared
// concurrency bound, and stitch the returned token sequences into a
// transcript.
package pipeline
