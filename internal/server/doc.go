// Package server exposes the transcription service over HTTP: a multipart
// upload endpoint that drives the chunked inference pipeline, plus
// health, config, stats and Prometheus metrics endpoints.
package server
