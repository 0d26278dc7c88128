// Package config provides configuration loading and validation for the
// transcription service. Files are YAML and overlay a set of built-in
// defaults, so a partial file only needs the fields it changes.
package config
