// Package engine defines the interface to the opaque speech-to-text
// inference engine and implements the HTTP client for a remote engine
// server. The engine accepts batches of stacked audio features and returns
// raw token sequences; it also owns the tokenizer, exposed as a decode
// call. The client performs no retries: a failed call fails the request.
package engine
