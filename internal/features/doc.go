// Package features converts raw audio samples into the fixed-shape log-mel
// spectrogram the speech model consumes. It implements the Hann-windowed
// short-time Fourier transform, the slaney-scale mel filterbank, and the
// log compression and scaling the reference extractor applies.
package features
