// Package audio handles decoding of uploaded audio into model-ready samples.
// It implements WAV container parsing, stereo downmix, PCM-16 to float
// conversion, and linear resampling to the feature extractor's required rate.
package audio
