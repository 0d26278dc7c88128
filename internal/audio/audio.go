package audio

import (
	"fmt"
)

// Signal holds decoded mono audio at a fixed sampling rate.
// Samples are normalized to [-1, 1]. A Signal is read-only once decoded.
type Signal struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the signal length in seconds.
func (s *Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Decode parses WAV data into a mono Signal at targetRate.
// Stereo input is averaged down to one channel, and input recorded at a
// different rate is linearly resampled. Errors describe the structural
// problem in the input and are safe to surface to the uploader.
func Decode(data []byte, targetRate int) (*Signal, error) {
	if targetRate <= 0 {
		return nil, fmt.Errorf("target sample rate must be positive, got %d", targetRate)
	}

	samples, channels, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	var mono []int16
	switch channels {
	case 1:
		mono = samples
	case 2:
		mono = downmixStereo(samples)
	default:
		return nil, fmt.Errorf("unsupported channel count: %d (only mono and stereo are supported)", channels)
	}

	floats := int16ToFloat32(mono)
	if sampleRate != targetRate {
		floats = Resample(floats, sampleRate, targetRate)
	}

	return &Signal{
		Samples:    floats,
		SampleRate: targetRate,
	}, nil
}

// downmixStereo averages interleaved stereo frames into mono samples.
func downmixStereo(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		left := int32(samples[2*i])
		right := int32(samples[2*i+1])
		mono[i] = int16((left + right) / 2)
	}
	return mono
}

// int16ToFloat32 converts PCM-16 samples to normalized float32 values.
func int16ToFloat32(samples []int16) []float32 {
	floats := make([]float32, len(samples))
	for i, s := range samples {
		floats[i] = float32(s) / 32768.0
	}
	return floats
}
