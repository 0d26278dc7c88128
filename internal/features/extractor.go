package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Model input geometry. These mirror the reference extractor's constants
// and are fixed by the model, not tunable per request.
const (
	SampleRate  = 16000                   // Hz expected by the model
	FFTSize     = 400                     // STFT window length
	HopLength   = 160                     // samples between frames
	MelBins     = 80                      // mel frequency bins
	WindowSecs  = 30                      // seconds of audio per model window
	NumSamples  = WindowSecs * SampleRate // samples per model window
	NumFrames   = NumSamples / HopLength  // spectrogram frames per window
	logFloor    = 1e-10                   // clamp before log10
	dynamicSpan = 8.0                     // dB range kept below the peak
)

// Extractor computes fixed-shape log-mel spectrograms. It precomputes the
// FFT plan, Hann window, and mel filterbank once. The FFT plan carries
// scratch state, so an Extractor is not safe for concurrent use; create
// one per goroutine.
type Extractor struct {
	fft     *fourier.FFT
	window  []float64
	filters [][]float64
}

// NewExtractor builds an extractor for the model's fixed input geometry.
func NewExtractor() *Extractor {
	return &Extractor{
		fft:     fourier.NewFFT(FFTSize),
		window:  hannWindow(FFTSize),
		filters: melFilterbank(SampleRate, FFTSize, MelBins),
	}
}

// Extract computes the log-mel spectrogram of one model window.
// Input shorter than the window is zero-padded to the fixed shape, so the
// output is always [MelBins][NumFrames]. Input longer than the window is
// rejected; the chunker never produces one.
func (e *Extractor) Extract(samples []float32) ([][]float32, error) {
	if len(samples) > NumSamples {
		return nil, fmt.Errorf("audio window too long: %d samples exceeds model capacity of %d", len(samples), NumSamples)
	}

	// Zero-pad to the fixed window, then reflect-pad half an FFT frame on
	// each side so frames are centered on their hop positions. The mirror
	// excludes the edge sample itself.
	half := FFTSize / 2
	padded := make([]float64, NumSamples+FFTSize)
	for i, s := range samples {
		padded[half+i] = float64(s)
	}
	for i := 0; i < half; i++ {
		if i+1 < len(samples) {
			padded[half-1-i] = float64(samples[i+1])
		}
		if src := NumSamples - 2 - i; src >= 0 && src < len(samples) {
			padded[half+NumSamples+i] = float64(samples[src])
		}
	}

	power := e.powerSpectrogram(padded)
	mel := e.applyFilterbank(power)
	logMelNormalize(mel)

	out := make([][]float32, MelBins)
	for m := range out {
		row := make([]float32, NumFrames)
		for t := range row {
			row[t] = float32(mel[m][t])
		}
		out[m] = row
	}
	return out, nil
}

// powerSpectrogram runs the windowed STFT over the padded signal and
// returns squared magnitudes, shaped [NumFrames][FFTSize/2+1].
func (e *Extractor) powerSpectrogram(padded []float64) [][]float64 {
	nBins := FFTSize/2 + 1
	frame := make([]float64, FFTSize)
	coeffs := make([]complex128, nBins)

	power := make([][]float64, NumFrames)
	for t := 0; t < NumFrames; t++ {
		start := t * HopLength
		for i := 0; i < FFTSize; i++ {
			frame[i] = padded[start+i] * e.window[i]
		}
		e.fft.Coefficients(coeffs, frame)

		row := make([]float64, nBins)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			row[k] = re*re + im*im
		}
		power[t] = row
	}
	return power
}

// applyFilterbank projects the power spectrogram onto the mel filters,
// producing [MelBins][NumFrames].
func (e *Extractor) applyFilterbank(power [][]float64) [][]float64 {
	nBins := FFTSize/2 + 1
	mel := make([][]float64, MelBins)
	for m := 0; m < MelBins; m++ {
		filter := e.filters[m]
		row := make([]float64, NumFrames)
		for t := 0; t < NumFrames; t++ {
			var sum float64
			spec := power[t]
			for k := 0; k < nBins; k++ {
				sum += filter[k] * spec[k]
			}
			row[t] = sum
		}
		mel[m] = row
	}
	return mel
}

// logMelNormalize applies the reference compression in place:
// log10 with a floor, clamp to the top dynamicSpan below the peak,
// then shift and scale into the model's expected range.
func logMelNormalize(mel [][]float64) {
	maxVal := math.Inf(-1)
	for m := range mel {
		for t, v := range mel[m] {
			lv := math.Log10(math.Max(v, logFloor))
			mel[m][t] = lv
			if lv > maxVal {
				maxVal = lv
			}
		}
	}

	floor := maxVal - dynamicSpan
	for m := range mel {
		for t, v := range mel[m] {
			if v < floor {
				v = floor
			}
			mel[m][t] = (v + 4.0) / 4.0
		}
	}
}
