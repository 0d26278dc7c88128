package features

import (
	"math"
	"testing"
)

func TestExtractShape(t *testing.T) {
	extractor := NewExtractor()

	tests := []struct {
		name       string
		numSamples int
	}{
		{name: "empty input", numSamples: 0},
		{name: "one second", numSamples: SampleRate},
		{name: "full window", numSamples: NumSamples},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mel, err := extractor.Extract(make([]float32, tt.numSamples))
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}

			if len(mel) != MelBins {
				t.Fatalf("Expected %d mel rows, got %d", MelBins, len(mel))
			}
			for m, row := range mel {
				if len(row) != NumFrames {
					t.Fatalf("Row %d: expected %d frames, got %d", m, NumFrames, len(row))
				}
			}
		})
	}
}

func TestExtractTooLong(t *testing.T) {
	extractor := NewExtractor()

	_, err := extractor.Extract(make([]float32, NumSamples+1))
	if err == nil {
		t.Error("Expected error for input longer than the model window")
	}
}

func TestExtractSilence(t *testing.T) {
	extractor := NewExtractor()

	mel, err := extractor.Extract(make([]float32, SampleRate))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// All-zero input clamps to the log floor everywhere, which normalizes
	// to (log10(1e-10) + 4) / 4 = -1.5.
	for m := range mel {
		for f, v := range mel[m] {
			if math.Abs(float64(v)+1.5) > 1e-6 {
				t.Fatalf("Bin %d frame %d: expected -1.5, got %f", m, f, v)
			}
		}
	}
}

func TestExtractTone(t *testing.T) {
	extractor := NewExtractor()

	// One second of a 440Hz tone followed by 29 seconds of implicit
	// zero padding.
	samples := make([]float32, SampleRate)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}

	mel, err := extractor.Extract(samples)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// Frames inside the tone must carry more energy than frames deep in
	// the padded tail.
	toneFrame := NumFrames / 60  // 0.5s in
	tailFrame := NumFrames - 100 // 29s in
	toneEnergy := columnMax(mel, toneFrame)
	tailEnergy := columnMax(mel, tailFrame)

	if toneEnergy <= tailEnergy+0.5 {
		t.Errorf("Expected tone frames louder than padding: tone=%f tail=%f", toneEnergy, tailEnergy)
	}

	// The normalization bounds the dynamic range to dynamicSpan below the
	// peak, which is 2.0 after scaling.
	minVal, maxVal := matrixRange(mel)
	if spread := maxVal - minVal; spread > 2.0+1e-6 {
		t.Errorf("Expected dynamic range at most 2.0, got %f", spread)
	}
}

func TestExtractDeterministic(t *testing.T) {
	extractor := NewExtractor()

	samples := make([]float32, 3*SampleRate)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/SampleRate))
	}

	first, err := extractor.Extract(samples)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	second, err := extractor.Extract(samples)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for m := range first {
		for f := range first[m] {
			if first[m][f] != second[m][f] {
				t.Fatalf("Bin %d frame %d differs between runs: %f vs %f", m, f, first[m][f], second[m][f])
			}
		}
	}
}

func TestMelScaleRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 200, 999, 1000, 4000, 8000} {
		back := melToHz(hzToMel(hz))
		if math.Abs(back-hz) > 1e-6 {
			t.Errorf("Round trip for %0.fHz gave %f", hz, back)
		}
	}
}

func TestMelFilterbankShape(t *testing.T) {
	filters := melFilterbank(SampleRate, FFTSize, MelBins)

	if len(filters) != MelBins {
		t.Fatalf("Expected %d filters, got %d", MelBins, len(filters))
	}

	nBins := FFTSize/2 + 1
	for m, row := range filters {
		if len(row) != nBins {
			t.Fatalf("Filter %d: expected %d bins, got %d", m, nBins, len(row))
		}

		// Every filter must respond to at least one frequency bin.
		var sum float64
		for _, w := range row {
			if w < 0 {
				t.Fatalf("Filter %d has negative weight", m)
			}
			sum += w
		}
		if sum <= 0 {
			t.Errorf("Filter %d is all zero", m)
		}
	}
}

func columnMax(mel [][]float32, frame int) float64 {
	maxVal := math.Inf(-1)
	for m := range mel {
		if v := float64(mel[m][frame]); v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

func matrixRange(mel [][]float32) (float64, float64) {
	minVal := math.Inf(1)
	maxVal := math.Inf(-1)
	for m := range mel {
		for _, v := range mel[m] {
			fv := float64(v)
			if fv < minVal {
				minVal = fv
			}
			if fv > maxVal {
				maxVal = fv
			}
		}
	}
	return minVal, maxVal
}
