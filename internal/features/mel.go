package features

import "math"

// hzToMel converts frequency in Hz to the slaney mel scale: linear below
// 1 kHz, logarithmic above.
func hzToMel(hz float64) float64 {
	const (
		minLogHz  = 1000.0
		minLogMel = 15.0
	)
	if hz < minLogHz {
		return hz * 3.0 / 200.0
	}
	logstep := math.Log(6.4) / 27.0
	return minLogMel + math.Log(hz/minLogHz)/logstep
}

// melToHz is the inverse of hzToMel.
func melToHz(mel float64) float64 {
	const (
		minLogHz  = 1000.0
		minLogMel = 15.0
	)
	if mel < minLogMel {
		return mel * 200.0 / 3.0
	}
	logstep := math.Log(6.4) / 27.0
	return minLogHz * math.Exp(logstep*(mel-minLogMel))
}

// melFilterbank builds nMels triangular filters over the nFFT/2+1 frequency
// bins of an STFT at sampleRate, with slaney area normalization so each
// filter integrates to roughly constant energy.
func melFilterbank(sampleRate, nFFT, nMels int) [][]float64 {
	nBins := nFFT/2 + 1

	fftFreqs := make([]float64, nBins)
	for i := range fftFreqs {
		fftFreqs[i] = float64(i) * float64(sampleRate) / float64(nFFT)
	}

	// Band edges: nMels+2 points evenly spaced on the mel scale.
	maxMel := hzToMel(float64(sampleRate) / 2.0)
	melPoints := make([]float64, nMels+2)
	for i := range melPoints {
		melPoints[i] = melToHz(maxMel * float64(i) / float64(nMels+1))
	}

	filters := make([][]float64, nMels)
	for m := 0; m < nMels; m++ {
		lower := melPoints[m]
		center := melPoints[m+1]
		upper := melPoints[m+2]

		row := make([]float64, nBins)
		enorm := 2.0 / (upper - lower)
		for k, f := range fftFreqs {
			rising := (f - lower) / (center - lower)
			falling := (upper - f) / (upper - center)
			w := math.Min(rising, falling)
			if w > 0 {
				row[k] = w * enorm
			}
		}
		filters[m] = row
	}

	return filters
}

// hannWindow returns the periodic Hann window of the given length.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(n)))
	}
	return w
}
