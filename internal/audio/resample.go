package audio

// Resample converts samples from srcRate to dstRate using linear
// interpolation. Good enough for speech destined for a 16 kHz model;
// callers needing band-limited quality should resample upstream.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	outLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if outLen == 0 {
		return []float32{}
	}

	out := make([]float32, outLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}

	return out
}
