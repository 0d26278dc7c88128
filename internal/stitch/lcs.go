package stitch

// matchOverlap slides the head of right across the tail of left and
// returns how many leading tokens of right duplicate material already in
// left. Candidate windows are scored by match density with a small bonus
// for longer windows, so a long exact repeat wins over a short one. A
// window counts only if it matches strictly more than minMatch tokens;
// when no window qualifies the overlap is zero and the caller
// concatenates.
func matchOverlap(left, right []int, minMatch int) int {
	leftLen := len(left)
	rightLen := len(right)
	if leftLen == 0 || rightLen == 0 {
		return 0
	}

	bestScore := 0.0
	bestRightStop := 0
	for i := 1; i < leftLen+rightLen; i++ {
		// Larger windows get a slight edge so equally dense windows
		// resolve toward the longer repeat.
		eps := float64(i) / 10000.0

		leftStart := max(0, leftLen-i)
		leftStop := min(leftLen, leftLen+rightLen-i)
		rightStart := max(0, i-leftLen)
		rightStop := min(rightLen, i)

		matches := 0
		for j := 0; j < leftStop-leftStart; j++ {
			if left[leftStart+j] == right[rightStart+j] {
				matches++
			}
		}

		score := float64(matches)/float64(i) + eps
		if matches > minMatch && score > bestScore {
			bestScore = score
			bestRightStop = rightStop
		}
	}

	return bestRightStop
}
