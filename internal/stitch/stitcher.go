package stitch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sunjian0523/whisper-jax/internal/engine"
)

// Whisper vocabulary landmarks and merge defaults.
const (
	DefaultTimestampBegin = 50364
	DefaultSpecialBegin   = 50257
	DefaultTimePrecision  = 0.02
	DefaultMinMatch       = 1
)

// Config describes the token vocabulary and merge thresholds. Fields at
// or below zero fall back to the Whisper defaults.
type Config struct {
	// TimestampBegin is the first timestamp token ID. Tokens at or above
	// it encode time as (token - TimestampBegin) * TimePrecision.
	TimestampBegin int

	// SpecialBegin is the first non-text token ID. Tokens in
	// [SpecialBegin, TimestampBegin) are control tokens and are dropped.
	SpecialBegin int

	// TimePrecision is the seconds per timestamp token step.
	TimePrecision float64

	// MinMatch is the number of matching tokens a seam window must
	// strictly exceed before it is treated as a duplicate.
	MinMatch int
}

func (c Config) withDefaults() Config {
	if c.TimestampBegin <= 0 {
		c.TimestampBegin = DefaultTimestampBegin
	}
	if c.SpecialBegin <= 0 {
		c.SpecialBegin = DefaultSpecialBegin
	}
	if c.TimePrecision <= 0 {
		c.TimePrecision = DefaultTimePrecision
	}
	if c.MinMatch <= 0 {
		c.MinMatch = DefaultMinMatch
	}
	return c
}

// Result is the inference output for one chunk together with the chunk
// geometry the merge needs. Offset and the stride fields are seconds
// relative to the start of the original signal and chunk respectively.
type Result struct {
	Index       int
	Tokens      []int
	Offset      float64
	ChunkLen    float64
	StrideLeft  float64
	StrideRight float64
}

// Segment is one timestamped span of the final transcript. Start and End
// are absolute seconds from the beginning of the audio.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Transcript is the merged output for one request. Segments is populated
// only when timestamps were requested.
type Transcript struct {
	Text     string
	Segments []Segment
}

// timedToken is a text token with its estimated absolute time and the
// bounds of the timestamp segment it came from.
type timedToken struct {
	id       int
	time     float64
	segStart float64
	segEnd   float64
}

// Stitcher merges per-chunk token sequences into a transcript.
type Stitcher struct {
	cfg Config
	dec engine.Decoder
}

// New creates a Stitcher that renders text through dec.
func New(cfg Config, dec engine.Decoder) (*Stitcher, error) {
	if dec == nil {
		return nil, fmt.Errorf("decoder cannot be nil")
	}
	return &Stitcher{cfg: cfg.withDefaults(), dec: dec}, nil
}

// Stitch merges the chunk results into one transcript. Results may
// arrive in any order; they are sorted by chunk index first. Overlapping
// audio produces duplicated tokens at each seam, and the duplicated
// prefix of the later chunk is dropped so shared material appears
// exactly once. With no results, or none carrying text tokens, the
// transcript is empty and the decoder is never called.
func (s *Stitcher) Stitch(ctx context.Context, results []Result, withTimestamps bool) (*Transcript, error) {
	if len(results) == 0 {
		return &Transcript{}, nil
	}

	ordered := make([]Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	var merged []timedToken
	for i, res := range ordered {
		core := s.chunkTokens(res, i == 0, i == len(ordered)-1)
		if len(merged) == 0 {
			merged = core
			continue
		}
		if len(core) == 0 {
			continue
		}
		drop := matchOverlap(tokenIDs(merged), tokenIDs(core), s.cfg.MinMatch)
		merged = append(merged, core[drop:]...)
	}

	if len(merged) == 0 {
		return &Transcript{}, nil
	}

	if !withTimestamps {
		text, err := s.dec.DecodeTokens(ctx, tokenIDs(merged))
		if err != nil {
			return nil, fmt.Errorf("failed to decode transcript: %w", err)
		}
		return &Transcript{Text: text}, nil
	}

	return s.assembleSegments(ctx, merged)
}

// assembleSegments groups the merged tokens by their originating
// timestamp segment, decodes each group, and joins the pieces into the
// full text.
func (s *Stitcher) assembleSegments(ctx context.Context, merged []timedToken) (*Transcript, error) {
	var (
		text     strings.Builder
		segments []Segment
	)

	start := 0
	for start < len(merged) {
		stop := start + 1
		for stop < len(merged) &&
			merged[stop].segStart == merged[start].segStart &&
			merged[stop].segEnd == merged[start].segEnd {
			stop++
		}

		ids := make([]int, 0, stop-start)
		for _, tok := range merged[start:stop] {
			ids = append(ids, tok.id)
		}

		segText, err := s.dec.DecodeTokens(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to decode segment: %w", err)
		}

		text.WriteString(segText)
		segments = append(segments, Segment{
			Start: merged[start].segStart,
			End:   merged[start].segEnd,
			Text:  segText,
		})
		start = stop
	}

	return &Transcript{Text: text.String(), Segments: segments}, nil
}

// chunkTokens converts one chunk's raw token sequence into timed text
// tokens trimmed to the chunk's core region. Timestamp tokens set the
// running time and the segment bounds; without them token times are
// spread linearly across the chunk. Control tokens never survive.
func (s *Stitcher) chunkTokens(res Result, first, last bool) []timedToken {
	local := s.timeTokens(res)

	keepLow := 0.0
	if !first {
		keepLow = res.StrideLeft
	}
	keepHigh := res.ChunkLen
	trimHigh := false
	if !last {
		keepHigh = res.ChunkLen - res.StrideRight
		trimHigh = true
	}

	kept := local[:0]
	for _, tok := range local {
		if tok.time < keepLow {
			continue
		}
		if trimHigh && tok.time > keepHigh {
			continue
		}
		if tok.segStart < keepLow {
			tok.segStart = keepLow
		}
		if trimHigh && tok.segEnd > keepHigh {
			tok.segEnd = keepHigh
		}
		tok.time += res.Offset
		tok.segStart += res.Offset
		tok.segEnd += res.Offset
		kept = append(kept, tok)
	}
	return kept
}

// timeTokens assigns a chunk-local time and segment bounds to every text
// token of one chunk.
func (s *Stitcher) timeTokens(res Result) []timedToken {
	hasTimestamps := false
	textCount := 0
	for _, tok := range res.Tokens {
		if tok >= s.cfg.TimestampBegin {
			hasTimestamps = true
		} else if tok < s.cfg.SpecialBegin {
			textCount++
		}
	}
	if textCount == 0 {
		return nil
	}

	out := make([]timedToken, 0, textCount)

	if !hasTimestamps {
		for _, tok := range res.Tokens {
			if tok >= s.cfg.SpecialBegin {
				continue
			}
			t := res.ChunkLen * float64(len(out)) / float64(textCount)
			out = append(out, timedToken{
				id:       tok,
				time:     t,
				segStart: 0,
				segEnd:   res.ChunkLen,
			})
		}
		return out
	}

	now := 0.0
	segStart := 0.0
	segFrom := 0
	closeSegment := func(end float64) {
		for i := segFrom; i < len(out); i++ {
			out[i].segEnd = end
		}
		segFrom = len(out)
	}

	for _, tok := range res.Tokens {
		switch {
		case tok >= s.cfg.TimestampBegin:
			t := float64(tok-s.cfg.TimestampBegin) * s.cfg.TimePrecision
			if len(out) > segFrom {
				closeSegment(t)
			}
			segStart = t
			now = t
		case tok >= s.cfg.SpecialBegin:
			// control token
		default:
			out = append(out, timedToken{id: tok, time: now, segStart: segStart})
		}
	}
	closeSegment(res.ChunkLen)

	return out
}

func tokenIDs(tokens []timedToken) []int {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = tok.id
	}
	return ids
}
