package audio

import (
	"math"
)

// PhraseMergeGapMs is the largest gap between two non-silent ranges that is
// still bridged into a single phrase.
const PhraseMergeGapMs = 1000

// Interval is a half-open time range [StartMs, EndMs) on a buffer timeline.
type Interval struct {
	StartMs int `json:"start_ms"`
	EndMs   int `json:"end_ms"`
}

// DurationMs returns the interval length.
func (i Interval) DurationMs() int { return i.EndMs - i.StartMs }

// SilenceConfig governs silence-based phrase detection.
type SilenceConfig struct {
	// MinSilenceLenMs is the shortest run of quiet audio treated as silence.
	MinSilenceLenMs int
	// SilenceThresholdDBFS is the RMS level at or below which a window is silent.
	SilenceThresholdDBFS float64
	// KeepSilenceMs pads every non-silent range on both sides.
	KeepSilenceMs int
}

// DefaultSilenceConfig returns the defaults tuned for spoken word.
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		MinSilenceLenMs:      500,
		SilenceThresholdDBFS: -40,
		KeepSilenceMs:        100,
	}
}

func (c SilenceConfig) normalized() SilenceConfig {
	def := DefaultSilenceConfig()
	if c.MinSilenceLenMs <= 0 {
		c.MinSilenceLenMs = def.MinSilenceLenMs
	}
	if c.KeepSilenceMs < 0 {
		c.KeepSilenceMs = 0
	}
	return c
}

// DetectPhrases finds phrase-like segments: non-silent ranges padded by
// KeepSilenceMs and merged when separated by less than PhraseMergeGapMs.
//
// Audio with no detectable non-silent range (entirely silent) is returned as
// one interval spanning the buffer. A zero-length buffer yields no intervals.
func DetectPhrases(b *Buffer, cfg SilenceConfig) []Interval {
	cfg = cfg.normalized()
	dur := b.DurationMs()
	if dur == 0 {
		return nil
	}

	raw := DetectNonSilent(b, cfg)
	if len(raw) == 0 {
		return []Interval{{StartMs: 0, EndMs: dur}}
	}

	return mergePhrases(expandIntervals(raw, cfg.KeepSilenceMs, dur), PhraseMergeGapMs)
}

// DetectNonSilent returns the raw non-silent ranges in time order, without
// padding or merging. It returns nil when the whole buffer is silent.
func DetectNonSilent(b *Buffer, cfg SilenceConfig) []Interval {
	cfg = cfg.normalized()
	dur := b.DurationMs()

	silent := detectSilence(b, cfg)
	if len(silent) == 0 {
		if dur == 0 {
			return nil
		}
		return []Interval{{StartMs: 0, EndMs: dur}}
	}
	if silent[0].StartMs == 0 && silent[0].EndMs >= dur {
		return nil
	}

	var out []Interval
	prevEnd := 0
	for _, s := range silent {
		if s.StartMs > prevEnd {
			out = append(out, Interval{StartMs: prevEnd, EndMs: s.StartMs})
		}
		prevEnd = s.EndMs
	}
	if prevEnd < dur {
		out = append(out, Interval{StartMs: prevEnd, EndMs: dur})
	}
	return out
}

// detectSilence slides a MinSilenceLenMs window across the buffer in 1 ms
// steps and joins overlapping quiet windows into silent ranges.
func detectSilence(b *Buffer, cfg SilenceConfig) []Interval {
	dur := b.DurationMs()
	win := cfg.MinSilenceLenMs
	if dur < win {
		return nil
	}

	energy := newEnergyIndex(b)
	thresh := DBFSToAmplitude(cfg.SilenceThresholdDBFS)

	var starts []int
	for i := 0; i <= dur-win; i++ {
		if energy.rms(i, i+win) <= thresh {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		return nil
	}

	var ranges []Interval
	rangeStart := starts[0]
	prev := starts[0]
	for _, s := range starts[1:] {
		continuous := s == prev+1
		hasGap := s > prev+win
		if !continuous && hasGap {
			ranges = append(ranges, Interval{StartMs: rangeStart, EndMs: prev + win})
			rangeStart = s
		}
		prev = s
	}
	ranges = append(ranges, Interval{StartMs: rangeStart, EndMs: prev + win})
	return ranges
}

// expandIntervals pads each interval by keepMs, clamped to [0, durationMs].
func expandIntervals(in []Interval, keepMs, durationMs int) []Interval {
	out := make([]Interval, len(in))
	for i, iv := range in {
		out[i] = Interval{
			StartMs: clamp(iv.StartMs-keepMs, 0, durationMs),
			EndMs:   clamp(iv.EndMs+keepMs, 0, durationMs),
		}
	}
	return out
}

// mergePhrases walks time-ordered candidates once and bridges every gap
// shorter than gapMs. Overlapping candidates have a negative gap and always merge.
func mergePhrases(candidates []Interval, gapMs int) []Interval {
	if len(candidates) == 0 {
		return nil
	}
	merged := make([]Interval, 0, len(candidates))
	cur := candidates[0]
	for _, next := range candidates[1:] {
		if next.StartMs-cur.EndMs < gapMs {
			if next.EndMs > cur.EndMs {
				cur.EndMs = next.EndMs
			}
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	return append(merged, cur)
}

// energyIndex answers RMS queries over millisecond windows in O(1) using a
// prefix sum of squared samples.
type energyIndex struct {
	buf    *Buffer
	prefix []float64
}

func newEnergyIndex(b *Buffer) *energyIndex {
	prefix := make([]float64, b.Frames()+1)
	for f := 0; f < b.Frames(); f++ {
		var sum float64
		for ch := 0; ch < b.channels; ch++ {
			s := b.samples[f*b.channels+ch]
			sum += s * s
		}
		prefix[f+1] = prefix[f] + sum
	}
	return &energyIndex{buf: b, prefix: prefix}
}

func (e *energyIndex) rms(startMs, endMs int) float64 {
	lo := e.buf.FrameAt(float64(startMs))
	hi := e.buf.FrameAt(float64(endMs))
	if hi <= lo {
		return 0
	}
	n := float64((hi - lo) * e.buf.channels)
	mean := (e.prefix[hi] - e.prefix[lo]) / n
	if mean < 0 {
		mean = 0
	}
	return math.Sqrt(mean)
}
