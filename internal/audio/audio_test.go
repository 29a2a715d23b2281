package audio

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// segment describes a stretch of generated test audio.
type segment struct {
	ms        int
	amplitude float64
}

// buildBuffer renders consecutive segments of a 440 Hz tone (or silence when
// amplitude is zero) into a mono buffer.
func buildBuffer(t *testing.T, rate int, segs ...segment) *Buffer {
	t.Helper()
	var samples []float64
	frame := 0
	for _, s := range segs {
		n := s.ms * rate / 1000
		for i := 0; i < n; i++ {
			v := s.amplitude * math.Sin(2*math.Pi*440*float64(frame)/float64(rate))
			samples = append(samples, v)
			frame++
		}
	}
	b, err := NewBuffer(samples, 1, rate)
	require.NoError(t, err)
	return b
}

func TestNewBuffer_Validation(t *testing.T) {
	_, err := NewBuffer([]float64{0, 0, 0}, 2, 44100)
	assert.ErrorIs(t, err, ErrMisalignedSamples)

	_, err = NewBuffer(nil, 0, 44100)
	assert.ErrorIs(t, err, ErrInvalidChannels)

	_, err = NewBuffer(nil, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidSampleRate)
}

func TestBuffer_Duration(t *testing.T) {
	b, err := Silence(2500, 2, 22050)
	require.NoError(t, err)

	assert.Equal(t, 2500, b.DurationMs())
	assert.Equal(t, 2, b.Channels())
	assert.Equal(t, 22050*5/2, b.Frames())
	assert.True(t, math.IsInf(b.PeakDBFS(), -1))
}

func TestBuffer_SamplesReturnsCopy(t *testing.T) {
	b, err := NewBuffer([]float64{0.1, 0.2}, 1, 1000)
	require.NoError(t, err)

	s := b.Samples()
	s[0] = 0.9

	assert.InDelta(t, 0.1, b.Sample(0, 0), 1e-12)
}

func TestConcat_FormatMismatch(t *testing.T) {
	a, _ := Silence(10, 1, 8000)
	b, _ := Silence(10, 2, 8000)

	_, err := Concat(a, b)
	assert.ErrorIs(t, err, ErrFormatMismatch)
}

func TestDetectPhrases_AllSilent(t *testing.T) {
	b, err := Silence(10000, 1, 16000)
	require.NoError(t, err)

	got := DetectPhrases(b, DefaultSilenceConfig())

	assert.Equal(t, []Interval{{StartMs: 0, EndMs: 10000}}, got)
}

func TestDetectPhrases_AllLoud(t *testing.T) {
	b := buildBuffer(t, 8000, segment{ms: 3000, amplitude: 0.8})

	got := DetectPhrases(b, DefaultSilenceConfig())

	assert.Equal(t, []Interval{{StartMs: 0, EndMs: 3000}}, got)
}

func TestDetectPhrases_ZeroLength(t *testing.T) {
	b, err := NewBuffer(nil, 1, 8000)
	require.NoError(t, err)

	assert.Empty(t, DetectPhrases(b, DefaultSilenceConfig()))
}

func TestDetectPhrases_SplitsOnLongSilence(t *testing.T) {
	b := buildBuffer(t, 8000,
		segment{ms: 1000, amplitude: 0.8},
		segment{ms: 2000},
		segment{ms: 1000, amplitude: 0.8},
		segment{ms: 600},
		segment{ms: 400, amplitude: 0.8},
	)

	raw := DetectNonSilent(b, DefaultSilenceConfig())
	assert.Equal(t, []Interval{
		{StartMs: 0, EndMs: 1000},
		{StartMs: 3000, EndMs: 4000},
		{StartMs: 4600, EndMs: 5000},
	}, raw)

	got := DetectPhrases(b, DefaultSilenceConfig())
	assert.Equal(t, []Interval{
		{StartMs: 0, EndMs: 1100},
		{StartMs: 2900, EndMs: 5000},
	}, got)
}

func TestDetectPhrases_ShortSilenceIsIgnored(t *testing.T) {
	b := buildBuffer(t, 8000,
		segment{ms: 800, amplitude: 0.8},
		segment{ms: 300},
		segment{ms: 800, amplitude: 0.8},
	)

	got := DetectPhrases(b, DefaultSilenceConfig())

	assert.Equal(t, []Interval{{StartMs: 0, EndMs: 1900}}, got)
}

func TestExpandAndMerge_OverlappingCandidates(t *testing.T) {
	raw := []Interval{{StartMs: 100, EndMs: 400}, {StartMs: 500, EndMs: 900}}

	expanded := expandIntervals(raw, 100, 1000)
	assert.Equal(t, []Interval{{StartMs: 0, EndMs: 500}, {StartMs: 400, EndMs: 1000}}, expanded)

	merged := mergePhrases(expanded, PhraseMergeGapMs)
	assert.Equal(t, []Interval{{StartMs: 0, EndMs: 1000}}, merged)
}

func TestMergePhrases_GapBoundary(t *testing.T) {
	in := []Interval{
		{StartMs: 0, EndMs: 100},
		{StartMs: 1099, EndMs: 1200}, // gap 999: merged
		{StartMs: 2200, EndMs: 2300}, // gap 1000: kept apart
	}

	got := mergePhrases(in, PhraseMergeGapMs)

	assert.Equal(t, []Interval{
		{StartMs: 0, EndMs: 1200},
		{StartMs: 2200, EndMs: 2300},
	}, got)
}

func TestDetectPhrases_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 20; run++ {
		var segs []segment
		for i := 0; i < 8; i++ {
			amp := 0.0
			if rng.Intn(2) == 0 {
				amp = 0.6
			}
			segs = append(segs, segment{ms: 100 + rng.Intn(1500), amplitude: amp})
		}
		b := buildBuffer(t, 8000, segs...)
		dur := b.DurationMs()

		raw := DetectNonSilent(b, DefaultSilenceConfig())
		got := DetectPhrases(b, DefaultSilenceConfig())
		require.NotEmpty(t, got)

		for i, iv := range got {
			assert.GreaterOrEqual(t, iv.StartMs, 0)
			assert.LessOrEqual(t, iv.EndMs, dur)
			assert.Less(t, iv.StartMs, iv.EndMs)
			if i > 0 {
				assert.GreaterOrEqual(t, iv.StartMs, got[i-1].EndMs, "intervals overlap")
				assert.GreaterOrEqual(t, iv.StartMs-got[i-1].EndMs, PhraseMergeGapMs, "gap should have been merged")
			}
		}

		// Every raw non-silent range lies inside exactly one phrase.
		for _, r := range raw {
			inside := 0
			for _, iv := range got {
				if r.StartMs >= iv.StartMs && r.EndMs <= iv.EndMs {
					inside++
				}
			}
			assert.Equal(t, 1, inside, "raw range %v", r)
		}
	}
}

func TestAssemble_NoClips(t *testing.T) {
	b, err := Silence(10000, 1, 8000)
	require.NoError(t, err)

	_, err = Assemble(b, nil)
	assert.ErrorIs(t, err, ErrNoClips)
}

func TestAssemble_FollowsListOrder(t *testing.T) {
	// First second is quiet, second second is loud.
	b := buildBuffer(t, 8000,
		segment{ms: 1000, amplitude: 0.1},
		segment{ms: 1000, amplitude: 0.9},
	)
	clipA := Clip{StartMs: 0, EndMs: 1000}
	clipB := Clip{StartMs: 1000, EndMs: 2000}

	out, err := Assemble(b, []Clip{clipB, clipA})
	require.NoError(t, err)

	assert.Equal(t, 2000, out.DurationMs())
	first := out.Slice(0, 8000)
	second := out.Slice(8000, 16000)
	assert.Greater(t, first.Peak(), 0.8)
	assert.Less(t, second.Peak(), 0.2)
}

func TestAssemble_ClampsOutOfRange(t *testing.T) {
	b := buildBuffer(t, 8000, segment{ms: 1000, amplitude: 0.5})

	out, err := Assemble(b, []Clip{{StartMs: -100, EndMs: 500}})
	require.NoError(t, err)
	assert.Equal(t, 500, out.DurationMs())

	out, err = Assemble(b, []Clip{{StartMs: 900, EndMs: 5000}})
	require.NoError(t, err)
	assert.Equal(t, 100, out.DurationMs())
}

func TestAssemble_InvalidRanges(t *testing.T) {
	b := buildBuffer(t, 8000, segment{ms: 1000, amplitude: 0.5})

	tests := []struct {
		name string
		clip Clip
	}{
		{"end before start", Clip{StartMs: 500, EndMs: 100}},
		{"empty", Clip{StartMs: 300, EndMs: 300}},
		{"beyond end", Clip{StartMs: 2000, EndMs: 3000}},
		{"before start", Clip{StartMs: -500, EndMs: -100}},
		{"not a number", Clip{StartMs: math.NaN(), EndMs: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(b, []Clip{{StartMs: 0, EndMs: 100}, tt.clip})
			require.ErrorIs(t, err, ErrInvalidRange)

			var rerr *RangeError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, 1, rerr.Index)
		})
	}
}

func TestAssemble_DoesNotMutateSource(t *testing.T) {
	b := buildBuffer(t, 8000, segment{ms: 500, amplitude: 0.5})
	before := b.Samples()

	_, err := Assemble(b, []Clip{{StartMs: 100, EndMs: 200}, {StartMs: 0, EndMs: 50}})
	require.NoError(t, err)

	assert.Equal(t, before, b.Samples())
}
