// Package audio provides the in-memory audio model and the algorithms that
// operate on it: phrase detection over silence and clip assembly.
//
// Buffers are immutable once built. Every transformation returns a new
// Buffer, so a decoded upload can be shared between detection, mastering and
// assembly without copying or locking.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Static errors for buffer construction.
var (
	// ErrInvalidChannels is returned when a buffer is built with fewer than one channel.
	ErrInvalidChannels = errors.New("audio: channel count must be positive")
	// ErrInvalidSampleRate is returned when a buffer is built with a non-positive sample rate.
	ErrInvalidSampleRate = errors.New("audio: sample rate must be positive")
	// ErrMisalignedSamples is returned when the sample count is not a multiple of the channel count.
	ErrMisalignedSamples = errors.New("audio: sample count is not a multiple of channel count")
	// ErrFormatMismatch is returned when buffers with different layouts are concatenated.
	ErrFormatMismatch = errors.New("audio: buffers have different channel count or sample rate")
)

// Buffer is decoded PCM audio held in memory.
// Samples are interleaved by frame and normalized to [-1, 1].
type Buffer struct {
	samples    []float64
	channels   int
	sampleRate int
}

// NewBuffer creates a Buffer over interleaved samples.
// The buffer takes ownership of samples; callers must not modify the slice afterwards.
func NewBuffer(samples []float64, channels, sampleRate int) (*Buffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChannels, channels)
	}
	if sampleRate < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples, %d channels", ErrMisalignedSamples, len(samples), channels)
	}
	return &Buffer{samples: samples, channels: channels, sampleRate: sampleRate}, nil
}

// Silence returns a buffer of digital silence lasting durationMs.
func Silence(durationMs, channels, sampleRate int) (*Buffer, error) {
	if durationMs < 0 {
		durationMs = 0
	}
	frames := int(int64(durationMs) * int64(sampleRate) / 1000)
	if channels < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChannels, channels)
	}
	return NewBuffer(make([]float64, frames*channels), channels, sampleRate)
}

// Channels returns the number of interleaved channels.
func (b *Buffer) Channels() int { return b.channels }

// SampleRate returns the sample rate in Hz.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int { return len(b.samples) / b.channels }

// Samples returns a copy of the interleaved samples.
func (b *Buffer) Samples() []float64 {
	out := make([]float64, len(b.samples))
	copy(out, b.samples)
	return out
}

// Sample returns the sample of channel ch at frame i.
func (b *Buffer) Sample(frame, ch int) float64 {
	return b.samples[frame*b.channels+ch]
}

// DurationMs returns the duration in whole milliseconds, rounded to nearest.
func (b *Buffer) DurationMs() int {
	return int(math.Round(float64(b.Frames()) * 1000 / float64(b.sampleRate)))
}

// Duration returns the duration as a time.Duration.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(float64(b.Frames()) / float64(b.sampleRate) * float64(time.Second))
}

// FrameAt converts a millisecond offset to a frame index, clamped to [0, Frames()].
func (b *Buffer) FrameAt(ms float64) int {
	f := int(math.Round(ms * float64(b.sampleRate) / 1000))
	if f < 0 {
		return 0
	}
	if f > b.Frames() {
		return b.Frames()
	}
	return f
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, s := range b.samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// PeakDBFS returns the peak level in dBFS. Silent buffers report -Inf.
func (b *Buffer) PeakDBFS() float64 {
	return AmplitudeToDBFS(b.Peak())
}

// Slice returns the frames in [startFrame, endFrame) as a new buffer.
// Bounds are clamped to the buffer.
func (b *Buffer) Slice(startFrame, endFrame int) *Buffer {
	startFrame = clamp(startFrame, 0, b.Frames())
	endFrame = clamp(endFrame, startFrame, b.Frames())
	out := make([]float64, (endFrame-startFrame)*b.channels)
	copy(out, b.samples[startFrame*b.channels:endFrame*b.channels])
	return &Buffer{samples: out, channels: b.channels, sampleRate: b.sampleRate}
}

// SameFormat reports whether two buffers share channel count and sample rate.
func (b *Buffer) SameFormat(o *Buffer) bool {
	return b.channels == o.channels && b.sampleRate == o.sampleRate
}

// Concat joins buffers in the order given. All buffers must share a format.
func Concat(parts ...*Buffer) (*Buffer, error) {
	if len(parts) == 0 {
		return nil, errors.New("audio: nothing to concatenate")
	}
	total := 0
	for i, p := range parts {
		if !p.SameFormat(parts[0]) {
			return nil, fmt.Errorf("%w: part %d", ErrFormatMismatch, i)
		}
		total += len(p.samples)
	}
	out := make([]float64, 0, total)
	for _, p := range parts {
		out = append(out, p.samples...)
	}
	return &Buffer{samples: out, channels: parts[0].channels, sampleRate: parts[0].sampleRate}, nil
}

// AmplitudeToDBFS converts a linear amplitude (1.0 = full scale) to dBFS.
func AmplitudeToDBFS(a float64) float64 {
	if a <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(a)
}

// DBFSToAmplitude converts dBFS to a linear amplitude.
func DBFSToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
