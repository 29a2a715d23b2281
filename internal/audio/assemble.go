package audio

import (
	"errors"
	"fmt"
	"math"
)

// Static errors for clip assembly.
var (
	// ErrNoClips is returned when assembly is requested with an empty clip list.
	ErrNoClips = errors.New("audio: no clips to assemble")
	// ErrInvalidRange is returned when a clip does not describe a usable range.
	ErrInvalidRange = errors.New("audio: invalid clip range")
)

// Clip is a caller-supplied time range. Clip order is presentation order.
type Clip struct {
	StartMs float64 `json:"start_ms"`
	EndMs   float64 `json:"end_ms"`
	Label   string  `json:"label,omitempty"`
}

// RangeError describes why a clip was rejected.
type RangeError struct {
	Index  int
	Clip   Clip
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("audio: clip %d [%.1f, %.1f] ms: %s", e.Index, e.Clip.StartMs, e.Clip.EndMs, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidRange.
func (e *RangeError) Unwrap() error { return ErrInvalidRange }

// ResolveClip validates a clip against a buffer and returns its frame range.
//
// Bounds that fall outside [0, duration] are clamped. A clip whose end does
// not follow its start, or that lies entirely outside the buffer, is rejected.
func ResolveClip(b *Buffer, index int, c Clip) (startFrame, endFrame int, err error) {
	if math.IsNaN(c.StartMs) || math.IsNaN(c.EndMs) || math.IsInf(c.StartMs, 0) || math.IsInf(c.EndMs, 0) {
		return 0, 0, &RangeError{Index: index, Clip: c, Reason: "bounds must be finite"}
	}
	if c.EndMs <= c.StartMs {
		return 0, 0, &RangeError{Index: index, Clip: c, Reason: "end must be after start"}
	}

	startFrame = b.FrameAt(c.StartMs)
	endFrame = b.FrameAt(c.EndMs)
	if endFrame <= startFrame {
		return 0, 0, &RangeError{Index: index, Clip: c, Reason: "range lies outside the audio"}
	}
	return startFrame, endFrame, nil
}

// Assemble extracts each clip from b and concatenates them in list order.
// The result keeps b's channel count and sample rate.
func Assemble(b *Buffer, clips []Clip) (*Buffer, error) {
	if len(clips) == 0 {
		return nil, ErrNoClips
	}

	parts := make([]*Buffer, 0, len(clips))
	for i, c := range clips {
		start, end, err := ResolveClip(b, i, c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, b.Slice(start, end))
	}
	return Concat(parts...)
}
