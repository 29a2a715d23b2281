// Package codec bridges container formats and the in-memory audio model.
//
// WAV PCM is read and written in-process. Every other container, and the
// filter chains the in-process DSP cannot express, go through an ffmpeg
// executable resolved at startup.
package codec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Static errors for codec operations.
var (
	// ErrUnsupportedFormat is returned when a file extension or target format is not allowed.
	ErrUnsupportedFormat = errors.New("codec: unsupported format")
	// ErrDecode is returned when audio bytes cannot be parsed.
	ErrDecode = errors.New("codec: decode failed")
	// ErrEncode is returned when audio cannot be written in the requested format.
	ErrEncode = errors.New("codec: encode failed")
	// ErrUnavailable is returned when the ffmpeg executable could not be resolved.
	ErrUnavailable = errors.New("codec: ffmpeg executable not available")
	// ErrTimeout is returned when an ffmpeg invocation exceeds the configured timeout.
	ErrTimeout = errors.New("codec: operation timed out")
)

// Format is an audio container extension without the leading dot.
type Format string

// Supported container formats.
const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
	FormatAAC  Format = "aac"
	FormatOGG  Format = "ogg"
	FormatM4A  Format = "m4a"
)

var mimeTypes = map[Format]string{
	FormatMP3:  "audio/mpeg",
	FormatWAV:  "audio/wav",
	FormatFLAC: "audio/flac",
	FormatAAC:  "audio/aac",
	FormatOGG:  "audio/ogg",
	FormatM4A:  "audio/mp4",
}

// SupportedFormats returns the allow-listed formats in a stable order.
func SupportedFormats() []Format {
	return []Format{FormatMP3, FormatWAV, FormatFLAC, FormatAAC, FormatOGG, FormatM4A}
}

// ParseFormat normalizes s (with or without a leading dot) to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	if _, ok := mimeTypes[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// FormatOf returns the format implied by a file extension.
func FormatOf(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, filepath.Base(path))
	}
	return ParseFormat(ext)
}

// MIMEType returns the content type served for f.
func (f Format) MIMEType() string {
	if m, ok := mimeTypes[f]; ok {
		return m
	}
	return "application/octet-stream"
}

// encoderArgs returns the ffmpeg output options for f.
func (f Format) encoderArgs() []string {
	switch f {
	case FormatMP3:
		return []string{"-c:a", "libmp3lame", "-b:a", "192k"}
	case FormatFLAC:
		return []string{"-c:a", "flac"}
	case FormatAAC:
		return []string{"-c:a", "aac", "-b:a", "192k", "-f", "adts"}
	case FormatOGG:
		return []string{"-c:a", "libvorbis", "-q:a", "5"}
	case FormatM4A:
		return []string{"-c:a", "aac", "-b:a", "192k"}
	default:
		return []string{"-c:a", "pcm_s16le"}
	}
}
