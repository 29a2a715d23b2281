package codec

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/maauso/decupagem-api/internal/audio"
)

// WAVE format tags. ffmpeg writes the extensible tag for deep or
// multichannel PCM.
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// errNotPCM marks WAV files the in-process reader does not handle
// (float, compressed or 8-bit payloads). Decode falls back to ffmpeg for them.
var errNotPCM = errors.New("codec: not an integer PCM wav")

// readWAV decodes an integer PCM WAV stream into a Buffer. The extensible
// tag is only honored for files produced by ffmpeg with an integer PCM
// codec, since its sub-format may also be float.
func readWAV(r io.ReadSeeker, allowExtensible bool) (*audio.Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errNotPCM
	}
	if d.WavAudioFormat != wavFormatPCM && !(allowExtensible && d.WavAudioFormat == wavFormatExtensible) {
		return nil, fmt.Errorf("%w: format tag %d", errNotPCM, d.WavAudioFormat)
	}
	depth := int(d.BitDepth)
	if depth != 16 && depth != 24 && depth != 32 {
		return nil, fmt.Errorf("%w: %d-bit", errNotPCM, depth)
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}

	scale := float64(int64(1) << (depth - 1))
	samples := make([]float64, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = float64(v) / scale
	}
	channels := int(d.NumChans)
	// Trailing partial frames appear in truncated files.
	samples = samples[:len(samples)-len(samples)%channels]
	return audio.NewBuffer(samples, channels, int(d.SampleRate))
}

// readWAVFile opens path and decodes it with readWAV.
func readWAVFile(path string, allowExtensible bool) (*audio.Buffer, error) {
	f, err := os.Open(path) // #nosec G304 - path is resolved by the storage layer
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return readWAV(f, allowExtensible)
}

// writeWAV encodes b as integer PCM at the given bit depth.
func writeWAV(w io.WriteSeeker, b *audio.Buffer, bitDepth int) error {
	enc := wav.NewEncoder(w, b.SampleRate(), bitDepth, b.Channels(), wavFormatPCM)

	full := float64(int64(1)<<(bitDepth-1)) - 1
	src := b.Samples()
	data := make([]int, len(src))
	for i, s := range src {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * full))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: b.Channels(), SampleRate: b.SampleRate()},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write pcm: %w", err)
	}
	return enc.Close()
}

// writeWAVFile creates path and writes b into it.
func writeWAVFile(path string, b *audio.Buffer, bitDepth int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304
	if err != nil {
		return err
	}
	if err := writeWAV(f, b, bitDepth); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
