package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maauso/decupagem-api/internal/audio"
	"github.com/maauso/decupagem-api/internal/mastering"
	"github.com/maauso/decupagem-api/internal/metrics"
)

// DefaultTimeout bounds a single ffmpeg invocation.
const DefaultTimeout = 2 * time.Minute

// Sample depth of the WAV intermediates exchanged with ffmpeg.
const (
	intermediateBitDepth = 32
	deliveryBitDepth     = 16
)

// Transcription input layout expected by speech models.
const (
	speechSampleRate = 16000
	speechChannels   = 1
)

// Gateway decodes and encodes audio files and runs ffmpeg filter chains.
type Gateway struct {
	ffmpegPath string
	timeout    time.Duration
	workDir    string
	logger     *slog.Logger
}

// Compile-time check that Gateway can back the mastering equalizer stage.
var _ mastering.Equalizer = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds each ffmpeg invocation.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithWorkDir sets the directory for temporary conversion files.
func WithWorkDir(dir string) Option {
	return func(g *Gateway) {
		g.workDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a Gateway around a resolved ffmpeg path.
// An empty path yields a gateway that only handles PCM WAV in-process and
// returns ErrUnavailable for everything else.
func NewGateway(ffmpegPath string, opts ...Option) *Gateway {
	g := &Gateway{
		ffmpegPath: ffmpegPath,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether an ffmpeg executable was resolved.
func (g *Gateway) Available() bool {
	return g.ffmpegPath != ""
}

// FFmpegPath returns the resolved executable path, or "" when unavailable.
func (g *Gateway) FFmpegPath() string {
	return g.ffmpegPath
}

// Decode reads an audio file into memory.
// Integer PCM WAV is parsed in-process; other containers are converted by ffmpeg.
func (g *Gateway) Decode(ctx context.Context, path string) (*audio.Buffer, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	if format == FormatWAV {
		b, err := readWAVFile(path, false)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, errNotPCM) || !g.Available() {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		g.logger.Debug("wav not handled in-process, using ffmpeg",
			slog.String("path", path),
			slog.String("reason", err.Error()),
		)
	}

	tmp, cleanup, err := g.tempFile("decode-*.wav")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := []string{"-i", path, "-vn", "-c:a", "pcm_s32le", "-f", "wav", tmp}
	if err := g.runFFmpeg(ctx, "decode", args); err != nil {
		return nil, wrapRunError(ErrDecode, err)
	}

	b, err := readWAVFile(tmp, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return b, nil
}

// Encode writes b to dst in the given format.
// Empty buffers and zero-length outputs are rejected so a failed export is never reported as success.
func (g *Gateway) Encode(ctx context.Context, b *audio.Buffer, format Format, dst string) error {
	if _, ok := mimeTypes[format]; !ok {
		return fmt.Errorf("%w: %w: %q", ErrEncode, ErrUnsupportedFormat, format)
	}
	if b.Frames() == 0 {
		return fmt.Errorf("%w: empty audio", ErrEncode)
	}

	if format == FormatWAV {
		if err := writeWAVFile(dst, b, deliveryBitDepth); err != nil {
			_ = os.Remove(dst)
			return fmt.Errorf("%w: %w", ErrEncode, err)
		}
		return checkOutput(dst)
	}

	src, cleanup, err := g.tempFile("encode-*.wav")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := writeWAVFile(src, b, intermediateBitDepth); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	args := append([]string{"-i", src, "-vn"}, format.encoderArgs()...)
	args = append(args, dst)
	if err := g.runFFmpeg(ctx, "encode", args); err != nil {
		_ = os.Remove(dst)
		return wrapRunError(ErrEncode, err)
	}
	return checkOutput(dst)
}

// Equalize applies a peaking equalizer through ffmpeg.
// The output keeps the channel count and sample rate of b.
func (g *Gateway) Equalize(ctx context.Context, b *audio.Buffer, centerHz, gainDB float64) (*audio.Buffer, error) {
	if !g.Available() {
		metrics.RecordCodec("equalize", "unavailable")
		return nil, ErrUnavailable
	}

	in, cleanIn, err := g.tempFile("eq-in-*.wav")
	if err != nil {
		return nil, err
	}
	defer cleanIn()
	out, cleanOut, err := g.tempFile("eq-out-*.wav")
	if err != nil {
		return nil, err
	}
	defer cleanOut()

	if err := writeWAVFile(in, b, intermediateBitDepth); err != nil {
		return nil, fmt.Errorf("write equalizer input: %w", err)
	}

	filter := fmt.Sprintf("equalizer=f=%g:t=q:w=1:g=%g", centerHz, gainDB)
	args := []string{
		"-i", in,
		"-af", filter,
		"-ac", fmt.Sprint(b.Channels()),
		"-ar", fmt.Sprint(b.SampleRate()),
		"-c:a", "pcm_s32le",
		"-f", "wav",
		out,
	}
	if err := g.runFFmpeg(ctx, "equalize", args); err != nil {
		return nil, err
	}

	return readWAVFile(out, true)
}

// ConvertForSpeech converts src to a mono 16 kHz PCM WAV for transcription.
// The returned cleanup removes the converted file and must always be called.
// Without ffmpeg a WAV source is passed through as-is.
func (g *Gateway) ConvertForSpeech(ctx context.Context, src string) (string, func(), error) {
	format, err := FormatOf(src)
	if err != nil {
		return "", nil, err
	}
	if !g.Available() {
		if format == FormatWAV {
			return src, func() {}, nil
		}
		return "", nil, ErrUnavailable
	}

	dst, cleanup, err := g.tempFile("speech-*.wav")
	if err != nil {
		return "", nil, err
	}

	args := []string{
		"-i", src,
		"-vn",
		"-ac", fmt.Sprint(speechChannels),
		"-ar", fmt.Sprint(speechSampleRate),
		"-c:a", "pcm_s16le",
		dst,
	}
	if err := g.runFFmpeg(ctx, "convert", args); err != nil {
		cleanup()
		return "", nil, wrapRunError(ErrDecode, err)
	}
	return dst, cleanup, nil
}

// tempFile reserves a unique path in the work directory. The cleanup
// function removes it and is safe to call more than once.
func (g *Gateway) tempFile(pattern string) (string, func(), error) {
	f, err := os.CreateTemp(g.workDir, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return name, func() { _ = os.Remove(name) }, nil
}

// wrapRunError tags ffmpeg failures with kind unless they already carry a
// more specific sentinel.
func wrapRunError(kind, err error) error {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return fmt.Errorf("%w: zero-length output", ErrEncode)
	}
	return nil
}
