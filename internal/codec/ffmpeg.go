package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/maauso/decupagem-api/internal/metrics"
)

// runFFmpeg executes ffmpeg with the given arguments under the gateway
// timeout. op labels the invocation in metrics and logs.
func (g *Gateway) runFFmpeg(ctx context.Context, op string, args []string) error {
	if !g.Available() {
		metrics.RecordCodec(op, "unavailable")
		return ErrUnavailable
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	full := append([]string{"-hide_banner", "-nostdin", "-y"}, args...)
	// #nosec G204 - ffmpegPath is resolved by the locator, not user input
	cmd := exec.CommandContext(runCtx, g.ffmpegPath, full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		metrics.RecordCodec(op, "success")
		return nil
	}

	if ctx.Err() != nil {
		metrics.RecordCodec(op, "error")
		return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		metrics.RecordCodec(op, "timeout")
		g.logger.Warn("ffmpeg timed out",
			slog.String("op", op),
			slog.Duration("timeout", g.timeout),
		)
		return fmt.Errorf("%w: %s after %s", ErrTimeout, op, g.timeout)
	}

	metrics.RecordCodec(op, "error")
	return &FFmpegError{
		Args:   full,
		Stderr: lastLines(stderr.String(), 20),
		Err:    err,
	}
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// lastLines keeps the tail of ffmpeg's stderr, where the failure reason is printed.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
