package codec

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// maxBinarySize caps the extracted executable to guard against archive bombs.
const maxBinarySize = 512 << 20

const verifyTimeout = 10 * time.Second

// Locator resolves the ffmpeg executable.
//
// Resolution order: the configured path, a portable copy under
// ToolsDir/ffmpeg/bin, the system PATH, and finally a download of
// DownloadURL (zip or tar.gz) extracted into ToolsDir/ffmpeg/bin.
type Locator struct {
	ConfiguredPath string
	ToolsDir       string
	DownloadURL    string
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Resolve returns a verified ffmpeg path or ErrUnavailable.
func (l *Locator) Resolve(ctx context.Context) (string, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if l.ConfiguredPath != "" {
		if err := verify(ctx, l.ConfiguredPath); err != nil {
			return "", fmt.Errorf("%w: configured path %s: %w", ErrUnavailable, l.ConfiguredPath, err)
		}
		logger.Info("using configured ffmpeg", slog.String("path", l.ConfiguredPath))
		return l.ConfiguredPath, nil
	}

	portable := l.portablePath()
	if portable != "" {
		if err := verify(ctx, portable); err == nil {
			logger.Info("using portable ffmpeg", slog.String("path", portable))
			return portable, nil
		}
	}

	if p, err := exec.LookPath(binaryName()); err == nil {
		logger.Info("using system ffmpeg", slog.String("path", p))
		return p, nil
	}

	if l.DownloadURL == "" || portable == "" {
		return "", ErrUnavailable
	}

	logger.Info("ffmpeg not found, downloading portable copy", slog.String("url", l.DownloadURL))
	if err := l.download(ctx, portable); err != nil {
		logger.Error("ffmpeg download failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := verify(ctx, portable); err != nil {
		return "", fmt.Errorf("%w: downloaded binary: %w", ErrUnavailable, err)
	}
	logger.Info("portable ffmpeg installed", slog.String("path", portable))
	return portable, nil
}

func (l *Locator) portablePath() string {
	if l.ToolsDir == "" {
		return ""
	}
	return filepath.Join(l.ToolsDir, "ffmpeg", "bin", binaryName())
}

// download fetches the archive and extracts the ffmpeg binary to dst.
func (l *Locator) download(ctx context.Context, dst string) error {
	client := l.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create tools dir: %w", err)
	}

	// zip needs random access, so the archive is spooled to disk first.
	archive, err := os.CreateTemp(filepath.Dir(dst), "ffmpeg-download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()
	size, err := io.Copy(archive, resp.Body)
	if err != nil {
		return fmt.Errorf("save archive: %w", err)
	}

	name := strings.ToLower(path.Base(req.URL.Path))
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(archive, size, dst)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		if _, err := archive.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind archive: %w", err)
		}
		return extractTarGz(archive, dst)
	default:
		return fmt.Errorf("unsupported archive %q", name)
	}
}

var errBinaryNotInArchive = errors.New("ffmpeg binary not found in archive")

func extractZip(r io.ReaderAt, size int64, dst string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || path.Base(f.Name) != binaryName() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		defer func() { _ = rc.Close() }()
		return writeExecutable(rc, dst)
	}
	return errBinaryNotInArchive
}

func extractTarGz(r io.Reader, dst string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return errBinaryNotInArchive
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg && path.Base(hdr.Name) == binaryName() {
			return writeExecutable(tr, dst)
		}
	}
}

func writeExecutable(r io.Reader, dst string) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755) // #nosec G302 G304 - executable under the tools dir
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(f, io.LimitReader(r, maxBinarySize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxBinarySize {
		err = fmt.Errorf("binary exceeds %d bytes", maxBinarySize)
	}
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("extract ffmpeg: %w", err)
	}
	return nil
}

// verify runs "ffmpeg -version" to confirm the binary works.
func verify(ctx context.Context, p string) error {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	// #nosec G204 - path comes from configuration or the tools dir
	out, err := exec.CommandContext(ctx, p, "-version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s -version: %w", p, err)
	}
	if !strings.Contains(strings.ToLower(string(out)), "ffmpeg") {
		return fmt.Errorf("%s -version: unexpected output", p)
	}
	return nil
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}
