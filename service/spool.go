package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
)

var AllowedRecordingFormats = []string{".mp4", ".webm", ".mov"}

// SpoolFile is an upload that has been fully received and validated.
type SpoolFile struct {
	Path        string
	FileName    string
	ContentType string
	Size        int64
}

// ValidateRecording checks the extension and size of an upload before it is
// spooled.
func ValidateRecording(fileName string, size, maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	allowed := false
	for _, f := range AllowedRecordingFormats {
		if ext == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %q, allowed %s", ErrUnsupportedFormat, ext, strings.Join(AllowedRecordingFormats, ", "))
	}
	if maxBytes > 0 && size > maxBytes {
		return fmt.Errorf("%w: %d bytes, max %d", ErrFileTooLarge, size, maxBytes)
	}
	return nil
}

// Spool copies r into a new file under dir. It fails with ErrFileTooLarge if
// more than maxBytes arrive.
func Spool(dir, fileName, contentType string, r io.Reader, maxBytes int64) (SpoolFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SpoolFile{}, fmt.Errorf("create spool dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "upload-*"+strings.ToLower(filepath.Ext(fileName)))
	if err != nil {
		return SpoolFile{}, fmt.Errorf("create spool file: %w", err)
	}
	defer f.Close()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = os.Remove(f.Name())
		return SpoolFile{}, fmt.Errorf("write spool file: %w", err)
	}
	if maxBytes > 0 && n > maxBytes {
		_ = os.Remove(f.Name())
		return SpoolFile{}, fmt.Errorf("%w: max %d bytes", ErrFileTooLarge, maxBytes)
	}
	return SpoolFile{Path: f.Name(), FileName: filepath.Base(fileName), ContentType: contentType, Size: n}, nil
}

// CleanSpool removes files in dir older than maxAge and returns how many were
// removed.
func CleanSpool(ctx context.Context, dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("file", e.Name()).Msg("failed to remove stale spool file")
			continue
		}
		removed++
	}
	return removed, nil
}
