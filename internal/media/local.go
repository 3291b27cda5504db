package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalDir is a Host that keeps images in a directory, for development
// without a Cloudinary account. Files are served by the HTTP server under
// baseURL.
type LocalDir struct {
	dir     string
	baseURL string
}

// NewLocalDir creates the directory if needed.
func NewLocalDir(dir, baseURL string) (*LocalDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: creating %s: %w", dir, err)
	}
	return &LocalDir{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory images are written to.
func (l *LocalDir) Dir() string {
	return l.dir
}

func (l *LocalDir) Upload(_ context.Context, publicID string, r io.Reader) (string, error) {
	path, err := l.path(publicID)
	if err != nil {
		return "", err
	}

	// Write to a temp file first so a failed upload never truncates the
	// existing image.
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("media: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("media: writing image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("media: writing image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("media: storing image: %w", err)
	}

	// The version query busts client caches after an overwrite.
	version := strconv.FormatInt(time.Now().UnixNano(), 10)
	return l.baseURL + "/" + publicID + "?v=" + version, nil
}

func (l *LocalDir) Delete(_ context.Context, publicID string) error {
	path, err := l.path(publicID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("media: deleting image: %w", err)
	}
	return nil
}

func (l *LocalDir) path(publicID string) (string, error) {
	if publicID == "" || strings.ContainsAny(publicID, `/\`) || strings.HasPrefix(publicID, ".") {
		return "", ErrInvalidID
	}
	return filepath.Join(l.dir, publicID), nil
}
