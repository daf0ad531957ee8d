package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local keeps images in a directory served under a base URL.
type Local struct {
	dir     string
	baseURL string
	maxSize int
}

func NewLocal(dir, baseURL string, maxSize int) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir %s: %w", dir, err)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Local{dir: dir, baseURL: baseURL, maxSize: maxSize}, nil
}

func (l *Local) Save(ctx context.Context, data []byte, name string) (string, error) {
	if l.maxSize > 0 && len(data) > l.maxSize {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := objectName(name)
	if err := os.WriteFile(filepath.Join(l.dir, ref), data, 0o644); err != nil {
		return "", fmt.Errorf("write image %s: %w", ref, err)
	}
	return ref, nil
}

// Delete removes the file. A missing file is not an error.
func (l *Local) Delete(_ context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	err := os.Remove(filepath.Join(l.dir, filepath.Base(ref)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete image %s: %w", ref, err)
	}
	return nil
}

func (l *Local) URL(ref string) string {
	if ref == "" {
		return ""
	}
	return l.baseURL + ref
}

// Dir is the directory images are written to, for static file serving.
func (l *Local) Dir() string { return l.dir }
