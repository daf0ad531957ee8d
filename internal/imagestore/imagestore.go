// Package imagestore persists dose and medication pictures and hands back the
// opaque reference stored in the database.
package imagestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"pillbox-backend/config"
)

// ErrTooLarge is returned when an image exceeds the configured size limit.
var ErrTooLarge = errors.New("image exceeds size limit")

// Store saves and deletes binary images.
type Store interface {
	// Save writes data and returns a reference. name is only used for its
	// extension.
	Save(ctx context.Context, data []byte, name string) (string, error)
	Delete(ctx context.Context, ref string) error
	// URL turns a stored reference into something a client can fetch.
	URL(ref string) string
}

// New builds the backend selected in cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		s, err := NewLocal(cfg.Dir, cfg.BaseURL, cfg.MaxImageSize)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "gcs":
		s, err := NewGCS(ctx, cfg.Bucket, cfg.CDNDomain, cfg.MaxImageSize)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// DecodeBase64 decodes an image sent inline, with or without a data URI
// prefix such as "data:image/jpeg;base64,".
func DecodeBase64(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if i := strings.Index(raw, ","); i >= 0 {
			raw = raw[i+1:]
		}
	}
	if raw == "" {
		return nil, errors.New("empty image data")
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		// Some firmware builds omit padding.
		if data, err2 := base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "=")); err2 == nil {
			return data, nil
		}
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}

// objectName generates a unique name that keeps the original extension.
func objectName(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
	default:
		ext = ".jpg"
	}
	return uuid.NewString() + ext
}

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
