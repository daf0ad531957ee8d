package imagestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores images in a Google Cloud Storage bucket.
type GCS struct {
	client    *storage.Client
	bucket    string
	cdnDomain string
	maxSize   int
}

func NewGCS(ctx context.Context, bucket, cdnDomain string, maxSize int) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("storage.bucket is required for the gcs backend")
	}
	opts := append(clientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, cdnDomain: cdnDomain, maxSize: maxSize}, nil
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
}

func (g *GCS) Save(ctx context.Context, data []byte, name string) (string, error) {
	if g.maxSize > 0 && len(data) > g.maxSize {
		return "", ErrTooLarge
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	ref := "pictures/" + objectName(name)
	w := g.client.Bucket(g.bucket).Object(ref).NewWriter(ctx)
	w.ContentType = contentType(ref)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return ref, nil
}

func (g *GCS) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := g.client.Bucket(g.bucket).Object(ref).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete GCS object %q: %w", ref, err)
	}
	return nil
}

func (g *GCS) URL(ref string) string {
	if ref == "" {
		return ""
	}
	if g.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", g.cdnDomain, ref)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, ref)
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}
