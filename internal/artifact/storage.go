package artifact

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ObjectStore reads and writes export artifacts kept in Cloud Storage.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Fetch downloads the object behind a gs://bucket/object URI.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	// Upload writes r to bucket/object.
	Upload(ctx context.Context, bucket, object string, r io.Reader) error
}

// GCSStore is the ObjectStore backed by Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a storage client. With a non-empty endpoint (for example
// a fake-gcs-server) the client talks to it without credentials; otherwise
// Application Default Credentials are used.
func NewGCSStore(ctx context.Context, endpoint string) (*GCSStore, error) {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Fetch implements ObjectStore.
func (s *GCSStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: open reader: %w", uri, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read bytes: %w", uri, err)
	}
	return data, nil
}

// Upload implements ObjectStore.
func (s *GCSStore) Upload(ctx context.Context, bucket, object string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "text/csv"

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy artifact to gs://%s/%s: %w", bucket, object, err)
	}

	// Close finalizes the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// IsGCSURI reports whether p names a Cloud Storage object.
func IsGCSURI(p string) bool {
	return strings.HasPrefix(p, "gs://")
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCSURI(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// BaseName returns the file name of a local path or gs:// URI.
// e.g., "gs://bucket/folder/export_3.csv" → "export_3.csv"
func BaseName(p string) string {
	if IsGCSURI(p) {
		return path.Base(strings.TrimPrefix(p, "gs://"))
	}
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}
