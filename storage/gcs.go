package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"QFMIngest/config"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore is a BlobStore on Google Cloud Storage. Containers are buckets.
type GCSStore struct {
	client    *storage.Client
	projectID string
}

// NewGCSStore creates a GCS client, using GCS_CREDENTIALS_FILE when set and
// application default credentials otherwise.
func NewGCSStore(ctx context.Context, cfg *config.Config) (*GCSStore, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, projectID: cfg.GCSProjectID}, nil
}

func (g *GCSStore) Get(ctx context.Context, container, path string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(container).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, path)
		}
		return nil, fmt.Errorf("failed to read %s/%s: %w", container, path, err)
	}
	return r, nil
}

func (g *GCSStore) Put(ctx context.Context, container, path string, r io.Reader, _ int64, contentType string) error {
	w := g.client.Bucket(container).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (g *GCSStore) Delete(ctx context.Context, container, path string) error {
	err := g.client.Bucket(container).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s/%s: %w", container, path, err)
	}
	return nil
}

func (g *GCSStore) EnsureContainer(ctx context.Context, container string) error {
	bucket := g.client.Bucket(container)
	_, err := bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("failed to read bucket %s: %w", container, err)
	}
	if g.projectID == "" {
		return fmt.Errorf("bucket %s does not exist and GCS_PROJECT_ID is empty", container)
	}
	if err := bucket.Create(ctx, g.projectID, nil); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", container, err)
	}
	return nil
}

func (g *GCSStore) List(ctx context.Context, container, prefix string) ([]ObjectInfo, error) {
	it := g.client.Bucket(container).Objects(ctx, &storage.Query{Prefix: prefix})
	var objects []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", container, err)
		}
		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
			ContentType:  attrs.ContentType,
		})
	}
	return objects, nil
}

// Close releases the client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
