package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"QFMIngest/config"
	"QFMIngest/core/pipeline"
)

// ErrBlobNotFound is returned by Get when the object does not exist.
var ErrBlobNotFound = fmt.Errorf("blob not found: %w", pipeline.ErrNotFound)

// BlobStore is durable object storage addressed by container and path.
type BlobStore interface {
	Get(ctx context.Context, container, path string) (io.ReadCloser, error)
	// Put stores r. size may be -1 when unknown.
	Put(ctx context.Context, container, path string, r io.Reader, size int64, contentType string) error
	// Delete removes the object. A missing object is not an error.
	Delete(ctx context.Context, container, path string) error
	EnsureContainer(ctx context.Context, container string) error
}

// Lister is implemented by stores that can enumerate a container.
type Lister interface {
	List(ctx context.Context, container, prefix string) ([]ObjectInfo, error)
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// Summarize aggregates a listing.
func Summarize(objects []ObjectInfo) BucketStats {
	var stats BucketStats
	for _, o := range objects {
		stats.TotalObjects++
		stats.TotalSize += o.Size
		if o.LastModified.After(stats.LastModified) {
			stats.LastModified = o.LastModified
		}
	}
	return stats
}

// Containers names the three containers the pipeline uses.
type Containers struct {
	Uploads string
	Tracks  string
	Art     string
}

// ContainersFrom reads container names from the configuration.
func ContainersFrom(cfg *config.Config) Containers {
	return Containers{Uploads: cfg.UploadContainer, Tracks: cfg.TrackContainer, Art: cfg.ArtContainer}
}

// All lists the container names.
func (c Containers) All() []string {
	return []string{c.Uploads, c.Tracks, c.Art}
}

// UploadPath is the transient upload location of a track in the uploads container.
func UploadPath(trackID string) string { return trackID }

// TrackPath is the location of one quality variant in the tracks container.
func TrackPath(presetDir, trackID string) string { return path.Join(presetDir, trackID) }

// ArtPath is the location of a picture in the art container.
func ArtPath(artID string) string { return artID }

// New builds the BlobStore selected by BLOB_BACKEND.
func New(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	switch cfg.BlobBackend {
	case "", "minio":
		return NewMinioStore(cfg)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported BLOB_BACKEND %q", cfg.BlobBackend)
	}
}

// Download copies an object into the local file dst. A partial dst is removed
// on failure.
func Download(ctx context.Context, store BlobStore, container, objectPath, dst string) (int64, error) {
	rc, err := store.Get(ctx, container, objectPath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("%w: download %s/%s: %v", pipeline.ErrTransientIO, container, objectPath, err)
	}
	return n, nil
}

// Upload stores the local file src as an object.
func Upload(ctx context.Context, store BlobStore, container, objectPath, src, contentType string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := store.Put(ctx, container, objectPath, f, info.Size(), contentType); err != nil {
		return fmt.Errorf("%w: upload %s/%s: %v", pipeline.ErrTransientIO, container, objectPath, err)
	}
	return nil
}
