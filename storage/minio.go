package storage

import (
	"context"
	"fmt"
	"io"

	"QFMIngest/config"
	"QFMIngest/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinioStore 基于 MinIO/S3 的 BlobStore 实现，container 对应存储桶
type MinioStore struct {
	client *minio.Client
	region string
	log    *zap.Logger
}

// NewMinioStore 创建 MinIO 客户端
func NewMinioStore(cfg *config.Config) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	log := logger.Named("minio")
	log.Info("minio client created",
		zap.String("endpoint", cfg.MinioEndpoint),
		zap.String("region", cfg.MinioRegion),
		zap.String("accessKey", mask(cfg.MinioAccessKey)))

	return &MinioStore{client: client, region: cfg.MinioRegion, log: log}, nil
}

func mask(s string) string {
	if len(s) > 4 {
		return s[:4] + "..."
	}
	return "***"
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

// Get 读取对象。对象不存在时返回 ErrBlobNotFound
func (m *MinioStore) Get(ctx context.Context, container, path string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, container, path, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, path)
		}
		return nil, fmt.Errorf("读取对象失败 %s/%s: %w", container, path, err)
	}
	// GetObject 是惰性的，Stat 才会真正访问服务器
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrBlobNotFound, container, path)
		}
		return nil, fmt.Errorf("读取对象失败 %s/%s: %w", container, path, err)
	}
	return obj, nil
}

// Put 上传对象
func (m *MinioStore) Put(ctx context.Context, container, path string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, container, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("上传对象失败 %s/%s: %w", container, path, err)
	}
	m.log.Debug("object uploaded", zap.String("container", container), zap.String("path", path), zap.Int64("size", size))
	return nil
}

// Delete 删除对象，不存在视为成功
func (m *MinioStore) Delete(ctx context.Context, container, path string) error {
	err := m.client.RemoveObject(ctx, container, path, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("删除对象失败 %s/%s: %w", container, path, err)
	}
	return nil
}

// EnsureContainer 检查存储桶是否存在，不存在则创建
func (m *MinioStore) EnsureContainer(ctx context.Context, container string) error {
	exists, err := m.client.BucketExists(ctx, container)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, container, minio.MakeBucketOptions{Region: m.region}); err != nil {
		// 并发创建时可能已被其他进程创建
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	m.log.Info("bucket created", zap.String("bucket", container))
	return nil
}

// List 列出存储桶中的对象
func (m *MinioStore) List(ctx context.Context, container, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for object := range m.client.ListObjects(ctx, container, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}
	return objects, nil
}
