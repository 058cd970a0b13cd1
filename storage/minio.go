package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"craftworker/config"
	"craftworker/logger"
	"craftworker/model"
)

// Object key prefixes inside the bucket.
const (
	PartsPrefix  = "podcast-parts"
	CraftsPrefix = "crafts"
)

// StorageTypeMinio marks descriptors produced by the MinIO backend.
const StorageTypeMinio = "minio"

// NewMinioClient creates a raw MinIO client from cfg.
func NewMinioClient(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}
	return client, nil
}

// MinioStore reads parts from and writes crafts to a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	log    *zap.Logger
}

// NewMinioStore wraps client for bucket.
func NewMinioStore(client *minio.Client, bucket, region string) *MinioStore {
	return &MinioStore{
		client: client,
		bucket: bucket,
		region: region,
		log:    logger.Named("storage-minio", zap.String("bucket", bucket)),
	}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.Info("Created bucket")
	return nil
}

// FetchPart streams podcast part id from the bucket.
func (s *MinioStore) FetchPart(ctx context.Context, id string) (io.ReadCloser, error) {
	key := PartKey(id)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioStatusError("fetch part "+id, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller starts copying.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, minioStatusError("fetch part "+id, err)
	}
	return obj, nil
}

// UploadCraft stores localPath under the crafts prefix.
func (s *MinioStore) UploadCraft(ctx context.Context, localPath, filename string) (model.StorageDescriptor, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return model.StorageDescriptor{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return model.StorageDescriptor{}, err
	}

	key := CraftKey(filename)
	if _, err := s.client.PutObject(ctx, s.bucket, key, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentTypeFor(filename),
	}); err != nil {
		return model.StorageDescriptor{}, minioStatusError("upload craft", err)
	}

	s.log.Info("Uploaded craft", zap.String("key", key), logger.Int64("bytes", info.Size()))
	return model.StorageDescriptor{
		StorageType:     StorageTypeMinio,
		StoragePath:     path.Join(s.bucket, CraftsPrefix),
		StorageFilename: filename,
	}, nil
}

// PartKey is the object key of podcast part id.
func PartKey(id string) string {
	return path.Join(PartsPrefix, id)
}

// CraftKey is the object key of a finished craft.
func CraftKey(filename string) string {
	return path.Join(CraftsPrefix, filename)
}

func minioStatusError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	status := resp.StatusCode
	if status == 0 {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket":
			status = http.StatusNotFound
		default:
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return &StatusError{Op: op, Status: status, Body: resp.Message}
}

func contentTypeFor(filename string) string {
	switch path.Ext(filename) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".aac":
		return "audio/aac"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
