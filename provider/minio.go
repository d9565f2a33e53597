package provider

import (
	"context"
	"fmt"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"interview-orchestrator/entities"
	"net/url"
	"path"
	"strings"
	"time"
)

type MinioConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	PublicURL    string
	PresignedTTL time.Duration
}

type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
	ttl       time.Duration
	now       func() time.Time
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	ttl := cfg.PresignedTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MinioStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return NewError(KindStorageUnavailable, "minio.bucket_exists", "check bucket", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return NewError(KindStorageUnavailable, "minio.make_bucket", "create bucket", err)
	}
	return nil
}

func (s *MinioStore) StoreObject(ctx context.Context, obj Object) (entities.StoredObject, error) {
	const op = "minio.put_object"
	key := ObjectKey(obj.KeyHint, s.now())
	_, err := s.client.PutObject(ctx, s.bucket, key, obj.Body, obj.Size, minio.PutObjectOptions{
		ContentType: obj.ContentType,
	})
	if err != nil {
		return entities.StoredObject{}, minioError(op, err)
	}

	if s.publicURL != "" {
		return entities.StoredObject{URL: s.publicURL + "/" + s.bucket + "/" + key, Key: key}, nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, url.Values{})
	if err != nil {
		return entities.StoredObject{}, minioError("minio.presign", err)
	}
	return entities.StoredObject{URL: u.String(), Key: key}, nil
}

func (s *MinioStore) DeleteObject(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return minioError("minio.remove_object", err)
	}
	return nil
}

func minioError(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "QuotaExceeded", "XMinioAdminBucketQuotaExceeded", "XMinioStorageFull":
		return NewError(KindQuota, op, "storage quota exceeded", err)
	}
	return NewError(KindStorageUnavailable, op, "storage unavailable", err)
}

// ObjectKey places a timestamp in front of the base name of hint:
// recordings/<interview>/<name> becomes recordings/<interview>/<ts>_<name>.
func ObjectKey(hint string, now time.Time) string {
	hint = strings.TrimLeft(path.Clean("/"+hint), "/")
	dir, name := path.Split(hint)
	if name == "" {
		name = "object"
	}
	return dir + now.UTC().Format("20060102_150405") + "_" + name
}
