package provider

import (
	"cloud.google.com/go/storage"
	"context"
	"errors"
	"fmt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"interview-orchestrator/entities"
	"io"
	"net/http"
	"strings"
	"time"
)

type GCSConfig struct {
	Bucket string
	// Credentials is either a path to a service account file or the JSON itself.
	Credentials  string
	PublicURL    string
	PresignedTTL time.Duration
}

type GCSStore struct {
	client    *storage.Client
	bucket    string
	publicURL string
	ttl       time.Duration
	now       func() time.Time
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	opts := append(ClientOptions(cfg.Credentials), option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	ttl := cfg.PresignedTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &GCSStore{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) StoreObject(ctx context.Context, obj Object) (entities.StoredObject, error) {
	const op = "gcs.write_object"
	key := ObjectKey(obj.KeyHint, s.now())

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = obj.ContentType
	if _, err := io.Copy(w, obj.Body); err != nil {
		_ = w.Close()
		return entities.StoredObject{}, gcsError(op, err)
	}
	if err := w.Close(); err != nil {
		return entities.StoredObject{}, gcsError(op, err)
	}

	if s.publicURL != "" {
		return entities.StoredObject{URL: s.publicURL + "/" + key, Key: key}, nil
	}
	signed, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: s.now().Add(s.ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return entities.StoredObject{}, gcsError("gcs.sign_url", err)
	}
	return entities.StoredObject{URL: signed, Key: key}, nil
}

func (s *GCSStore) DeleteObject(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return gcsError("gcs.delete_object", err)
}

func gcsError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusForbidden {
		for _, item := range gerr.Errors {
			if strings.Contains(strings.ToLower(item.Reason), "quota") {
				return NewError(KindQuota, op, "storage quota exceeded", err)
			}
		}
	}
	return NewError(KindStorageUnavailable, op, "storage unavailable", err)
}

// ClientOptions builds Google client options from a credentials file path or
// inline JSON. Empty credentials fall back to application default credentials.
func ClientOptions(credentials string) []option.ClientOption {
	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		return nil
	}
	if strings.HasPrefix(credentials, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credentials))}
	}
	return []option.ClientOption{option.WithCredentialsFile(credentials)}
}
