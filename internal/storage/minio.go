package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/intelliguard/internal/config"
	"github.com/your-org/intelliguard/internal/models"
	"github.com/your-org/intelliguard/internal/vision"
)

// Object key prefixes inside the bucket.
const (
	FacesPrefix      = "faces/"
	BelongingsPrefix = "belongings/"
)

// MinIOStore holds belonging photos and, through Samples, the face corpus.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// PutObject uploads data under the given key.
func (s *MinIOStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// GetObject retrieves data by key.
func (s *MinIOStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// DeleteObject removes an object. Deleting a missing key succeeds.
func (s *MinIOStore) DeleteObject(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// ListObjects returns all object keys under the given prefix.
func (s *MinIOStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *MinIOStore) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

// Ping checks MinIO connectivity.
func (s *MinIOStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// Samples exposes the face corpus stored under FacesPrefix.
func (s *MinIOStore) Samples() *MinIOSampleStore {
	return &MinIOSampleStore{store: s}
}

// MinIOSampleStore keeps one PNG object per face sample.
type MinIOSampleStore struct {
	store *MinIOStore
}

func (m *MinIOSampleStore) Put(ctx context.Context, sample models.FaceSample) error {
	if err := models.ValidateIdentity(sample.Identity); err != nil {
		return err
	}
	key := FacesPrefix + sample.Name()

	// Enrollment is serialized, so check-then-put cannot race another writer.
	exists, err := m.store.exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrSampleExists, sample.Name())
	}

	data, err := vision.EncodePNG(sample.Image)
	if err != nil {
		return err
	}
	return m.store.PutObject(ctx, key, data, "image/png")
}

func (m *MinIOSampleStore) List(ctx context.Context) ([]models.SampleRef, error) {
	keys, err := m.store.ListObjects(ctx, FacesPrefix)
	if err != nil {
		return nil, err
	}
	refs := make([]models.SampleRef, 0, len(keys))
	for _, key := range keys {
		if path.Dir(key)+"/" != FacesPrefix {
			continue
		}
		if ref, ok := models.ParseSampleName(key); ok {
			refs = append(refs, ref)
		}
	}
	sortSampleRefs(refs)
	return refs, nil
}

func (m *MinIOSampleStore) Load(ctx context.Context, ref models.SampleRef) (*image.Gray, error) {
	data, err := m.store.GetObject(ctx, FacesPrefix+ref.Name)
	if err != nil {
		return nil, err
	}
	img, err := vision.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", ref.Name, err)
	}
	return vision.ToGray(img), nil
}
