package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinioConfig holds connection details for a MinIO or S3-compatible endpoint.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string
	PathMarker string
}

// MinioStore is the default recording store.
type MinioStore struct {
	client *minio.Client
	cfg    MinioConfig
	logger zerolog.Logger
}

// NewMinioStore connects to MinIO and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger zerolog.Logger) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio: %w", err)
	}

	store := &MinioStore{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "minio_store").Logger(),
	}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (m *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("bucket created")
	}
	return nil
}

func (m *MinioStore) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	if !opts.Overwrite {
		exists, err := m.exists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			return ErrObjectExists
		}
	}

	_, err := m.client.PutObject(ctx, m.cfg.Bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	if err != nil {
		return err
	}
	m.logger.Debug().Str("path", path).Int("size", len(data)).Msg("object stored")
	return nil
}

func (m *MinioStore) exists(ctx context.Context, path string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.cfg.Bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *MinioStore) PublicURL(path string) string {
	if m.cfg.PublicBase != "" {
		return strings.TrimRight(m.cfg.PublicBase, "/") + "/" + m.cfg.Bucket + "/" + path
	}
	scheme := "http://"
	if m.cfg.UseSSL {
		scheme = "https://"
	}
	return scheme + m.cfg.Endpoint + "/" + m.cfg.Bucket + "/" + path
}

func (m *MinioStore) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	signed, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, path, ttl, nil)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}

func (m *MinioStore) ObjectPath(publicURL string) string {
	return PathFromURL(publicURL, bucketMarker(m.cfg.Bucket, m.cfg.PathMarker))
}
