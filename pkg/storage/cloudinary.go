package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

const cloudinaryMarker = "/video/upload/"

var versionSegment = regexp.MustCompile(`^v\d+/`)

// CloudinaryConfig contains credentials required to talk to Cloudinary.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

// CloudinaryStore keeps recordings as Cloudinary video assets, which is how Cloudinary
// classifies audio. Signed delivery URLs do not expire, so SignedURL ignores ttl.
type CloudinaryStore struct {
	client *cloudinary.Cloudinary
	cfg    CloudinaryConfig
	logger zerolog.Logger
}

// NewCloudinaryStore constructs a Cloudinary-backed store.
func NewCloudinaryStore(cfg CloudinaryConfig, logger zerolog.Logger) (*CloudinaryStore, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &CloudinaryStore{
		client: cld,
		cfg:    cfg,
		logger: logger.With().Str("component", "cloudinary_store").Logger(),
	}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, objectPath string, data []byte, opts UploadOptions) error {
	params := uploader.UploadParams{
		PublicID:     publicID(objectPath),
		ResourceType: "video",
		Overwrite:    api.Bool(opts.Overwrite),
	}

	result, err := s.client.Upload.Upload(ctx, bytes.NewReader(data), params)
	if err != nil {
		return fmt.Errorf("failed to upload asset: %w", err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("failed to upload asset: %s", result.Error.Message)
	}

	s.logger.Info().Str("public_id", result.PublicID).Msg("recording uploaded to cloudinary")
	return nil
}

func (s *CloudinaryStore) PublicURL(objectPath string) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s%s%s", s.cfg.CloudName, cloudinaryMarker, objectPath)
}

func (s *CloudinaryStore) SignedURL(_ context.Context, objectPath string, _ time.Duration) (string, error) {
	asset, err := s.client.Video(publicID(objectPath))
	if err != nil {
		return "", err
	}
	asset.Config.URL.SignURL = true
	return asset.String()
}

func (s *CloudinaryStore) ObjectPath(publicURL string) string {
	rest := PathFromURL(publicURL, cloudinaryMarker)
	if rest == publicURL {
		return publicURL
	}
	return versionSegment.ReplaceAllString(rest, "")
}

func publicID(objectPath string) string {
	return strings.TrimSuffix(objectPath, path.Ext(objectPath))
}
