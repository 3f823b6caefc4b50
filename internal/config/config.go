package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StorageMinio      = "minio"
	StorageS3         = "s3"
	StorageCloudinary = "cloudinary"
)

// StorageConfig selects and configures the recording blob store.
type StorageConfig struct {
	Driver           string
	Bucket           string
	PublicPathMarker string
	PublicBaseURL    string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	S3Region   string
	S3Endpoint string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
}

// AudioConfig holds the capture and validation heuristics.
type AudioConfig struct {
	MinSizeBytes    int
	MinDuration     time.Duration
	Timeslice       time.Duration
	FinalizeTimeout time.Duration
	BitsPerSecond   int
	SampleRate      int
}

// SessionConfig tunes reconciliation and the playback URL caches.
type SessionConfig struct {
	SignedURLTTL       time.Duration
	SignedURLCacheSize int
	ResolveConcurrency int
	ResolveTimeout     time.Duration
	UploadTimeout      time.Duration
	IdleTTL            time.Duration
	MaxWait            time.Duration
	CopyGuardPrefix    string
	CopyGuardTTL       time.Duration
	BlobCacheTTL       time.Duration
}

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	NotificationChannel string
	SSEKeepAlive        time.Duration

	GradingEndpoint string
	GradingToken    string
	GradingTimeout  time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration

	Storage StorageConfig
	Audio   AudioConfig
	Session SessionConfig
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),

		NotificationChannel: v.GetString("notifications.channel"),

		GradingEndpoint: v.GetString("grading.endpoint"),
		GradingToken:    v.GetString("grading.token"),

		RateLimitMax: v.GetInt("rate_limit.max"),

		Storage: StorageConfig{
			Driver:              strings.ToLower(strings.TrimSpace(v.GetString("storage.driver"))),
			Bucket:              v.GetString("storage.bucket"),
			PublicPathMarker:    v.GetString("storage.public_path_marker"),
			PublicBaseURL:       v.GetString("storage.public_base_url"),
			MinioEndpoint:       v.GetString("minio.endpoint"),
			MinioAccessKey:      v.GetString("minio.access_key"),
			MinioSecretKey:      v.GetString("minio.secret_key"),
			MinioUseSSL:         v.GetBool("minio.use_ssl"),
			S3Region:            v.GetString("s3.region"),
			S3Endpoint:          v.GetString("s3.endpoint"),
			CloudinaryCloudName: v.GetString("cloudinary.cloud_name"),
			CloudinaryAPIKey:    v.GetString("cloudinary.api_key"),
			CloudinaryAPISecret: v.GetString("cloudinary.api_secret"),
		},
		Audio: AudioConfig{
			MinSizeBytes:  v.GetInt("audio.min_size_bytes"),
			BitsPerSecond: v.GetInt("capture.bitrate"),
			SampleRate:    v.GetInt("capture.sample_rate"),
		},
		Session: SessionConfig{
			SignedURLCacheSize: v.GetInt("session.signed_url_cache_size"),
			ResolveConcurrency: v.GetInt("session.resolve_concurrency"),
			CopyGuardPrefix:    v.GetString("session.copy_guard_prefix"),
		},
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"notifications.keepalive", &cfg.SSEKeepAlive},
		{"grading.timeout", &cfg.GradingTimeout},
		{"rate_limit.window", &cfg.RateLimitWindow},
		{"capture.min_duration", &cfg.Audio.MinDuration},
		{"capture.timeslice", &cfg.Audio.Timeslice},
		{"capture.finalize_timeout", &cfg.Audio.FinalizeTimeout},
		{"session.signed_url_ttl", &cfg.Session.SignedURLTTL},
		{"session.resolve_timeout", &cfg.Session.ResolveTimeout},
		{"session.upload_timeout", &cfg.Session.UploadTimeout},
		{"session.idle_ttl", &cfg.Session.IdleTTL},
		{"session.max_wait", &cfg.Session.MaxWait},
		{"session.copy_guard_ttl", &cfg.Session.CopyGuardTTL},
		{"blobcache.ttl", &cfg.Session.BlobCacheTTL},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "GEMA Speaking API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("notifications.channel", "gema:speaking")
	v.SetDefault("notifications.keepalive", "25s")
	v.SetDefault("grading.timeout", "15s")
	v.SetDefault("rate_limit.max", 30)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("storage.driver", StorageMinio)
	v.SetDefault("storage.bucket", "recordings")
	v.SetDefault("minio.endpoint", "localhost:9000")

	v.SetDefault("audio.min_size_bytes", 200)
	v.SetDefault("capture.min_duration", "1s")
	v.SetDefault("capture.timeslice", "1s")
	v.SetDefault("capture.finalize_timeout", "10s")
	v.SetDefault("capture.bitrate", 128000)
	v.SetDefault("capture.sample_rate", 44100)

	v.SetDefault("session.signed_url_ttl", "1h")
	v.SetDefault("session.signed_url_cache_size", 4096)
	v.SetDefault("session.resolve_concurrency", 4)
	v.SetDefault("session.resolve_timeout", "30s")
	v.SetDefault("session.upload_timeout", "2m")
	v.SetDefault("session.idle_ttl", "30m")
	v.SetDefault("session.max_wait", "30s")
	v.SetDefault("session.copy_guard_prefix", "recordings_copied")
	v.SetDefault("session.copy_guard_ttl", "720h")
	v.SetDefault("blobcache.ttl", "30m")
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret must be provided")
	}

	switch c.Storage.Driver {
	case StorageMinio, StorageS3, StorageCloudinary:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	if c.Audio.MinSizeBytes <= 0 {
		return fmt.Errorf("audio.min_size_bytes must be positive")
	}
	if c.Session.SignedURLTTL <= 0 {
		return fmt.Errorf("session.signed_url_ttl must be positive")
	}

	return nil
}

// SignedURLCacheTTL keeps cached playback URLs from outliving their signatures.
func (c SessionConfig) SignedURLCacheTTL() time.Duration {
	return c.SignedURLTTL * 9 / 10
}
