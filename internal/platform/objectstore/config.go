package objectstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/casework/internal/platform/env"
)

// Config points at the bucket holding final reports. An empty Endpoint
// disables report links.
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketReports string
	PresignTTL    time.Duration
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("CASEWORK_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Duration("CASEWORK_MINIO_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("CASEWORK_MINIO_ENDPOINT", ""),
		AccessKey:     env.String("CASEWORK_MINIO_ACCESS_KEY", ""),
		SecretKey:     env.String("CASEWORK_MINIO_SECRET_KEY", ""),
		Region:        env.String("CASEWORK_MINIO_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketReports: env.String("CASEWORK_MINIO_BUCKET_REPORTS", "reports"),
		PresignTTL:    ttl,
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketReports) == "" {
		return errors.New("reports bucket is required")
	}
	if c.PresignTTL <= 0 {
		return errors.New("presign ttl must be positive")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
