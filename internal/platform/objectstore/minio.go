package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// CheckBucket is used as a readiness check.
func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketReports)
	if err != nil {
		return fmt.Errorf("reports bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("reports bucket missing: %s", cfg.BucketReports)
	}
	return nil
}

// ReportLinks turns stored report references into short-lived download
// URLs.
type ReportLinks struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewReportLinks(client *minio.Client, cfg Config) (*ReportLinks, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	return &ReportLinks{client: client, bucket: cfg.BucketReports, ttl: cfg.PresignTTL}, nil
}

// ReportLink presigns a GET for ref. A ref of the form "s3://bucket/key"
// overrides the configured bucket.
func (l *ReportLinks) ReportLink(ctx context.Context, ref string) (string, error) {
	if l == nil || l.client == nil {
		return "", fmt.Errorf("report links not initialized")
	}
	bucket, key, err := splitRef(l.bucket, ref)
	if err != nil {
		return "", err
	}
	ttl := l.ttl
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	u, err := l.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func splitRef(defaultBucket, ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return "", "", fmt.Errorf("invalid report ref %q", ref)
		}
		return bucket, key, nil
	}
	key := strings.TrimPrefix(ref, "/")
	if key == "" {
		return "", "", fmt.Errorf("report ref is empty")
	}
	return defaultBucket, key, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
