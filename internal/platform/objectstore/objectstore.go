// Package objectstore holds the run snapshot archive: the verbatim
// specification and config of every successful design-mode run, written to
// an object-store bucket keyed by run id.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/platform/env"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	BucketSnapshots string
}

// ConfigFromEnv reads the archive configuration. An empty endpoint means
// the archive is disabled.
func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("LOOM_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:        env.String("LOOM_MINIO_ENDPOINT", ""),
		AccessKey:       env.String("LOOM_MINIO_ACCESS_KEY", "loom"),
		SecretKey:       env.String("LOOM_MINIO_SECRET_KEY", "loomminio"),
		Region:          env.String("LOOM_MINIO_REGION", "us-east-1"),
		UseSSL:          useSSL,
		BucketSnapshots: env.String("LOOM_MINIO_BUCKET_SNAPSHOTS", "run-snapshots"),
	}
	if cfg.Enabled() {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
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
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
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
	if strings.TrimSpace(c.BucketSnapshots) == "" {
		return errors.New("snapshots bucket is required")
	}
	return nil
}

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

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketSnapshots)
	if err != nil {
		return fmt.Errorf("snapshots bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, cfg.BucketSnapshots, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make snapshots bucket: %w", err)
	}
	return nil
}

// Archive writes run snapshots. A nil Archive is a disabled one.
type Archive struct {
	client *minio.Client
	bucket string
}

func NewArchive(client *minio.Client, cfg Config) *Archive {
	if client == nil {
		return nil
	}
	return &Archive{client: client, bucket: cfg.BucketSnapshots}
}

type RunSnapshot struct {
	RunID         string `json:"run_id"`
	AppSID        string `json:"app_s_id"`
	ProjectID     string `json:"project_id"`
	Specification string `json:"specification"`
	Config        string `json:"config"`
	ArchivedAt    string `json:"archived_at"`
}

func (a *Archive) PutRunSnapshot(ctx context.Context, snapshot RunSnapshot) error {
	if a == nil {
		return nil
	}
	if strings.TrimSpace(snapshot.RunID) == "" {
		return errors.New("run id is required")
	}
	if snapshot.ArchivedAt == "" {
		snapshot.ArchivedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	object := fmt.Sprintf("runs/%s.json", snapshot.RunID)
	_, err = a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(blob), int64(len(blob)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", object, err)
	}
	return nil
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
