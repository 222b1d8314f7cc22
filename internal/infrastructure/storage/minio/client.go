package minio

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// ObjectAPI is the subset of the MinIO client used for rule tables.
// GetObject returns a plain ReadCloser so tests can serve bytes directly.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// sdkAdapter narrows *minio.Client to ObjectAPI.
type sdkAdapter struct {
	*minio.Client
}

func (a sdkAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := a.Client.GetObject(ctx, bucketName, objectName, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

var ErrClientClosed = errors.New(errors.ErrCodeStorageError, "minio client is closed")

// Client is a connected MinIO client.
type Client struct {
	api    ObjectAPI
	cfg    config.MinIOConfig
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient builds a MinIO client and, when probeBucket is set, checks that
// the endpoint answers by asking whether the bucket exists.
func NewClient(cfg config.MinIOConfig, probeBucket string, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	applyDefaults(&cfg)

	sdk, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageError, "failed to create minio client")
	}
	c := NewClientFrom(sdkAdapter{sdk}, cfg, log)

	if probeBucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.api.BucketExists(ctx, probeBucket); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to connect to minio")
		}
	}

	log.Info("MinIO client connected", logging.String("endpoint", cfg.Endpoint), logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewClientFrom wraps an existing ObjectAPI.
func NewClientFrom(api ObjectAPI, cfg config.MinIOConfig, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	applyDefaults(&cfg)
	return &Client{api: api, cfg: cfg, logger: log}
}

func applyDefaults(cfg *config.MinIOConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
}

// API returns the underlying object API, or an error once closed.
func (c *Client) API() (ObjectAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	return c.api, nil
}

// EnsureBucket creates bucket when it does not exist.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	api, err := c.API()
	if err != nil {
		return err
	}
	exists, err := api.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeStorageError, "check bucket %s", bucket)
	}
	if exists {
		return nil
	}
	if err := api.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.cfg.Region}); err != nil {
		return errors.Wrapf(err, errors.ErrCodeStorageError, "create bucket %s", bucket)
	}
	c.logger.Info("Created bucket", logging.String("bucket", bucket))
	return nil
}

// HealthCheck reports whether bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context, bucket string) error {
	api, err := c.API()
	if err != nil {
		return err
	}
	exists, err := api.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "minio health check failed")
	}
	if !exists {
		return errors.Newf(errors.ErrCodeStorageError, "bucket %s missing", bucket)
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
