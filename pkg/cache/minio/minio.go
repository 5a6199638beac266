// Package minio implements the shared tier of the product cache on
// an S3-compatible object store. Unlike memcached it has no item size
// limit, so full-frame browse images are shared too.
package minio

import (
	"bytes"
	"context"
	"io/ioutil"
	"path"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/small-bodies-node/sbnsis/pkg/cache"
)

type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix is prepended to every object key.
	Prefix  string
	Timeout time.Duration
	Logger  log.Logger
}

type Client struct {
	client  *minio.Client
	bucket  string
	prefix  string
	timeout time.Duration
	logger  log.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("object store endpoint and bucket are required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating object store client")
	}
	return NewWithClient(mc, cfg), nil
}

// NewWithClient uses an existing minio client.
func NewWithClient(mc *minio.Client, cfg Config) *Client {
	c := &Client{
		client:  mc,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.logger == nil {
		c.logger = log.NewNopLogger()
	}
	return c
}

func (c *Client) objectKey(k cache.Keyer) string {
	return path.Join(c.prefix, k.Key())
}

func (c *Client) GetKey(k cache.Keyer) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	obj, err := c.client.GetObject(ctx, c.bucket, c.objectKey(k), minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	defer obj.Close()
	v, err := ioutil.ReadAll(obj)
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

func (c *Client) SetKey(k cache.Keyer, v []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	_, err := c.client.PutObject(ctx, c.bucket, c.objectKey(k), bytes.NewReader(v), int64(len(v)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		c.logger.Log("err", errors.Wrap(err, "storing in object store"))
		return err
	}
	return nil
}

// translate maps a missing object onto cache.ErrNotCached.
func translate(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return cache.ErrNotCached
	}
	return errors.Wrap(err, "reading from object store")
}
