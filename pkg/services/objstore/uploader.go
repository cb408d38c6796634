// Package objstore pushes recorded clips to an S3 bucket and derives their public URLs.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const contentType = "audio/wav"

var ErrNoFile = errors.New("upload source missing")

// Putter is the subset of *s3.Client used by Uploader
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config of the target bucket
type Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // optional, S3 compatible store
	Timeout   time.Duration
}

// Uploader uploads audio files.
type Uploader struct {
	bucket  string
	region  string
	timeout time.Duration
	put     Putter
	now     func() time.Time
}

// New returns an uploader backed by a real S3 client. Configured keys win,
// otherwise the SDK default chain applies (env, shared config, instance role).
func New(ctx context.Context, cfg Config) (*Uploader, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if len(cfg.AccessKey) > 0 {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if len(cfg.Endpoint) > 0 {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithPutter(cfg, client), nil
}

// NewWithPutter returns an uploader using put for the transfer
func NewWithPutter(cfg Config, put Putter) *Uploader {
	return &Uploader{
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		timeout: cfg.Timeout,
		put:     put,
		now:     time.Now,
	}
}

// ObjectKey returns the key for a clip uploaded at t.
func ObjectKey(t time.Time) string {
	return fmt.Sprintf("audio_%d.wav", t.Unix())
}

// PublicURL returns the virtual-hosted-style URL of key.
func (u *Uploader) PublicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}

// Upload puts the file at path into the bucket and returns its public URL.
// Success means the put call returned without error; the URL is not probed.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoFile
		}
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	key := ObjectKey(u.now())
	_, err = u.put.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		logger().Infow("put object fail", "bucket", u.bucket, "key", key, "err", err)
		return "", fmt.Errorf("put object: %w", err)
	}
	logger().Debugw("put object ok", "bucket", u.bucket, "key", key)

	return u.PublicURL(key), nil
}
