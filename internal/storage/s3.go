package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/timmy/catalogsync/internal/logger"
)

// StorageType names the flavour of S3-compatible service behind the bucket.
type StorageType string

const (
	StorageTypeR2           StorageType = "r2"
	StorageTypeS3           StorageType = "s3"
	StorageTypeS3Compatible StorageType = "s3compatible"
)

// ErrObjectNotFound is returned by Download when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// payloadCacheControl marks objects as never changing; refs are not reused.
const payloadCacheControl = "private, max-age=31536000, immutable"

type S3Config struct {
	Type      StorageType
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// Bucket stores payload objects in one S3-compatible bucket.
type Bucket struct {
	client    *s3.Client
	name      string
	storeType StorageType
}

var _ ObjectStorage = (*Bucket)(nil)

// NewBucket creates a client for cfg.Bucket. It does not contact the service;
// call EnsureBucket for that.
func NewBucket(cfg *S3Config) (*Bucket, error) {
	endpointURL, region := resolveEndpoint(cfg)

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
		o.UsePathStyle = true
	})
	return &Bucket{client: client, name: cfg.Bucket, storeType: cfg.Type}, nil
}

// resolveEndpoint returns the base URL and signing region for cfg. The
// endpoint may be given with or without a scheme; UseSSL decides the scheme.
func resolveEndpoint(cfg *S3Config) (endpointURL, region string) {
	host := strings.TrimPrefix(cfg.Endpoint, "https://")
	host = strings.TrimPrefix(host, "http://")
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	region = cfg.Region
	if region == "" {
		region = "us-east-1"
		if cfg.Type == StorageTypeR2 {
			region = "auto"
		}
	}
	return scheme + "://" + host, region
}

// EnsureBucket checks the bucket is reachable and creates it when the
// service allows that.
func (b *Bucket) EnsureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)})
	if err == nil {
		return nil
	}

	// R2 buckets can only be created from the dashboard
	if b.storeType == StorageTypeR2 {
		return fmt.Errorf("payload bucket %s does not exist, create it in the R2 dashboard", b.name)
	}

	logger.Info("[Storage] Creating payload bucket %s", b.name)
	if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return fmt.Errorf("failed to create payload bucket %s: %w", b.name, err)
	}
	return nil
}

// Upload writes one object. An empty contentType stores the payload XML type.
func (b *Bucket) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = payloadContentType
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.name),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(payloadCacheControl),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Download opens one object; a missing key wraps ErrObjectNotFound.
func (b *Bucket) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return result.Body, nil
}

// Exists reports whether key is present.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: %w", key, err)
}

// isNotFound recognises a missing object. HEAD responses carry no error
// body, so some services only surface the status code.
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var resp *awshttp.ResponseError
	return errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound
}
