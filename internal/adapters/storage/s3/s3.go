package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	apperrors "relecloud/internal/pkg/errors"
	"relecloud/internal/ports"
)

// Options configures the S3 adapter. Endpoint is set for S3-compatible
// services (MinIO, LocalStack) and switches to path-style addressing.
type Options struct {
	Bucket   string
	Region   string
	Endpoint string
	TTL      time.Duration
}

// Client implements ports.ObjectStore on an S3 bucket. Read URLs are SigV4
// presigned GETs.
type Client struct {
	api     *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
	now     func() time.Time
}

// Open loads credentials from the default AWS chain and verifies the bucket.
func Open(ctx context.Context, opts Options) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, apperrors.WrapWithCode(err, apperrors.CodeInitialization, "s3.open", "Failed to initialize storage client")
	}

	c := NewFromConfig(cfg, opts)
	if err := c.CheckContainer(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func NewFromConfig(cfg aws.Config, opts Options) *Client {
	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		api:     api,
		presign: s3.NewPresignClient(api),
		bucket:  opts.Bucket,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Client) Provider() string { return "s3" }

func (c *Client) CheckContainer(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchBucket") {
		return apperrors.Newf(apperrors.CodeContainerMissing, "Container %s not found", c.bucket).
			WithField("container", c.bucket)
	}
	return apperrors.WrapWithCode(err, apperrors.CodeInitialization, "s3.open", "Failed to initialize storage client")
}

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, apperrors.ValidationField("object_key", "object key is required")
	}

	// SigV4 payload hashing needs a seekable body.
	body, size, err := seekable(in.Reader, in.Size)
	if err != nil {
		return ports.PutObjectOutput{}, classify("s3.put", in.ObjectKey, err)
	}

	contentType := in.ResolveContentType()
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(in.ObjectKey),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return ports.PutObjectOutput{}, classify("s3.put", in.ObjectKey, err)
	}

	signed, expiresAt, err := c.signedURL(ctx, in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, classify("s3.sign", in.ObjectKey, err)
	}

	return ports.PutObjectOutput{
		ObjectKey:   in.ObjectKey,
		ContentType: contentType,
		Size:        size,
		URL:         signed,
		ExpiresAt:   expiresAt,
	}, nil
}

// DeleteObject is idempotent on S3: deleting a missing key succeeds.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify("s3.delete", key, err)
	}
	return nil
}

func (c *Client) signedURL(ctx context.Context, key string) (string, time.Time, error) {
	expiresAt := c.now().UTC().Add(c.ttl)
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.ttl))
	if err != nil {
		return "", time.Time{}, err
	}
	return req.URL, expiresAt, nil
}

func seekable(r io.Reader, size int64) (io.ReadSeeker, int64, error) {
	if rs, ok := r.(io.ReadSeeker); ok && size >= 0 {
		return rs, size, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(b), int64(len(b)), nil
}

func classify(op, key string, err error) error {
	var (
		apiErr smithy.APIError
		netErr net.Error
	)
	switch {
	case errors.As(err, &apiErr):
		return apperrors.WrapWithCode(err, apperrors.CodeUpload, op, "Failed to upload file").
			WithField("object_key", key).
			WithField("aws_code", apiErr.ErrorCode())
	case errors.As(err, &netErr):
		return apperrors.WrapWithCode(err, apperrors.CodeConnection, op, "Failed to connect to S3").
			WithField("object_key", key)
	default:
		return apperrors.WrapWithCode(err, apperrors.CodeUpload, op, "Failed to upload file").
			WithField("object_key", key)
	}
}

var _ ports.ObjectStore = (*Client)(nil)
