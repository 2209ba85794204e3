package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"newsindex/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config falls back to the standard AWS config and credential chain for
// anything left empty.
type S3Config struct {
	Bucket  string
	Region  string
	Profile string
	// Endpoint points at an S3-compatible service instead of AWS.
	Endpoint     string
	UsePathStyle bool
}

// S3 is a bucket-scoped wrapper around the SDK client.
type S3 struct {
	client *s3.Client
	bucket string
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, types.NewConfiguration("archive", "load aws config: %v", err)
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: c, bucket: cfg.Bucket}, nil
}

// Put uploads body to key.
func (s *S3) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return classify(s.bucket, "put "+key, err)
	}
	return nil
}

// CheckBucket fails with a ConfigurationError when the bucket does not exist.
func (s *S3) CheckBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	return classify(s.bucket, "head bucket", err)
}

// classify turns a missing bucket into a ConfigurationError; everything else
// is returned wrapped with op.
func classify(bucket, op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket" {
		return types.NewConfiguration("archive.bucket", "bucket %q not found", bucket)
	}
	if op == "head bucket" && isNotFound(err) {
		return types.NewConfiguration("archive.bucket", "bucket %q not found", bucket)
	}
	return fmt.Errorf("s3 %s: %w", op, err)
}

// isNotFound matches both a bare 404 and the NotFound code HeadBucket uses.
func isNotFound(err error) bool {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}
