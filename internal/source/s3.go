package source

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// S3Options parameterise the S3 source client.
type S3Options struct {
	Bucket         string
	Prefix         string
	Region         string
	RequestPayer   string
	MaxAttempts    int
	RequestTimeout time.Duration
}

// S3Client fetches batch files from an S3 bucket, optionally requester-pays.
type S3Client struct {
	api    s3API
	opts   S3Options
	logger zerolog.Logger
}

// s3API is the slice of the S3 SDK the client depends on.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// NewS3Client constructs an S3 source client with a bounded retry budget.
func NewS3Client(ctx context.Context, opts S3Options, logger zerolog.Logger) (*S3Client, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}),
	)
	if err != nil {
		return nil, &ClientError{Op: "configure", Err: err}
	}

	return &S3Client{
		api:    s3.NewFromConfig(cfg),
		opts:   opts,
		logger: logger.With().Str("component", "s3_source").Logger(),
	}, nil
}

// ListObjects pages through the configured prefix and returns object
// metadata. The request timeout applies per page, not to the whole listing.
func (c *S3Client) ListObjects(ctx context.Context, since *time.Time) ([]Object, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.opts.Bucket),
		Prefix: aws.String(c.opts.Prefix),
	}
	if c.opts.RequestPayer != "" {
		input.RequestPayer = s3types.RequestPayer(c.opts.RequestPayer)
	}

	objects := make([]Object, 0)
	var continuation *string
	for {
		input.ContinuationToken = continuation
		page, err := c.listPage(ctx, input)
		if err != nil {
			return nil, &ClientError{Op: "list", Err: err}
		}

		for _, obj := range page.Contents {
			modified := aws.ToTime(obj.LastModified)
			if since != nil && modified.Before(*since) {
				continue
			}
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				LastModified: modified,
				Size:         aws.ToInt64(obj.Size),
			})
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		continuation = page.NextContinuationToken
	}

	c.logger.Debug().Int("objects", len(objects)).Str("prefix", c.opts.Prefix).Msg("listed source objects")
	return objects, nil
}

func (c *S3Client) listPage(ctx context.Context, input *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	return c.api.ListObjectsV2(ctx, input)
}

// DownloadObject fetches the full content of one batch file.
func (c *S3Client) DownloadObject(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	input := &s3.GetObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
	}
	if c.opts.RequestPayer != "" {
		input.RequestPayer = s3types.RequestPayer(c.opts.RequestPayer)
	}

	out, err := c.api.GetObject(ctx, input)
	if err != nil {
		return nil, &ClientError{Op: "download", Key: key, Err: err}
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &ClientError{Op: "download", Key: key, Err: err}
	}

	c.logger.Debug().Str("key", key).Int("bytes", len(content)).Msg("downloaded object")
	return content, nil
}

// GetObjectMetadata returns metadata for a single key via a HEAD request.
func (c *S3Client) GetObjectMetadata(ctx context.Context, key string) (Object, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	input := &s3.HeadObjectInput{
		Bucket: aws.String(c.opts.Bucket),
		Key:    aws.String(key),
	}
	if c.opts.RequestPayer != "" {
		input.RequestPayer = s3types.RequestPayer(c.opts.RequestPayer)
	}

	out, err := c.api.HeadObject(ctx, input)
	if err != nil {
		return Object{}, &ClientError{Op: "head", Key: key, Err: err}
	}

	return Object{
		Key:          key,
		LastModified: aws.ToTime(out.LastModified),
		Size:         aws.ToInt64(out.ContentLength),
	}, nil
}
