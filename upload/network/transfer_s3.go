package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numS3TransferRetries = 3

// S3TransferParams ...
type S3TransferParams struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Transferrer writes photo bytes directly to an S3 bucket. It is
// selected when the broker issues a blob path of the form
// s3://bucket/key instead of a presigned URL, which some deployments do
// for their own storage. Unlike the presigned PUT, the SDK call is
// wrapped in a bounded retry because there is no single-use URL whose
// reuse could be unsafe.
type S3Transferrer struct {
	params S3TransferParams
	logger log.Logger
}

// NewS3Transferrer ...
func NewS3Transferrer(params S3TransferParams, logger log.Logger) S3Transferrer {
	return S3Transferrer{params: params, logger: logger}
}

// Transfer ...
func (t S3Transferrer) Transfer(ctx context.Context, session UploadSession, body io.ReadSeeker, size int64, contentType string) error {
	bucket, key, err := parseS3BlobPath(session.BlobPath)
	if err != nil {
		return err
	}

	cfg, err := loadAWSCredentials(ctx, t.params.Region, t.params.AccessKeyID, t.params.SecretAccessKey, t.logger)
	if err != nil {
		return fmt.Errorf("load aws credentials: %w", err)
	}
	client := s3.NewFromConfig(*cfg)

	return retry.Times(numS3TransferRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind photo: %w", err), true
		}

		uploader := manager.NewUploader(client)
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Body:          body,
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			// Client faults (bad credentials, missing bucket) don't heal
			// with a retry.
			var apiError smithy.APIError
			if errors.As(err, &apiError) && apiError.ErrorFault() == smithy.FaultClient {
				return fmt.Errorf("upload photo: %w", err), true
			}
			return fmt.Errorf("upload photo: %w", err), false
		}
		return nil, true
	})
}

func parseS3BlobPath(blobPath string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(blobPath, "s3://")
	if trimmed == blobPath {
		return "", "", fmt.Errorf("blob path %q is not an s3:// path", blobPath)
	}
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("blob path %q is missing bucket or key", blobPath)
	}
	return bucket, key, nil
}

func loadAWSCredentials(ctx context.Context, region, accessKeyID, secretKey string, logger log.Logger) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
