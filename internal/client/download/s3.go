package download

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"

	"github.com/avelt/photovault/internal/client/config"
	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/common"
)

// S3Retriever reads encrypted blobs straight from the object store, used by
// self-hosted deployments where the client has bucket credentials. Only
// files that carry object keys can be fetched this way.
type S3Retriever struct {
	client *s3.Client
	bucket string
}

func NewS3Retriever(ctx context.Context, cfg config.DirectS3) (*S3Retriever, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Retriever{client: client, bucket: cfg.Bucket}, nil
}

func (r *S3Retriever) FetchFile(ctx context.Context, f *models.MediaFile) (io.ReadCloser, error) {
	if f.ObjectKey == "" {
		return nil, fmt.Errorf("file %d has no object key: %w", f.ID, common.ErrorNotFound)
	}
	return r.getObject(ctx, f.ObjectKey)
}

func (r *S3Retriever) FetchThumbnail(ctx context.Context, f *models.MediaFile) ([]byte, error) {
	if f.ThumbObjectKey == "" {
		return nil, fmt.Errorf("file %d has no thumbnail object key: %w", f.ID, common.ErrorNotFound)
	}
	body, err := r.getObject(ctx, f.ThumbObjectKey)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

func (r *S3Retriever) getObject(ctx context.Context, key string) (io.ReadCloser, error) {
	var body io.ReadCloser
	backoff := retry.WithMaxRetries(3, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		body = out.Body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	return body, nil
}
