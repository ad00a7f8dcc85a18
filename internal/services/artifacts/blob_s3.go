package artifacts

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ternarybob/bugowl/internal/common"
)

// objectPutter is the slice of the S3 client the store needs
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3BlobStore uploads artifacts to an S3 bucket
type S3BlobStore struct {
	client       objectPutter
	bucket       string
	customDomain string
}

// NewS3BlobStore builds an S3 client from [artifacts.s3].
// Static keys are used when configured, otherwise the default AWS credential chain.
func NewS3BlobStore(ctx context.Context, cfg common.S3Config) (*S3BlobStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3BlobStore(client, cfg.Bucket, cfg.CustomDomain), nil
}

func newS3BlobStore(client objectPutter, bucket, customDomain string) *S3BlobStore {
	return &S3BlobStore{
		client:       client,
		bucket:       bucket,
		customDomain: strings.TrimRight(customDomain, "/"),
	}
}

// UploadFile puts localPath at key and returns its public URL
func (s *S3BlobStore) UploadFile(ctx context.Context, key string, localPath string, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	}); err != nil {
		return "", fmt.Errorf("failed to upload %s to s3: %w", key, err)
	}

	return s.PublicURL(key), nil
}

// PublicURL returns the URL an uploaded key is served from
func (s *S3BlobStore) PublicURL(key string) string {
	if s.customDomain != "" {
		domain := strings.TrimPrefix(strings.TrimPrefix(s.customDomain, "https://"), "http://")
		return fmt.Sprintf("https://%s/%s", domain, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}
