package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/storyforge/api/internal/config"
)

// StorageClient is the object-storage collaborator the pipeline uploads
// story assets to. Locations returned by Upload are stored on pages and
// resolved for readers via signed or public URLs.
type StorageClient interface {
	Upload(ctx context.Context, jobID, filename string, body io.Reader, contentType string) (string, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetPublicURL(key string) string
}

// R2Client implements StorageClient for Cloudflare R2.
type R2Client struct {
	s3Client     *s3.Client
	presigner    *s3.PresignClient
	bucketName   string
	publicURL    string
	signedExpiry time.Duration
}

// NewR2Client creates a new R2 storage client
func NewR2Client(cfg *config.R2Config, signedExpiry time.Duration) (*R2Client, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("R2 configuration incomplete")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	r2Resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: endpoint,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithEndpointResolverWithOptions(r2Resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	presigner := s3.NewPresignClient(s3Client)

	return &R2Client{
		s3Client:     s3Client,
		presigner:    presigner,
		bucketName:   cfg.BucketName,
		publicURL:    cfg.PublicURL,
		signedExpiry: signedExpiry,
	}, nil
}

// Upload stores a story asset under stories/<jobID>/<filename> and returns
// its location. Buckets without a public CDN domain get a presigned URL
// instead, since R2 objects are not readable at the raw endpoint.
func (c *R2Client) Upload(ctx context.Context, jobID, filename string, body io.Reader, contentType string) (string, error) {
	key := objectKey(jobID, filename)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	_, err := c.s3Client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	if c.publicURL == "" {
		return c.GetSignedURL(ctx, key, c.signedExpiry)
	}

	return c.GetPublicURL(key), nil
}

// GetSignedURL generates a presigned URL for temporary access
func (c *R2Client) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}

	presignedReq, err := c.presigner.PresignGetObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignedReq.URL, nil
}

// GetPublicURL returns the public CDN URL for a key
func (c *R2Client) GetPublicURL(key string) string {
	if c.publicURL != "" {
		return fmt.Sprintf("%s/%s", c.publicURL, key)
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com/%s", c.bucketName, key)
}

// IsConfigured returns true if the client has valid configuration
func (c *R2Client) IsConfigured() bool {
	return c.s3Client != nil && c.bucketName != ""
}

func objectKey(jobID, filename string) string {
	return fmt.Sprintf("stories/%s/%s", jobID, filename)
}
