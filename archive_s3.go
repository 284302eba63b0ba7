package telemetra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3ArchiveConfig configures the S3 archive backend.
type S3ArchiveConfig struct {
	Bucket   string
	Region   string
	Endpoint string // for S3-compatible services (MinIO, etc.)

	// AccessKeyID and SecretAccessKey authenticate explicitly. Prefer IAM
	// roles or the AWS_* environment variables; do not commit credentials.
	AccessKeyID     string
	SecretAccessKey string

	// Prefix is prepended to every object key.
	Prefix string

	// UsePathStyle enables path-style addressing.
	UsePathStyle bool
}

// S3Archive implements ArchiveBackend on S3 or an S3-compatible store.
type S3Archive struct {
	client *s3.Client
	cfg    S3ArchiveConfig
}

// NewS3Archive creates an S3 archive backend.
func NewS3Archive(cfg S3ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 archive: bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Archive{client: client, cfg: cfg}, nil
}

func (s *S3Archive) objectKey(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(s.cfg.Prefix, "/") + "/" + key
}

func (s *S3Archive) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("s3 archive read %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (s *S3Archive) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 archive write %s: %w", key, err)
	}
	return nil
}

func (s *S3Archive) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 archive delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Archive) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3 archive head %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Archive) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if s.cfg.Prefix != "" {
		prefix = strings.TrimSuffix(s.cfg.Prefix, "/") + "/"
	}
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.cfg.Bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 archive list: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), prefix))
		}
	}
	return keys, nil
}

func (s *S3Archive) Close() error {
	return nil
}
