package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/TheMichaelB/obseal/internal/config"
	"github.com/TheMichaelB/obseal/internal/events"
)

// S3API is the subset of the S3 client the saver needs.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Saver uploads artifacts to a bucket.
type S3Saver struct {
	client           S3API
	bucket           string
	prefix           string
	timeout          time.Duration
	conflictStrategy ConflictStrategy
	logger           *events.Logger
}

// NewS3Saver creates a saver using the default AWS credential chain.
func NewS3Saver(ctx context.Context, cfg config.S3Config, logger *events.Logger) (*S3Saver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewS3SaverWithClient(s3.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewS3SaverWithClient creates a saver around an existing client.
func NewS3SaverWithClient(client S3API, cfg config.S3Config, logger *events.Logger) *S3Saver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &S3Saver{
		client:           client,
		bucket:           cfg.Bucket,
		prefix:           cfg.Prefix,
		timeout:          timeout,
		conflictStrategy: ConflictOverwrite,
		logger:           logger.WithField("component", "s3_saver"),
	}
}

// SetConflictStrategy sets the conflict resolution strategy.
func (s *S3Saver) SetConflictStrategy(strategy ConflictStrategy) {
	s.conflictStrategy = strategy
}

// Save uploads data and returns its s3:// URL.
func (s *S3Saver) Save(ctx context.Context, name string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.buildKey(name)

	if s.conflictStrategy != ConflictOverwrite {
		exists, err := s.exists(ctx, key)
		if err != nil {
			return "", err
		}
		if exists {
			if s.conflictStrategy == ConflictError {
				return "", fmt.Errorf("%w: s3://%s/%s", ErrExists, s.bucket, key)
			}
			key, err = s.freeKey(ctx, key)
			if err != nil {
				return "", err
			}
		}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"name": name,
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Wrote artifact to S3")

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Saver) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) || strings.Contains(err.Error(), "NotFound") {
		return false, nil
	}
	return false, fmt.Errorf("s3 head object: %w", err)
}

func (s *S3Saver) freeKey(ctx context.Context, key string) (string, error) {
	ext := path.Ext(key)
	stem := strings.TrimSuffix(key, ext)

	for i := 1; i < 1000; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		exists, err := s.exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free key for %s", ErrExists, key)
}

func (s *S3Saver) buildKey(name string) string {
	cleanPath := strings.TrimPrefix(path.Clean("/"+name), "/")

	if s.prefix != "" {
		return path.Join(s.prefix, cleanPath)
	}
	return cleanPath
}
