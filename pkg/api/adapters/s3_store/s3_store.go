package s3_store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/eser/ajan/logfx"
)

const Scheme = "s3://"

var (
	ErrInvalidLocation = errors.New("invalid s3 location")
	ErrObjectNotFound  = errors.New("s3 object not found")
)

// IsLocation reports whether location addresses an S3 object.
func IsLocation(location string) bool {
	return strings.HasPrefix(location, Scheme)
}

// ParseLocation splits s3://bucket/key into its bucket and key.
func ParseLocation(location string) (string, string, error) {
	if !IsLocation(location) {
		return "", "", fmt.Errorf("%w: %q has no %s prefix", ErrInvalidLocation, location, Scheme)
	}

	bucket, key, found := strings.Cut(strings.TrimPrefix(location, Scheme), "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q needs both a bucket and a key", ErrInvalidLocation, location)
	}

	return bucket, key, nil
}

type Store struct {
	Config *Config
	logger *logfx.Logger
	client *s3.Client
}

func New(cfg *Config, logger *logfx.Logger) *Store {
	return &Store{Config: cfg, logger: logger}
}

func (s *Store) Init(ctx context.Context) error {
	var cfgOptions []func(*config.LoadOptions) error
	var s3ClientOptions []func(*s3.Options)

	if s.Config.ConnectionEndpoint != "" {
		s3ClientOptions = append(s3ClientOptions, s3.WithEndpointResolverV2(NewEndpointResolver(s.Config.ConnectionEndpoint)))
	}

	if s.Config.UsePathStyle {
		s3ClientOptions = append(s3ClientOptions, func(o *s3.Options) { o.UsePathStyle = true })
	}

	if s.Config.ConnectionProfile != "" {
		cfgOptions = append(cfgOptions, config.WithSharedConfigProfile(s.Config.ConnectionProfile))
	}

	if s.Config.ConnectionRegion != "" {
		cfgOptions = append(cfgOptions, config.WithRegion(s.Config.ConnectionRegion))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		s.logger.ErrorContext(ctx, "[S3Store] Unable to load SDK config for S3", slog.String("module", "s3_store"), slog.Any("error", err))

		return fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	s.client = s3.NewFromConfig(sdkConfig, s3ClientOptions...)

	s.logger.InfoContext(
		ctx,
		"[S3Store] S3 Store initialized",
		slog.String("module", "s3_store"),
		slog.String("region", s.Config.ConnectionRegion),
		slog.String("endpoint", s.Config.ConnectionEndpoint),
	)

	return nil
}

func (s *Store) GetObject(ctx context.Context, bucket string, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucket, key)
		}

		return nil, fmt.Errorf("s3 get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close() //nolint:errcheck

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read s3://%s/%s: %w", bucket, key, err)
	}

	s.logger.DebugContext(
		ctx,
		"[S3Store] Object read",
		slog.String("module", "s3_store"),
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int("size", len(content)),
	)

	return content, nil
}

func (s *Store) PutObject(ctx context.Context, bucket string, key string, content []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put s3://%s/%s: %w", bucket, key, err)
	}

	s.logger.InfoContext(
		ctx,
		"[S3Store] Object written",
		slog.String("module", "s3_store"),
		slog.String("bucket", bucket),
		slog.String("key", key),
		slog.Int("size", len(content)),
	)

	return nil
}
