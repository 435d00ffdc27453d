package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// S3Config holds the object store configuration. Any S3-compatible provider
// (MinIO, R2, iDrive e2) works through Endpoint and ForcePathStyle.
type S3Config struct {
	Endpoint       string // empty for AWS
	Region         string
	Bucket         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
	Logger         *zap.Logger
}

// uploader is the part of manager.Uploader the archiver uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver uploads one JSON object per reclaimed market.
type S3Archiver struct {
	uploader uploader
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewS3Archiver builds an S3 client from static credentials.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 archive: region is required")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	cfg.Logger.Info("s3-archiver-configured",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region))

	return newS3Archiver(manager.NewUploader(client), cfg.Bucket, cfg.Prefix, cfg.Logger), nil
}

func newS3Archiver(u uploader, bucket, prefix string, logger *zap.Logger) *S3Archiver {
	return &S3Archiver{uploader: u, bucket: bucket, prefix: prefix, logger: logger}
}

// Archive uploads s as markets/<id>.json under the configured prefix.
func (a *S3Archiver) Archive(ctx context.Context, s *Snapshot) error {
	if s == nil || s.Market == nil {
		return fmt.Errorf("s3 archive: empty snapshot")
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := a.prefix + ObjectKey(s.Market.ID)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		ArchiveFailuresTotal.WithLabelValues("s3").Inc()
		return fmt.Errorf("s3 archive: upload %s: %w", key, err)
	}

	ArchivedMarketsTotal.WithLabelValues("s3").Inc()
	a.logger.Info("market-archived",
		zap.String("market-id", s.Market.ID),
		zap.String("bucket", a.bucket),
		zap.String("key", key))
	return nil
}

// normaliseEndpoint prepends a scheme when the endpoint has none.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}

var _ Archiver = (*S3Archiver)(nil)
