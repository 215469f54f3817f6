package response

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/secops-platform/secops-core/pkg/logger"
)

// ArchiveConfig configures object storage for report retention.
type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3-compatible stores
	AccessKey string
	SecretKey string
	Prefix    string
}

// Archiver writes finished reports to object storage for long-term
// retention.
type Archiver struct {
	client *s3.Client
	cfg    ArchiveConfig
	logger *logger.Logger
}

// NewArchiver builds an S3-backed report archiver.
func NewArchiver(ctx context.Context, cfg ArchiveConfig, log *logger.Logger) (*Archiver, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		logger: log.WithComponent("report_archiver"),
	}, nil
}

// Archive stores the report as JSON under a date-partitioned key.
func (a *Archiver) Archive(ctx context.Context, report *Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	key := fmt.Sprintf("%sreports/%s/%s.json",
		a.cfg.Prefix,
		report.GeneratedAt.Format("2006/01/02"),
		report.ID)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put report object: %w", err)
	}

	a.logger.Debug("report archived", "key", key, "bytes", len(body))
	return nil
}
