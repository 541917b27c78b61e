// Package storage mirrors finished reports to S3 compatible object storage.
package storage

import (
	"context"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/teranos/lookout/am"
	"github.com/teranos/lookout/errors"
	"github.com/teranos/lookout/logger"
)

// ReportContentType is set on every mirrored report
const ReportContentType = "text/html; charset=utf-8"

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads report files under a key prefix
type S3Publisher struct {
	client putObjectAPI
	bucket string
	prefix string
	logger *zap.SugaredLogger
}

// NewS3Publisher builds a client from [storage.s3]. It returns nil, nil when
// no bucket is configured.
func NewS3Publisher(ctx context.Context, cfg am.S3Config) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.NewConfigurationError("failed to load AWS config: %v", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3Publisher(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Publisher(client putObjectAPI, bucket, prefix string) *S3Publisher {
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.ComponentLogger("storage.s3"),
	}
}

// Key returns the object key for a report name
func (p *S3Publisher) Key(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

// Publish uploads the file at localPath as key
func (p *S3Publisher) Publish(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "open report %s", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat report %s", localPath)
	}

	objectKey := p.Key(key)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(objectKey),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ReportContentType),
	})
	if err != nil {
		return errors.Wrapf(err, "put s3://%s/%s", p.bucket, objectKey)
	}

	p.logger.Infow("Report mirrored",
		"bucket", p.bucket,
		"key", objectKey,
		logger.FieldSize, info.Size())
	return nil
}
