// Package s3 archives hard-deleted mail records to Amazon S3 or an
// S3-compatible object store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rbaliyan/playermail/archive"
	"github.com/rbaliyan/playermail/store"
)

// ErrBucketRequired is returned by New when no bucket is configured.
var ErrBucketRequired = errors.New("s3: bucket is required")

// Sink writes each record as a JSON object at archive.Key(prefix, mail).
type Sink struct {
	tm     *transfermanager.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ archive.Sink = (*Sink)(nil)

// New creates an S3 sink. ctx is used to load AWS configuration.
func New(ctx context.Context, opts ...Option) (*Sink, error) {
	o := &options{
		region: "us-east-1",
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bucket == "" {
		return nil, ErrBucketRequired
	}

	cfg, err := loadConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = o.usePathStyle
		}
	})

	return &Sink{
		tm:     transfermanager.New(client),
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func loadConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	switch {
	case o.accessKey != "" && o.secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))
	case o.roleARN != "":
		base, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("base config: %w", err)
		}
		optFns = append(optFns, config.WithCredentialsProvider(aws.NewCredentialsCache(assumeRole(base, o))))
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Archive uploads m.
func (s *Sink) Archive(ctx context.Context, m *store.Mail) error {
	data, err := archive.Marshal(m)
	if err != nil {
		return err
	}
	key := archive.Key(s.prefix, m)

	_, err = s.tm.UploadObject(ctx, &transfermanager.UploadObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(archive.ContentType),
	})
	if err != nil {
		return fmt.Errorf("s3: upload %s: %w", key, err)
	}

	s.logger.Debug("archived mail", "bucket", s.bucket, "key", key, "mail_id", m.ID)
	return nil
}

// URI returns the s3:// location a record is archived at.
func (s *Sink) URI(m *store.Mail) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, archive.Key(s.prefix, m))
}
