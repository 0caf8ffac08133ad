// Package gcs archives hard-deleted mail records to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/rbaliyan/playermail/archive"
	"github.com/rbaliyan/playermail/store"
	"google.golang.org/api/option"
)

// ErrBucketRequired is returned by New when no bucket is configured.
var ErrBucketRequired = errors.New("gcs: bucket is required")

const scope = "https://www.googleapis.com/auth/devstorage.read_write"

// Sink writes each record as a JSON object at archive.Key(prefix, mail).
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ archive.Sink = (*Sink)(nil)

// New creates a GCS sink. Call Close when done.
func New(ctx context.Context, opts ...Option) (*Sink, error) {
	o := &options{
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bucket == "" {
		return nil, ErrBucketRequired
	}

	clientOpts, err := clientOptions(o)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}

	return &Sink{
		client: client,
		bucket: o.bucket,
		prefix: o.prefix,
		logger: o.logger,
	}, nil
}

func clientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil || o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{scope},
			CredentialsJSON: o.credentialsJSON,
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs: detect credentials: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Archive writes m. An object that already exists is overwritten, so a
// retried hard delete archives the same record once.
func (s *Sink) Archive(ctx context.Context, m *store.Mail) error {
	data, err := archive.Marshal(m)
	if err != nil {
		return err
	}
	key := archive.Key(s.prefix, m)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = archive.ContentType
	w.Metadata = map[string]string{
		"mail-id":     m.ID,
		"receiver-id": m.ReceiverID,
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: close %s: %w", key, err)
	}

	s.logger.Debug("archived mail", "bucket", s.bucket, "key", key, "mail_id", m.ID)
	return nil
}

// Close releases the client.
func (s *Sink) Close() error {
	return s.client.Close()
}
