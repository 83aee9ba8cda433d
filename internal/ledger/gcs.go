package ledger

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/finance-seeder/internal/logger"
	"google.golang.org/api/option"
)

// ParseGCSURI splits gs://bucket/prefix into its bucket and object prefix. The prefix may be empty.
func ParseGCSURI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}

	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

// ObjectName is the object a run's ledger is written to under prefix.
func ObjectName(prefix, runID string) string {
	return path.Join(prefix, "ledger-"+runID+".ndjson")
}

// GCSSink buffers entries and uploads them as one NDJSON object on Close.
type GCSSink struct {
	client *storage.Client
	bucket string
	object string

	entries []Entry
}

// NewGCSSink opens a storage client for the ledger of runID under uri.
func NewGCSSink(ctx context.Context, uri, runID string, opts ...option.ClientOption) (*GCSSink, error) {
	bucket, prefix, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGCSSink: creating storage client: %w", err)
	}

	return &GCSSink{
		client: client,
		bucket: bucket,
		object: ObjectName(prefix, runID),
	}, nil
}

// URI returns the gs:// location the ledger is uploaded to.
func (s *GCSSink) URI() string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, s.object)
}

func (s *GCSSink) Write(_ context.Context, e Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

// Abort releases the storage client without uploading.
func (s *GCSSink) Abort() error {
	s.entries = nil
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("GCSSink: closing client: %w", err)
	}
	return nil
}

// Close uploads the buffered entries and releases the storage client.
func (s *GCSSink) Close(ctx context.Context) error {
	defer s.client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	if err := WriteNDJSON(w, s.entries); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCSSink: writing %s: %w", s.URI(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCSSink: finalize upload %s: %w", s.URI(), err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("uri", s.URI()).
		Int("entries", len(s.entries)).
		Msg("Ledger uploaded")

	return nil
}
