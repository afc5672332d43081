// Package source resolves ingestion URIs into raw payload bytes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// Resolution errors, each mapped to a terminal ingestion status.
var (
	ErrInvalidURI     = errors.New("invalid source uri")
	ErrNotFound       = errors.New("source file not found")
	ErrDownloadFailed = errors.New("download failed")
	ErrFileError      = errors.New("file read error")
	ErrEmptyPayload   = errors.New("empty content loaded")
)

// StatusForError maps a resolution error to its terminal batch status.
func StatusForError(err error) (storage.BatchStatus, bool) {
	switch {
	case errors.Is(err, ErrInvalidURI):
		return storage.StatusInvalidURI, true
	case errors.Is(err, ErrNotFound):
		return storage.StatusSourceFileNotFound, true
	case errors.Is(err, ErrDownloadFailed):
		return storage.StatusDownloadFailed, true
	case errors.Is(err, ErrFileError):
		return storage.StatusFileError, true
	case errors.Is(err, ErrEmptyPayload):
		return storage.StatusEmptyContentLoaded, true
	default:
		return "", false
	}
}

// ObjectGetter is the subset of the S3 API the resolver needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config holds resolver defaults.
type Config struct {
	// DefaultBucket backs bare object keys that carry no scheme.
	DefaultBucket string
	// DefaultFilePath is used when the caller passes an empty URI.
	DefaultFilePath string
}

// Resolver fetches payload bytes from S3, the local filesystem, or an inline
// request body.
type Resolver struct {
	s3     ObjectGetter
	cfg    Config
	logger *observability.Logger
}

// NewResolver creates a Resolver. The S3 client may be nil when only local
// and inline sources are used.
func NewResolver(s3Client ObjectGetter, cfg Config, logger *observability.Logger) *Resolver {
	return &Resolver{s3: s3Client, cfg: cfg, logger: logger}
}

// InlineSourceID assigns the synthetic source identifier for a payload posted
// directly to the API.
func InlineSourceID() string {
	return "api-payload-" + uuid.NewString()
}

// Resolve fetches the payload bytes for a source URI.
func (r *Resolver) Resolve(ctx context.Context, sourceURI string) ([]byte, error) {
	uri := strings.TrimSpace(sourceURI)
	if uri == "" {
		if r.cfg.DefaultFilePath == "" {
			return nil, fmt.Errorf("%w: empty uri and no default file path", ErrInvalidURI)
		}
		uri = r.cfg.DefaultFilePath
	}

	switch {
	case strings.HasPrefix(uri, "s3://"):
		return r.resolveS3(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		return r.resolveFile(strings.TrimPrefix(uri, "file://"))
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidURI, uri)
	default:
		return r.resolveFile(uri)
	}
}

func (r *Resolver) resolveS3(ctx context.Context, uri string) ([]byte, error) {
	if r.s3 == nil {
		return nil, fmt.Errorf("%w: s3 client not configured", ErrDownloadFailed)
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" {
		bucket = r.cfg.DefaultBucket
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: missing bucket or key in %q", ErrInvalidURI, uri)
	}

	out, err := r.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			code := apiErr.ErrorCode()
			if code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket" {
				return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
			}
		}
		r.logger.Error().Err(err).Str("bucket", bucket).Str("key", key).Msg("S3 download failed")
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object body: %v", ErrDownloadFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: s3://%s/%s", ErrEmptyPayload, bucket, key)
	}
	return data, nil
}

func (r *Resolver) resolveFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrFileError, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPayload, path)
	}
	return data, nil
}
