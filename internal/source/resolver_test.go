package source

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

type fakeS3 struct {
	objects map[string][]byte
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := *params.Bucket + "/" + *params.Key
	data, ok := f.objects[key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func newResolver(s3c ObjectGetter, cfg Config) *Resolver {
	return NewResolver(s3c, cfg, observability.Nop())
}

func TestResolveLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"copy":"x"}`), 0o644))

	data, err := newResolver(nil, Config{}).Resolve(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, `{"copy":"x"}`, string(data))
}

func TestResolveLocalFileMissing(t *testing.T) {
	_, err := newResolver(nil, Config{}).Resolve(context.Background(), "/nonexistent/doc.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := newResolver(nil, Config{}).Resolve(context.Background(), path)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestResolveEmptyURIFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	data, err := newResolver(nil, Config{DefaultFilePath: path}).Resolve(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

func TestResolveEmptyURINoDefault(t *testing.T) {
	_, err := newResolver(nil, Config{}).Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidURI)
}

func TestResolveUnsupportedScheme(t *testing.T) {
	_, err := newResolver(nil, Config{}).Resolve(context.Background(), "ftp://host/doc.json")
	assert.ErrorIs(t, err, ErrInvalidURI)
}

func TestResolveS3(t *testing.T) {
	s3c := &fakeS3{objects: map[string][]byte{"bucket/path/doc.json": []byte(`{"a":1}`)}}
	data, err := newResolver(s3c, Config{}).Resolve(context.Background(), "s3://bucket/path/doc.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestResolveS3NotFound(t *testing.T) {
	s3c := &fakeS3{objects: map[string][]byte{}}
	_, err := newResolver(s3c, Config{}).Resolve(context.Background(), "s3://bucket/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveS3MissingKey(t *testing.T) {
	_, err := newResolver(&fakeS3{}, Config{}).Resolve(context.Background(), "s3://bucket")
	assert.ErrorIs(t, err, ErrInvalidURI)
}

func TestResolveS3NilClient(t *testing.T) {
	_, err := newResolver(nil, Config{}).Resolve(context.Background(), "s3://bucket/key")
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestInlineSourceID(t *testing.T) {
	id := InlineSourceID()
	assert.True(t, strings.HasPrefix(id, "api-payload-"))
	assert.NotEqual(t, id, InlineSourceID())
}

func TestStatusForError(t *testing.T) {
	status, ok := StatusForError(ErrInvalidURI)
	require.True(t, ok)
	assert.Equal(t, storage.StatusInvalidURI, status)

	status, ok = StatusForError(ErrNotFound)
	require.True(t, ok)
	assert.Equal(t, storage.StatusSourceFileNotFound, status)

	status, ok = StatusForError(ErrEmptyPayload)
	require.True(t, ok)
	assert.Equal(t, storage.StatusEmptyContentLoaded, status)

	_, ok = StatusForError(assert.AnError)
	assert.False(t, ok)
}
