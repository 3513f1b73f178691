package storage_manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalWriteReadRoundTrip(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	require.NoError(t, provider.Write(ctx, "users/a@x.com/record.json", []byte(`{"user_id":"a@x.com"}`)))

	data, err := provider.Read(ctx, "users/a@x.com/record.json")
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":"a@x.com"}`, string(data))
}

func TestLocalWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	provider := NewLocalFileProvider(dir)
	ctx := context.Background()

	require.NoError(t, provider.Write(ctx, "record.json", []byte("v1")))
	require.NoError(t, provider.Write(ctx, "record.json", []byte("v2")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "record.json", entries[0].Name())

	data, err := provider.Read(ctx, "record.json")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestLocalAppend(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	require.NoError(t, provider.Append(ctx, "log.jsonl", []byte("line1\n")))
	require.NoError(t, provider.Append(ctx, "log.jsonl", []byte("line2\n")))

	data, err := provider.Read(ctx, "log.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(data))
}

func TestLocalExistsAndDelete(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	exists, err := provider.Exists(ctx, "missing.json")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, provider.Write(ctx, "present.json", []byte("{}")))
	exists, err = provider.Exists(ctx, "present.json")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, provider.Delete(ctx, "present.json"))
	exists, err = provider.Exists(ctx, "present.json")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting a missing file is not an error
	require.NoError(t, provider.Delete(ctx, "missing.json"))
}

func TestLocalList(t *testing.T) {
	provider := NewLocalFileProvider(t.TempDir())
	ctx := context.Background()

	require.NoError(t, provider.Write(ctx, filepath.Join("users", "a", "record.json"), []byte("{}")))
	require.NoError(t, provider.Write(ctx, filepath.Join("users", "b", "record.json"), []byte("{}")))

	files, err := provider.List(ctx, "users")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = provider.List(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, files)
}

// fakeS3 is an in-memory S3Client for exercising S3FileProvider logic.
type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, _, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

func (f *fakeS3) PutObject(_ context.Context, _, key string, data []byte) error {
	f.objects[key] = data
	return nil
}

func (f *fakeS3) HeadObject(_ context.Context, _, key string) error {
	if _, ok := f.objects[key]; !ok {
		return ErrObjectNotFound
	}
	return nil
}

func (f *fakeS3) DeleteObject(_ context.Context, _, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeS3) ListObjects(_ context.Context, _, prefix string) ([]string, error) {
	var keys []string
	for key := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func TestS3ProviderPrefixing(t *testing.T) {
	client := newFakeS3()
	provider := NewS3FileProvider("bucket", "sentio", client)
	ctx := context.Background()

	require.NoError(t, provider.Write(ctx, "users/a/record.json", []byte("{}")))
	assert.Contains(t, client.objects, "sentio/users/a/record.json")

	data, err := provider.Read(ctx, "users/a/record.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestS3ProviderAppend(t *testing.T) {
	client := newFakeS3()
	provider := NewS3FileProvider("bucket", "", client)
	ctx := context.Background()

	require.NoError(t, provider.Append(ctx, "log.jsonl", []byte("a\n")))
	require.NoError(t, provider.Append(ctx, "log.jsonl", []byte("b\n")))

	data, err := provider.Read(ctx, "log.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestS3ProviderExists(t *testing.T) {
	client := newFakeS3()
	provider := NewS3FileProvider("bucket", "p", client)
	ctx := context.Background()

	exists, err := provider.Exists(ctx, "x.json")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, provider.Write(ctx, "x.json", []byte("{}")))
	exists, err = provider.Exists(ctx, "x.json")
	require.NoError(t, err)
	assert.True(t, exists)
}
