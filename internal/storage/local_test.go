package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalObjectStorePutGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.CreateBucket(ctx, "bucket"))
	require.NoError(t, store.PutObject(ctx, "bucket", "data/train.npz", strings.NewReader("payload")))

	data, err := store.GetObject(ctx, "bucket", "data/train.npz")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = store.GetObject(ctx, "bucket", "data/missing.npz")
	assert.Error(t, err)
}

func TestLocalObjectStoreList(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"runs/a/loss.json", "runs/a/acc.json", "runs/b/loss.json"} {
		require.NoError(t, store.PutObject(ctx, "bucket", key, strings.NewReader("x")))
	}

	objects, err := store.ListObjects(ctx, "bucket", "runs/a/")
	require.NoError(t, err)

	var names []string
	for _, obj := range objects {
		names = append(names, obj.Name)
	}
	assert.ElementsMatch(t, []string{"runs/a/loss.json", "runs/a/acc.json"}, names)
}

func TestLocalObjectStoreDownload(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.PutObject(ctx, "bucket", "model.bin", strings.NewReader("weights")))

	dest := filepath.Join(t.TempDir(), "nested", "model.bin")
	require.NoError(t, store.DownloadObject(ctx, "bucket", "model.bin", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
}

func TestUploadFileAddressing(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "train.npz")
	require.NoError(t, os.WriteFile(local, []byte("archive"), 0644))

	addr, err := UploadFile(ctx, store, local, "bucket", "mnist/data")
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/mnist/data/train.npz", addr)

	// Same prefix and file name always yield the same address.
	addr2, err := UploadFile(ctx, store, local, "bucket", "mnist/data")
	require.NoError(t, err)
	assert.Equal(t, addr, addr2)

	data, err := store.GetObject(ctx, "bucket", "mnist/data/train.npz")
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))
}

func TestParsePath(t *testing.T) {
	bucket, key, err := ParsePath("s3://my-bucket/some/prefix/file.npz")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "some/prefix/file.npz", key)

	_, _, err = ParsePath("https://my-bucket/key")
	assert.ErrorContains(t, err, "invalid scheme")

	_, _, err = ParsePath("s3:///key-only")
	assert.ErrorContains(t, err, "missing bucket")
}
