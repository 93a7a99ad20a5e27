package integrationtests

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trainpipe/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func TestS3ObjectStore_PutGetObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))

	key := "test-dir/test-file.txt"
	content := []byte("Test content")

	require.NoError(t, objectStore.PutObject(ctx, bucketName, key, bytes.NewReader(content)))

	data, err := objectStore.GetObject(ctx, bucketName, key)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestS3ObjectStore_CreateBucketTwice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))
}

func TestS3ObjectStore_ListObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))

	files := []string{"mnist/data/train.npz", "mnist/data/valid.npz", "output/other.json"}
	for _, file := range files {
		require.NoError(t, objectStore.PutObject(ctx, bucketName, file, bytes.NewReader([]byte("content: "+file))))
	}

	objs, err := objectStore.ListObjects(ctx, bucketName, "mnist/data/")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	names := []string{objs[0].Name, objs[1].Name}
	assert.ElementsMatch(t, []string{"mnist/data/train.npz", "mnist/data/valid.npz"}, names)

	objs, err = objectStore.ListObjects(ctx, bucketName, "missing/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestS3ObjectStore_DownloadObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))

	key := "mnist/data/train.npz"
	content := []byte("archived split bytes")
	require.NoError(t, objectStore.PutObject(ctx, bucketName, key, bytes.NewReader(content)))

	dest := filepath.Join(t.TempDir(), "train.npz")
	require.NoError(t, objectStore.DownloadObject(ctx, bucketName, key, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestS3ObjectStore_UploadFileAddressing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)
	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))

	local := filepath.Join(t.TempDir(), "train.npz")
	require.NoError(t, os.WriteFile(local, []byte("archive"), os.ModePerm))

	addr, err := storage.UploadFile(ctx, objectStore, local, bucketName, "mnist/data")
	require.NoError(t, err)
	assert.Equal(t, "s3://"+bucketName+"/mnist/data/train.npz", addr)

	again, err := storage.UploadFile(ctx, objectStore, local, bucketName, "mnist/data")
	require.NoError(t, err)
	assert.Equal(t, addr, again, "repeated uploads of the same file share one address")

	data, err := objectStore.GetObject(ctx, bucketName, "mnist/data/train.npz")
	require.NoError(t, err)
	assert.Equal(t, []byte("archive"), data)
}
