package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Object struct {
	Name string
	Size int64
}

// Provider is the object-store surface the pipeline and the training backend
// depend on. Implementations exist for S3-compatible stores and the local
// filesystem.
type Provider interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)
}

// ObjectPath formats the canonical address of an object. The same scheme is
// used for every provider so addresses stay portable across stores.
func ObjectPath(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, strings.TrimPrefix(key, "/"))
}

// ParsePath splits an object address produced by ObjectPath back into its
// bucket and key.
func ParsePath(objectPath string) (bucket, key string, err error) {
	parsed, err := url.Parse(objectPath)
	if err != nil {
		return "", "", fmt.Errorf("invalid object path '%s': %w", objectPath, err)
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("invalid scheme in object path '%s', expected 's3'", objectPath)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("missing bucket in object path '%s'", objectPath)
	}
	return parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}

// UploadFile copies a local file under the given key prefix and returns its
// address. The address is a pure function of the prefix and the file's base
// name.
func UploadFile(ctx context.Context, provider Provider, localPath, bucket, keyPrefix string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer f.Close()

	key := path.Join(keyPrefix, filepath.Base(localPath))
	if err := provider.PutObject(ctx, bucket, key, f); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	return ObjectPath(bucket, key), nil
}
