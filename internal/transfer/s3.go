package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"blockserver/internal/cache"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const sizeCachePrefix = "size:"

// S3Config locates an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// S3 is a Backend storing objects in one bucket of an S3-compatible service,
// under the key "<prefix>/<path>". Object sizes are memoized in a cache.
type S3 struct {
	client  *minio.Client
	bucket  string
	cache   cache.Cache
	tempDir string
}

// NewS3Client creates a path-style minio client for cfg.
func NewS3Client(cfg S3Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}
	return client, nil
}

// NewS3 creates an S3 backend. Retrieved bodies are downloaded into temp
// files under tempDir, or the OS temp directory if it is empty.
func NewS3(client *minio.Client, bucket string, c cache.Cache, tempDir string) *S3 {
	return &S3{
		client:  client,
		bucket:  bucket,
		cache:   c,
		tempDir: tempDir,
	}
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).StatusCode == http.StatusNotFound
}

func (s *S3) Store(ctx context.Context, obj StorageObject) (StorageObject, int64, error) {
	oldSize, _, err := s.Size(ctx, obj)
	if err != nil {
		return StorageObject{}, 0, err
	}

	info, err := s.client.FPutObject(ctx, s.bucket, obj.Key(), obj.LocalFile, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return StorageObject{}, 0, fmt.Errorf("put %s: %w", obj.Key(), err)
	}

	s.rememberSize(ctx, obj.Key(), info.Size)

	stored := StorageObject{
		Prefix: obj.Prefix,
		Path:   obj.Path,
		ETag:   QuoteETag(info.ETag),
		Size:   info.Size,
	}
	return stored, stored.Size - oldSize, nil
}

// Retrieve reads the ETag and the body from one GET, so both describe the
// same version of the object.
func (s *S3) Retrieve(ctx context.Context, obj StorageObject) (*StorageObject, error) {
	body, err := s.client.GetObject(ctx, s.bucket, obj.Key(), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", obj.Key(), err)
	}
	defer body.Close()

	stat, err := body.Stat()
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", obj.Key(), err)
	}

	found := &StorageObject{
		Prefix: obj.Prefix,
		Path:   obj.Path,
		ETag:   QuoteETag(stat.ETag),
	}
	if obj.ETag == found.ETag {
		return found, nil
	}

	tmp, err := os.CreateTemp(s.tempDir, "retrieve-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	found.LocalFile = tmp.Name()
	found.temporary = true

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		found.Release()
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("download %s: %w", obj.Key(), err)
	}

	found.Size = n
	s.rememberSize(ctx, obj.Key(), n)
	return found, nil
}

func (s *S3) Delete(ctx context.Context, obj StorageObject) (int64, error) {
	size, exists, err := s.Size(ctx, obj)
	if err != nil || !exists {
		return 0, err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, obj.Key(), minio.RemoveObjectOptions{}); err != nil {
		return 0, fmt.Errorf("remove %s: %w", obj.Key(), err)
	}
	if err := s.cache.Delete(ctx, sizeCachePrefix+obj.Key()); err != nil {
		slog.Warn("Failed to forget cached object size", "key", obj.Key(), "err", err)
	}
	return size, nil
}

func (s *S3) Size(ctx context.Context, obj StorageObject) (int64, bool, error) {
	key := obj.Key()

	if raw, ok, err := s.cache.Get(ctx, sizeCachePrefix+key); err != nil {
		slog.Warn("Object size cache lookup failed", "key", key, "err", err)
	} else if ok {
		if size, parseErr := strconv.ParseInt(string(raw), 10, 64); parseErr == nil {
			return size, true, nil
		}
	}

	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("stat %s: %w", key, err)
	}

	s.rememberSize(ctx, key, stat.Size)
	return stat.Size, true, nil
}

func (s *S3) rememberSize(ctx context.Context, key string, size int64) {
	if err := s.cache.Set(ctx, sizeCachePrefix+key, []byte(strconv.FormatInt(size, 10))); err != nil {
		slog.Warn("Failed to cache object size", "key", key, "err", err)
	}
}
