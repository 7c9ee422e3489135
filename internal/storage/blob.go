package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BlobStore writes archives to any gocloud.dev bucket.
type BlobStore struct {
	bucket    *blob.Bucket
	bucketURL string
	prefix    string
}

// GCSBucketURL returns the gocloud URL for a GCS bucket.
func GCSBucketURL(bucketName string) string {
	return fmt.Sprintf("gs://%s", bucketName)
}

// S3BucketURL builds the gocloud URL for an S3-compatible bucket.
// Works with AWS S3, Backblaze B2, Cloudflare R2, and MinIO.
func S3BucketURL(bucketName, endpoint, region string) string {
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}
	return bucketURL
}

// NewBlobStore opens the bucket at bucketURL.
func NewBlobStore(ctx context.Context, bucketURL, prefix string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBlobStoreFromBucket(bucket, bucketURL, prefix), nil
}

// NewBlobStoreFromBucket wraps an already opened bucket.
func NewBlobStoreFromBucket(bucket *blob.Bucket, bucketURL, prefix string) *BlobStore {
	return &BlobStore{
		bucket:    bucket,
		bucketURL: bucketURL,
		prefix:    prefix,
	}
}

func (s *BlobStore) key(name string) string {
	return s.prefix + name
}

// Put writes data to prefix+name.
func (s *BlobStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := s.key(name)

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/zip"})
	if err != nil {
		return "", fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", key, err)
	}

	return s.URI(name), nil
}

// URI returns scheme://bucket/prefix+name.
func (s *BlobStore) URI(name string) string {
	base := s.bucketURL
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimSuffix(base, "/") + "/" + s.key(name)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
