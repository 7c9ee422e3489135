package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ArchiveRef identifies one downloaded archive: a source (node or group),
// the market it was requested for, and the window bounds.
type ArchiveRef struct {
	Prefix string // "CAISO_LMP"
	Market string // "DAM" | "RTM" | ... ; empty for grouped downloads
	Source string // node id or group id
	Start  time.Time
	End    time.Time
}

// Name returns the deterministic archive file name,
// {prefix}_{market}_{source}_{YYYYMMDD}_{YYYYMMDD}.zip.
func (r ArchiveRef) Name() string {
	parts := make([]string, 0, 5)
	if r.Prefix != "" {
		parts = append(parts, r.Prefix)
	}
	if r.Market != "" {
		parts = append(parts, r.Market)
	}
	parts = append(parts,
		sanitize(r.Source),
		r.Start.UTC().Format("20060102"),
		r.End.UTC().Format("20060102"),
	)
	return strings.Join(parts, "_") + ".zip"
}

// sanitize keeps node ids from escaping the download directory.
func sanitize(s string) string {
	return strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(s)
}

// ArchiveStore abstracts writing downloaded archives.
type ArchiveStore interface {
	// Put writes data under name, replacing any previous content, and
	// returns where it was written.
	Put(ctx context.Context, name string, data []byte) (string, error)

	// URI returns the canonical URI for the given name.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(name string) string

	// Close releases any resources.
	Close() error
}

// StorageConfig configures where archives are written.
type StorageConfig struct {
	// LocalDir is the download directory. Archives always land here so the
	// extractor can read them.
	LocalDir string `yaml:"local_dir" validate:"required"`

	// Mirror optionally copies every archive to object storage:
	// "" (disabled) | "gcs" | "s3" | "url".
	Mirror string `yaml:"mirror" validate:"omitempty,oneof=gcs s3 url"`

	// GCS / S3 bucket name.
	Bucket string `yaml:"bucket" validate:"required_if=Mirror gcs,required_if=Mirror s3"`

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string `yaml:"s3_endpoint"` // custom endpoint for B2/MinIO/R2
	S3Region   string `yaml:"s3_region"`

	// URL is a raw gocloud bucket URL (file://, mem://, gs://, s3://) used
	// when Mirror is "url".
	URL string `yaml:"url" validate:"required_if=Mirror url"`

	// Prefix is prepended to mirrored object keys ("oasis/").
	Prefix string `yaml:"prefix"`
}

// NewArchiveStore creates the local store and, when configured, wraps it
// with a mirror.
func NewArchiveStore(ctx context.Context, cfg StorageConfig) (ArchiveStore, error) {
	if cfg.LocalDir == "" {
		return nil, fmt.Errorf("LocalDir required for archive storage")
	}
	local, err := NewLocalStore(cfg.LocalDir)
	if err != nil {
		return nil, err
	}

	var bucketURL string
	switch cfg.Mirror {
	case "":
		return local, nil
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs mirror")
		}
		bucketURL = GCSBucketURL(cfg.Bucket)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 mirror")
		}
		bucketURL = S3BucketURL(cfg.Bucket, cfg.S3Endpoint, cfg.S3Region)
	case "url":
		if cfg.URL == "" {
			return nil, fmt.Errorf("URL required for url mirror")
		}
		bucketURL = cfg.URL
	default:
		return nil, fmt.Errorf("unknown mirror backend: %s", cfg.Mirror)
	}

	mirror, err := NewBlobStore(ctx, bucketURL, cfg.Prefix)
	if err != nil {
		return nil, err
	}
	return NewMirroredStore(local, mirror), nil
}

// MirroredStore writes to a primary store and copies to a secondary one.
// Only primary failures are returned; mirror failures are logged.
type MirroredStore struct {
	primary ArchiveStore
	mirror  ArchiveStore
	log     *slog.Logger
}

// NewMirroredStore combines a primary and a mirror store.
func NewMirroredStore(primary, mirror ArchiveStore) *MirroredStore {
	return &MirroredStore{
		primary: primary,
		mirror:  mirror,
		log:     slog.With("component", "storage"),
	}
}

// Put writes to the primary store, then the mirror.
func (s *MirroredStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	path, err := s.primary.Put(ctx, name, data)
	if err != nil {
		return "", err
	}
	if uri, err := s.mirror.Put(ctx, name, data); err != nil {
		s.log.Warn("mirror write failed", "name", name, "error", err)
	} else {
		s.log.Debug("mirrored archive", "uri", uri)
	}
	return path, nil
}

// URI returns the primary URI.
func (s *MirroredStore) URI(name string) string {
	return s.primary.URI(name)
}

// Close closes both stores.
func (s *MirroredStore) Close() error {
	perr := s.primary.Close()
	merr := s.mirror.Close()
	if perr != nil {
		return perr
	}
	return merr
}
