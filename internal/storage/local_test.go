package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"
)

func testRef() ArchiveRef {
	return ArchiveRef{
		Prefix: "CAISO_LMP",
		Market: "DAM",
		Source: "TH_NP15_GEN-APND",
		Start:  time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2022, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestArchiveRefName(t *testing.T) {
	got := testRef().Name()
	want := "CAISO_LMP_DAM_TH_NP15_GEN-APND_20220101_20220131.zip"
	if got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}

	group := ArchiveRef{
		Prefix: "CAISO_LMP",
		Source: "DAM_LMP_GRP",
		Start:  time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if got := group.Name(); got != "CAISO_LMP_DAM_LMP_GRP_20220101_20220102.zip" {
		t.Errorf("group Name() = %q", got)
	}
}

func TestArchiveRefNameSanitizesSource(t *testing.T) {
	ref := testRef()
	ref.Source = "../etc/passwd"
	name := ref.Name()
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		t.Errorf("Name() = %q should not contain path separators", name)
	}
}

func TestLocalStorePut(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "oasis-store-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dir := filepath.Join(tmpDir, "dataset")
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ctx := context.Background()
	name := testRef().Name()

	path, err := store.Put(ctx, name, []byte("first"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if path != filepath.Join(dir, name) {
		t.Errorf("Put path = %q", path)
	}

	// Overwrite replaces content
	if _, err := store.Put(ctx, name, []byte("second")); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}

	// No temp file left behind
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after Put")
	}

	if uri := store.URI(name); !strings.HasPrefix(uri, "file://") || !strings.HasSuffix(uri, name) {
		t.Errorf("URI = %q", uri)
	}
}

func TestBlobStorePut(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	store := NewBlobStoreFromBucket(bucket, "mem://archives", "oasis/")
	defer store.Close()

	uri, err := store.Put(ctx, "a.zip", []byte("payload"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if uri != "mem://archives/oasis/a.zip" {
		t.Errorf("URI = %q", uri)
	}

	exists, err := bucket.Exists(ctx, "oasis/a.zip")
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v; want true, nil", exists, err)
	}
}

func TestS3BucketURL(t *testing.T) {
	if got := S3BucketURL("b", "", ""); got != "s3://b" {
		t.Errorf("S3BucketURL = %q", got)
	}
	got := S3BucketURL("b", "http://minio:9000", "us-east-1")
	if !strings.HasPrefix(got, "s3://b?") || !strings.Contains(got, "s3ForcePathStyle=true") {
		t.Errorf("S3BucketURL = %q", got)
	}
}

func TestMirroredStoreWritesBoth(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	bucket := memblob.OpenBucket(nil)
	mirror := NewBlobStoreFromBucket(bucket, "mem://", "")

	store := NewMirroredStore(local, mirror)
	defer store.Close()

	path, err := store.Put(ctx, "x.zip", []byte("zip"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("primary copy missing: %v", err)
	}
	if ok, _ := bucket.Exists(ctx, "x.zip"); !ok {
		t.Error("mirror copy missing")
	}
}

func TestNewArchiveStoreURLMirror(t *testing.T) {
	ctx := context.Background()
	store, err := NewArchiveStore(ctx, StorageConfig{
		LocalDir: t.TempDir(),
		Mirror:   "url",
		URL:      "mem://",
		Prefix:   "raw/",
	})
	if err != nil {
		t.Fatalf("NewArchiveStore failed: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*MirroredStore); !ok {
		t.Errorf("store type = %T, want *MirroredStore", store)
	}
}

func TestNewArchiveStoreErrors(t *testing.T) {
	ctx := context.Background()
	cases := []StorageConfig{
		{},
		{LocalDir: t.TempDir(), Mirror: "gcs"},
		{LocalDir: t.TempDir(), Mirror: "ftp"},
	}
	for _, cfg := range cases {
		if _, err := NewArchiveStore(ctx, cfg); err == nil {
			t.Errorf("NewArchiveStore(%+v) should fail", cfg)
		}
	}
}
