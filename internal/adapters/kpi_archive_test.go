package adapters

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"dealership_crm_backend/internal/adapters/storage"
)

type objectRecorder struct {
	bucket, key, contentType string
	body                     []byte
}

func (o *objectRecorder) PutObject(ctx context.Context, bucket, key, contentType string, body []byte) error {
	o.bucket, o.key, o.contentType, o.body = bucket, key, contentType, body
	return nil
}

func (o *objectRecorder) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if key != o.key {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(o.body)), nil
}

func (o *objectRecorder) GenerateDownloadURL(ctx context.Context, bucket, key string) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://minio.local/" + bucket + "/" + key, FileKey: key}, nil
}

func (o *objectRecorder) EnsureBucketExists(ctx context.Context, bucket string) error { return nil }

func TestKPIArchiveKeyLayout(t *testing.T) {
	rec := &objectRecorder{}
	archive := NewKPIArchive(rec, "kpi-archive")

	if err := archive.Store(context.Background(), "2026-10", 3, "9f2c", []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.bucket != "kpi-archive" || rec.key != "kpi/2026-10/3-9f2c.json" || rec.contentType != "application/json" {
		t.Fatalf("unexpected object %s/%s (%s)", rec.bucket, rec.key, rec.contentType)
	}
	if err := storage.ValidateObjectKey(rec.key); err != nil {
		t.Fatalf("archive key failed validation: %v", err)
	}
}

func TestKPIArchiveRoundTrip(t *testing.T) {
	rec := &objectRecorder{}
	archive := NewKPIArchive(rec, "kpi-archive")
	ctx := context.Background()
	body := []byte(`{"period":"2026-10"}`)

	if err := archive.Store(ctx, "2026-10", 2, "ab12", body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := archive.Load(ctx, "2026-10", 2, "ab12")
	if err != nil || !bytes.Equal(got, body) {
		t.Fatalf("expected stored body back, got %q %v", got, err)
	}
	if _, err := archive.Load(ctx, "2026-10", 3, "ab12"); err == nil {
		t.Fatalf("expected missing version to fail")
	}
	url, _, err := archive.DownloadURL(ctx, "2026-10", 2, "ab12")
	if err != nil || url != "https://minio.local/kpi-archive/kpi/2026-10/2-ab12.json" {
		t.Fatalf("unexpected download url %q %v", url, err)
	}
}
