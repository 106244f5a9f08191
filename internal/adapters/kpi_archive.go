package adapters

import (
	"context"
	"fmt"
	"io"
	"time"

	"dealership_crm_backend/internal/adapters/storage"
	kpiports "dealership_crm_backend/internal/kpi/ports"
)

const archiveContentType = "application/json"

// KPIArchive writes published snapshot sets to object storage, one immutable
// object per version.
type KPIArchive struct {
	store  storage.StorageService
	bucket string
}

func NewKPIArchive(store storage.StorageService, bucket string) *KPIArchive {
	return &KPIArchive{store: store, bucket: bucket}
}

// ArchiveKey names the object of one version.
func ArchiveKey(period string, version int, digest string) string {
	return fmt.Sprintf("kpi/%s/%d-%s.json", period, version, digest)
}

func (a *KPIArchive) Store(ctx context.Context, period string, version int, digest string, body []byte) error {
	return a.store.PutObject(ctx, a.bucket, ArchiveKey(period, version, digest), archiveContentType, body)
}

// Load reads an archived version back.
func (a *KPIArchive) Load(ctx context.Context, period string, version int, digest string) ([]byte, error) {
	obj, err := a.store.GetObject(ctx, a.bucket, ArchiveKey(period, version, digest))
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	body, err := io.ReadAll(io.LimitReader(obj, storage.MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("read archived %s v%d: %w", period, version, err)
	}
	if err := storage.ValidateObjectSize(int64(len(body))); err != nil {
		return nil, err
	}
	return body, nil
}

// DownloadURL returns a presigned link auditors can fetch a version from.
func (a *KPIArchive) DownloadURL(ctx context.Context, period string, version int, digest string) (string, time.Time, error) {
	presigned, err := a.store.GenerateDownloadURL(ctx, a.bucket, ArchiveKey(period, version, digest))
	if err != nil {
		return "", time.Time{}, err
	}
	return presigned.URL, presigned.ExpiresAt, nil
}

var _ kpiports.Archive = (*KPIArchive)(nil)
