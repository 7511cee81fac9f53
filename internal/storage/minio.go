package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"scanapi/internal/config"
)

// minioStorage implements Storage on an S3-compatible backend (MinIO, AWS S3,
// etc.), for deployments where scans must outlive the process. It is safe for
// concurrent use by multiple goroutines.
type minioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinIO creates a new S3-compatible scan store backed by MinIO.
// It validates connectivity and ensures the bucket exists (creates it if missing).
func NewMinIO(cfg config.MinIOConfig) (Storage, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ms := &minioStorage{client: cli, bucket: cfg.Bucket}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return ms, nil
}

// One object per patient; Put overwrites in place.
func objectKey(patientID string) string {
	return "scans/" + patientID
}

// Put uploads the scan using streaming I/O only (no local disk).
func (m *minioStorage) Put(ctx context.Context, patientID string, r io.Reader, opt PutOptions) (BlobInfo, error) {
	putOpts := minio.PutObjectOptions{
		ContentType: opt.ContentType,
		UserMetadata: map[string]string{
			"original-filename": opt.Filename,
		},
	}
	info, err := m.client.PutObject(ctx, m.bucket, objectKey(patientID), r, opt.Size, putOpts)
	if err != nil {
		return BlobInfo{}, err
	}
	return BlobInfo{
		PatientID:   patientID,
		Size:        info.Size,
		ContentType: opt.ContentType,
		Filename:    opt.Filename,
		UploadedAt:  time.Now().UTC(), // MinIO PutObjectInfo doesn't return LastModified
	}, nil
}

// Get downloads the scan content as a ReadCloser along with its info.
func (m *minioStorage) Get(ctx context.Context, patientID string) (io.ReadCloser, BlobInfo, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey(patientID), minio.GetObjectOptions{})
	if err != nil {
		return nil, BlobInfo{}, err
	}
	// Fetch stat to populate info; avoid reading content into memory.
	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, BlobInfo{}, ErrBlobNotFound
		}
		return nil, BlobInfo{}, err
	}
	info := BlobInfo{
		PatientID:   patientID,
		Size:        st.Size,
		ContentType: st.ContentType,
		Filename:    st.UserMetadata["Original-Filename"],
		UploadedAt:  st.LastModified,
	}
	return obj, info, nil
}

// Delete removes the scan object; a missing object is treated as a no-op.
func (m *minioStorage) Delete(ctx context.Context, patientID string) error {
	err := m.client.RemoveObject(ctx, m.bucket, objectKey(patientID), minio.RemoveObjectOptions{})
	if err != nil && isNoSuchKey(err) {
		return nil
	}
	return err
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return false
}
