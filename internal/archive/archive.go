// Package archive uploads journal exports to an S3-compatible bucket and
// hands back a short-lived download link.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DefaultLinkTTL = 15 * time.Minute

// ObjectStore is the subset of *minio.Client the archiver needs.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Object describes an uploaded export.
type Object struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Archiver struct {
	client  ObjectStore
	bucket  string
	linkTTL time.Duration
	now     func() time.Time

	bucketMu sync.Mutex
	bucketOK   bool
}

func NewMinio(cfg Config) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return New(client, cfg.Bucket), nil
}

func New(client ObjectStore, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket, linkTTL: DefaultLinkTTL, now: time.Now}
}

// Store uploads data for userID and returns a presigned GET link for it.
func (a *Archiver) Store(ctx context.Context, userID, filename, contentType string, data []byte) (Object, error) {
	if err := a.ensureBucket(ctx); err != nil {
		return Object{}, err
	}

	now := a.now().UTC()
	key := ObjectKey(userID, filename, now)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("upload export: %w", err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	link, err := a.client.PresignedGetObject(ctx, a.bucket, key, a.linkTTL, params)
	if err != nil {
		return Object{}, fmt.Errorf("presign export: %w", err)
	}
	return Object{Key: key, URL: link.String(), ExpiresAt: now.Add(a.linkTTL)}, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.bucketMu.Lock()
	defer a.bucketMu.Unlock()
	if a.bucketOK {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	a.bucketOK = true
	return nil
}

// ObjectKey places exports under users/{userID}/exports/{timestamp}-{file}.
func ObjectKey(userID, filename string, at time.Time) string {
	return fmt.Sprintf("users/%s/exports/%s-%s", userID, at.UTC().Format("20060102T150405Z"), filename)
}
