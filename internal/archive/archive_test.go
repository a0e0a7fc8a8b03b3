package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	buckets      map[string]bool
	objects      map[string][]byte
	contentTypes map[string]string
	existsCalls  int
	putErr       error
	lastParams   url.Values
	lastExpiry   time.Duration
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		buckets:      map[string]bool{},
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
	}
}

func (f *fakeObjectStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	f.existsCalls++
	return f.buckets[bucket], nil
}

func (f *fakeObjectStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeObjectStore) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[bucket+"/"+key] = buf.Bytes()
	f.contentTypes[bucket+"/"+key] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func (f *fakeObjectStore) PresignedGetObject(_ context.Context, bucket, key string, expires time.Duration, params url.Values) (*url.URL, error) {
	f.lastParams = params
	f.lastExpiry = expires
	return url.Parse("https://objects.example.test/" + bucket + "/" + key + "?X-Amz-Signature=abc")
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 3, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "users/u1/exports/20260501T100003Z-journal.md", ObjectKey("u1", "journal.md", at))
}

func TestStoreUploadsAndPresigns(t *testing.T) {
	objects := newFakeObjectStore()
	archiver := New(objects, "journal-exports")
	archiver.now = func() time.Time { return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC) }

	obj, err := archiver.Store(context.Background(), "u1", "journal.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, "users/u1/exports/20260501T100000Z-journal.pdf", obj.Key)
	assert.Contains(t, obj.URL, obj.Key)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC), obj.ExpiresAt)
	assert.True(t, objects.buckets["journal-exports"], "bucket should be created")
	assert.Equal(t, []byte("%PDF"), objects.objects["journal-exports/"+obj.Key])
	assert.Equal(t, "application/pdf", objects.contentTypes["journal-exports/"+obj.Key])
	assert.Equal(t, DefaultLinkTTL, objects.lastExpiry)
	assert.Equal(t, `attachment; filename="journal.pdf"`, objects.lastParams.Get("response-content-disposition"))
}

func TestStoreChecksBucketOnce(t *testing.T) {
	objects := newFakeObjectStore()
	archiver := New(objects, "b")

	for i := 0; i < 3; i++ {
		_, err := archiver.Store(context.Background(), "u1", "a.html", "text/html", []byte("x"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, objects.existsCalls)
}

func TestStoreUploadError(t *testing.T) {
	objects := newFakeObjectStore()
	objects.putErr = errors.New("access denied")
	archiver := New(objects, "b")

	_, err := archiver.Store(context.Background(), "u1", "a.html", "text/html", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, objects.putErr)
}
