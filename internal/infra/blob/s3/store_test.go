package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk/internal/blob/core"
)

func TestImageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	assert.Equal(t, core.DriverS3, s.Driver())

	info, err := s.Put(ctx, "plots/R1/a.jpg", strings.NewReader("jpeg"), core.PutOptions{ContentType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "plots/R1/a.jpg", info.Key)
	assert.EqualValues(t, 4, info.Size)
	assert.Equal(t, "etag123", info.ETag)

	_, err = s.Put(ctx, "plots/R1/a.jpg", strings.NewReader("again"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := s.Get(ctx, "plots/R1/a.jpg")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, "jpeg", string(body))
	assert.Equal(t, "image/jpeg", got.ContentType)

	_, err = s.Put(ctx, "properties/resale/R2/b.png", strings.NewReader("png"), core.PutOptions{})
	require.NoError(t, err)
	list, err := s.List(ctx, "plots/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "plots/R1/a.jpg", list[0].Key)

	removed, err := s.Delete(ctx, "plots/R1/a.jpg")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestPresign(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	url, err := s.PresignURL(ctx, "plots/R1/a.jpg", core.SignedURLOptions{})
	require.NoError(t, err)
	assert.Contains(t, url, "plots/R1/a.jpg")
	assert.Contains(t, url, "X-Amz-Expires=900")

	_, err = s.PresignURL(ctx, "plots/R1/a.jpg", core.SignedURLOptions{Method: "PUT"})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestMissingObjects(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests()
	_, err := s.Head(ctx, "plots/R1/missing.jpg")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = s.Get(ctx, "plots/R1/missing.jpg")
	assert.ErrorIs(t, err, core.ErrNotFound)
	removed, err := s.Delete(ctx, "plots/R1/missing.jpg")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPutRejectedByBucket(t *testing.T) {
	client, bucket := newFakeClient()
	bucket.rejectPuts = true
	s := fromClient(client, "listing-images")
	_, err := s.Put(context.Background(), "plots/R1/a.jpg", strings.NewReader("v"), core.PutOptions{})
	assert.Error(t, err)
}

func TestPutRejectsTraversal(t *testing.T) {
	_, err := NewMockForTests().Put(context.Background(), "../x", strings.NewReader("v"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidKey)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.EqualError(t, err, "s3: bucket is required")
}

func TestDecodeChunked(t *testing.T) {
	out, ok := decodeChunked([]byte("4;chunk-signature=abc\r\nwiki\r\n5\r\npedia\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	require.True(t, ok)
	assert.Equal(t, "wikipedia", string(out))

	_, ok = decodeChunked([]byte("zz\r\n"))
	assert.False(t, ok)
}
