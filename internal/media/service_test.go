package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk/internal/blob"
)

const base = "https://cdn.example.com/listing-images"

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func newService(store blob.Store) *Service {
	return NewService(store, Options{PublicBaseURL: base + "/", MaxUploadBytes: 64})
}

func TestUploadStoresUnderNamespaceAndOwner(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	svc := newService(store)
	svc.newID = func() string { return "fixed" }

	url, err := svc.Upload(ctx, FromBytes("Front.PNG", pngHeader), "properties/resale", "R1")
	require.NoError(t, err)
	assert.Equal(t, base+"/properties/resale/R1/fixed.png", url)

	info, err := store.Head(ctx, "properties/resale/R1/fixed.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", info.ContentType)
	assert.Equal(t, "Front.PNG", info.Metadata["original-name"])
}

func TestUploadRejectsLargeFilesAndBadOwners(t *testing.T) {
	svc := newService(blob.NewMemory())
	_, err := svc.Upload(context.Background(), FromBytes("big.jpg", make([]byte, 65)), "plots", "temp")
	assert.True(t, errors.Is(err, ErrTooLarge))
	_, err = svc.Upload(context.Background(), FromBytes("a.jpg", pngHeader), "plots", "../etc")
	assert.Error(t, err)
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(blob.NewMemory())
	url, err := svc.Upload(ctx, FromBytes("a.jpg", pngHeader), "plots", "R1")
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, "plots", url))
	require.NoError(t, svc.Remove(ctx, "plots", url))
}

func TestKeyFromURL(t *testing.T) {
	svc := newService(blob.NewMemory())
	key, err := svc.KeyFromURL("plots", base+"/plots/R1/x.jpg?v=2")
	require.NoError(t, err)
	assert.Equal(t, "plots/R1/x.jpg", key)

	for _, bad := range []string{
		"https://elsewhere.example.com/plots/R1/x.jpg",
		base + "/properties/rental/R1/x.jpg",
		base + "/plots/../secrets",
		base + "/plots/",
	} {
		_, err := svc.KeyFromURL("plots", bad)
		assert.True(t, errors.Is(err, ErrForeignURL), bad)
	}
}

// failingStore fails Put for keys whose original name contains "bad".
type failingStore struct {
	blob.Store
	mu      sync.Mutex
	deleted []string
}

func (f *failingStore) Put(ctx context.Context, key string, r io.Reader, opts blob.PutOptions) (blob.Info, error) {
	if strings.Contains(opts.Metadata["original-name"], "bad") {
		return blob.Info{}, errors.New("quota exceeded")
	}
	return f.Store.Put(ctx, key, r, opts)
}

func (f *failingStore) Delete(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	f.deleted = append(f.deleted, key)
	f.mu.Unlock()
	return f.Store.Delete(ctx, key)
}

func TestUploadAllKeepsInputOrder(t *testing.T) {
	ctx := context.Background()
	svc := newService(blob.NewMemory())
	files := []File{FromBytes("a.jpg", pngHeader), FromBytes("b.jpg", pngHeader), FromBytes("c.jpg", pngHeader)}
	urls, err := svc.UploadAll(ctx, files, "plots", "R1")
	require.NoError(t, err)
	require.Len(t, urls, 3)
	for i, u := range urls {
		assert.True(t, strings.HasSuffix(u, ".jpg"), i)
		assert.True(t, strings.HasPrefix(u, base+"/plots/R1/"))
	}
	list, err := svc.Store().List(ctx, "plots/R1/")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestUploadAllRemovesOrphansOnFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: blob.NewMemory()}
	svc := newService(store)
	files := []File{FromBytes("good.jpg", pngHeader), FromBytes("bad.jpg", pngHeader)}
	_, err := svc.UploadAll(ctx, files, "plots", "temp")
	require.Error(t, err)
	list, err := store.List(ctx, "plots/")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestUploadAllThroughS3(t *testing.T) {
	ctx := context.Background()
	svc := NewService(blob.NewMockS3ForTests(), Options{PublicBaseURL: base})
	urls, err := svc.UploadAll(ctx, []File{FromBytes("a.png", pngHeader), FromBytes("b.png", pngHeader)}, "properties/rental", "R7")
	require.NoError(t, err)
	require.Len(t, urls, 2)
	require.NoError(t, svc.Remove(ctx, "properties/rental", urls[0]))
	list, err := svc.Store().List(ctx, "properties/rental/R7/")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
