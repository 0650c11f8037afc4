package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk/internal/blob/core"
)

func TestMissingObjects(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, _, err := s.Get(ctx, "plots/R1/missing.png")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.Head(ctx, "plots/R1/missing.png")
	assert.ErrorIs(t, err, core.ErrNotFound)
	removed, err := s.Delete(ctx, "plots/R1/missing.png")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPutIsCreateOnly(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Put(ctx, "plots/R1/k.png", strings.NewReader("v"), core.PutOptions{})
	require.NoError(t, err)
	_, err = s.Put(ctx, "plots/R1/k.png", strings.NewReader("v2"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	_, rc, err := s.Get(ctx, "plots/R1/k.png")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "v", string(body))
}

func TestMetadataIsCopied(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := map[string]string{"original-name": "front.jpg"}
	_, err := s.Put(ctx, "plots/R1/k.jpg", strings.NewReader("v"), core.PutOptions{Metadata: in})
	require.NoError(t, err)
	in["original-name"] = "changed"

	info, _, err := s.Get(ctx, "plots/R1/k.jpg")
	require.NoError(t, err)
	assert.Equal(t, "front.jpg", info.Metadata["original-name"])
	info.Metadata["original-name"] = "mutated"

	head, err := s.Head(ctx, "plots/R1/k.jpg")
	require.NoError(t, err)
	assert.Equal(t, "front.jpg", head.Metadata["original-name"])
}

func TestListFiltersAndSorts(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, key := range []string{"plots/R2/b", "properties/rental/R1/c", "plots/R1/a"} {
		_, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{})
		require.NoError(t, err)
	}
	list, err := s.List(ctx, "plots/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "plots/R1/a", list[0].Key)

	list, err = s.List(ctx, "properties/resale/")
	require.NoError(t, err)
	assert.Empty(t, list)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestPutErrors(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Put(ctx, " ", strings.NewReader(""), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrInvalidKey)
	_, err = s.Put(ctx, "plots/R1/bad", failingReader{}, core.PutOptions{})
	assert.EqualError(t, err, "disk on fire")

	assert.Equal(t, core.DriverMemory, s.Driver())
	_, err = s.PresignURL(ctx, "plots/R1/k", core.SignedURLOptions{})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}
