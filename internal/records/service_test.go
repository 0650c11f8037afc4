package records

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk/internal/blob"
	"estatedesk/internal/media"
	"estatedesk/internal/records/recordstest"
	"estatedesk/pkg/listing"
)

type observation struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu    sync.Mutex
	calls []observation
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, observation{op: op, success: success})
}

func (c *captureMetrics) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.calls {
		if o.op == op && o.success == success {
			return true
		}
	}
	return false
}

type fixture struct {
	log     *recordstest.Log
	store   *recordstest.Store
	media   *recordstest.Media
	metrics *captureMetrics
	svc     *Service
}

func newFixture() *fixture {
	log := &recordstest.Log{}
	f := &fixture{log: log, store: recordstest.NewStore(log), media: recordstest.NewMedia(log), metrics: &captureMetrics{}}
	f.svc = NewService(f.store, f.media, WithMetrics(f.metrics))
	return f
}

func resaleValues() listing.Values {
	return listing.Values{
		Text:    map[string]string{"builder_name": "Acme", "project": "Skyview", "location": "Lakeview"},
		Numbers: map[string]float64{"price": 1000000},
	}
}

func TestCreateInsertsTypedValues(t *testing.T) {
	f := newFixture()
	schema := listing.PropertySchema(listing.KindResale)
	rec, err := f.svc.Create(context.Background(), schema, resaleValues(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	calls := f.log.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "insert", calls[0].Op)
	assert.Equal(t, "resale_properties", calls[0].Table)
	assert.Equal(t, 1000000.0, calls[0].Record.Numbers["price"])
	assert.True(t, f.metrics.has(OpCreate, true))
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	schema := listing.PlotSchema()
	for _, p := range []string{"T3", "T2", "T1"} {
		f.store.Seed(ctx, schema, listing.Record{Text: map[string]string{"project": p}})
	}
	rows, err := f.svc.List(ctx, schema)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "T1", rows[0].Text["project"])
	assert.Equal(t, "T2", rows[1].Text["project"])
	assert.Equal(t, "T3", rows[2].Text["project"])
}

func TestAttachImagesPersistsImmediately(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	schema := listing.PropertySchema(listing.KindRental)
	rec := f.store.Seed(ctx, schema, listing.Record{Images: []string{"https://cdn.test/existing.jpg"}})

	merged, err := f.svc.AttachImages(ctx, schema, rec.ID, rec.Images, []media.File{
		media.FromBytes("a.jpg", []byte("a")), media.FromBytes("b.jpg", []byte("b")),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"upload", "upload", "update"}, f.log.Ops())
	update := f.log.Calls()[2]
	assert.Equal(t, rec.ID, update.ID)
	assert.True(t, update.Patch.ReplaceImages)
	require.Len(t, update.Patch.Images, 3)
	assert.Equal(t, "https://cdn.test/existing.jpg", update.Patch.Images[0])
	assert.Equal(t, merged, update.Patch.Images)
	for _, c := range f.log.Calls()[:2] {
		assert.Equal(t, rec.ID, c.Owner)
		assert.Equal(t, "properties/rental", c.Namespace)
	}
}

func TestAttachImagesWithoutIDUsesTempOwner(t *testing.T) {
	f := newFixture()
	merged, err := f.svc.AttachImages(context.Background(), listing.PlotSchema(), "", nil, []media.File{media.FromBytes("a.jpg", nil)})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, []string{"upload"}, f.log.Ops())
	assert.Equal(t, listing.NewRecordOwnerKey, f.log.Calls()[0].Owner)
}

func TestAttachImagesUploadFailureSkipsPersist(t *testing.T) {
	f := newFixture()
	f.media.FailUploads(errors.New("bucket offline"))
	_, err := f.svc.AttachImages(context.Background(), listing.PlotSchema(), "R1", nil, []media.File{media.FromBytes("a.jpg", nil)})
	require.Error(t, err)
	assert.Zero(t, f.log.Count("update"))
	assert.True(t, f.metrics.has(OpAttachImages, false))
}

func TestDetachImageDeletesBeforePersist(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	schema := listing.PlotSchema()
	u, keep := "https://cdn.test/plots/R1/u.jpg", "https://cdn.test/plots/R1/k.jpg"
	rec := f.store.Seed(ctx, schema, listing.Record{Images: []string{keep, u}})
	f.media.Put(u)

	remaining, err := f.svc.DetachImage(ctx, schema, rec.ID, rec.Images, u)
	require.NoError(t, err)
	assert.Equal(t, []string{keep}, remaining)
	assert.Equal(t, []string{"remove", "update"}, f.log.Ops())
	assert.Equal(t, []string{keep}, f.log.Calls()[1].Patch.Images)
	assert.False(t, f.media.Has(u))
}

func TestDetachImageStorageFailureLeavesRecord(t *testing.T) {
	f := newFixture()
	u := "https://cdn.test/plots/R1/u.jpg"
	f.media.FailRemove(u, errors.New("denied"))
	_, err := f.svc.DetachImage(context.Background(), listing.PlotSchema(), "R1", []string{u}, u)
	require.Error(t, err)
	assert.Equal(t, []string{"remove"}, f.log.Ops())
}

func TestDetachForeignURLOnlyDropsReference(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	schema := listing.PlotSchema()
	foreign := "https://legacy.example.com/x.jpg"
	rec := f.store.Seed(ctx, schema, listing.Record{Images: []string{foreign}})
	f.media.FailRemove(foreign, media.ErrForeignURL)
	remaining, err := f.svc.DetachImage(ctx, schema, rec.ID, rec.Images, foreign)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, []string{"remove", "update"}, f.log.Ops())
}

func TestDeleteCascadesImagesFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	schema := listing.PropertySchema(listing.KindPrimary)
	u1, u2 := "https://cdn.test/properties/primary/R/1.jpg", "https://cdn.test/properties/primary/R/2.jpg"
	rec := f.store.Seed(ctx, schema, listing.Record{Images: []string{u1, u2}})

	require.NoError(t, f.svc.Delete(ctx, schema, rec))
	ops := f.log.Ops()
	require.Len(t, ops, 3)
	assert.ElementsMatch(t, []string{"remove", "remove"}, ops[:2])
	assert.Equal(t, "delete", ops[2])
	removed := []string{f.log.Calls()[0].URL, f.log.Calls()[1].URL}
	assert.ElementsMatch(t, []string{u1, u2}, removed)
}

func TestDeleteContinuesWhenImageRemovalFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	schema := listing.PlotSchema()
	rec := f.store.Seed(ctx, schema, listing.Record{Images: []string{"gone", "broken"}})
	f.media.FailRemove("broken", errors.New("timeout"))

	require.NoError(t, f.svc.Delete(ctx, schema, rec))
	assert.Equal(t, 1, f.log.Count("delete"))
	rows, _ := f.store.Store.Select(ctx, schema)
	assert.Empty(t, rows)
}

func TestDeleteRecordFailureIsReported(t *testing.T) {
	f := newFixture()
	f.store.FailOn("delete", errors.New("backend 500"))
	err := f.svc.Delete(context.Background(), listing.PlotSchema(), listing.Record{ID: "R1", Images: []string{"u"}})
	require.Error(t, err)
	assert.Equal(t, 1, f.log.Count("remove"))
	assert.True(t, f.metrics.has(OpDelete, false))
}

func TestWithRealMediaService(t *testing.T) {
	log := &recordstest.Log{}
	store := recordstest.NewStore(log)
	svc := NewService(store, media.NewService(blob.NewMemory(), media.Options{PublicBaseURL: "http://localhost:8080/media"}))
	ctx := context.Background()
	schema := listing.PlotSchema()
	rec := store.Seed(ctx, schema, listing.Record{})

	merged, err := svc.AttachImages(ctx, schema, rec.ID, nil, []media.File{media.FromBytes("a.png", []byte("x"))})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Contains(t, merged[0], "/media/plots/"+rec.ID+"/")

	rows, _ := store.Store.Select(ctx, schema)
	require.NoError(t, svc.Delete(ctx, schema, rows[0]))
}
