package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-isia-racer/car/internal/capture"
	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/state"
)

func setupCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(":memory:", observability.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCatalogStartStop(t *testing.T) {
	c := setupCatalog(t)
	ctx := context.Background()
	started := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

	info := capture.Info{ID: "01HTESTSESSION0000000000001", Path: "out/a", StartedAt: started}
	require.NoError(t, c.SessionStarted(ctx, info))

	rec, ok, err := c.Get(ctx, info.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "out/a", rec.Path)
	assert.Nil(t, rec.StoppedAt)
	assert.True(t, started.Equal(rec.StartedAt))

	info.Frames = 17
	info.StoppedAt = started.Add(time.Minute)
	require.NoError(t, c.SessionStopped(ctx, info))

	rec, ok, err = c.Get(ctx, info.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(17), rec.Frames)
	require.NotNil(t, rec.StoppedAt)
	assert.True(t, info.StoppedAt.Equal(*rec.StoppedAt))
}

func TestCatalogStopWithoutStartInserts(t *testing.T) {
	c := setupCatalog(t)
	ctx := context.Background()
	info := capture.Info{ID: "orphan", Path: "out/b", StartedAt: time.Now(), Frames: 3}
	require.NoError(t, c.SessionStopped(ctx, info))

	rec, ok, err := c.Get(ctx, "orphan")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), rec.Frames)
	assert.NotNil(t, rec.StoppedAt)
}

func TestCatalogListNewestFirst(t *testing.T) {
	c := setupCatalog(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, c.SessionStarted(ctx, capture.Info{ID: id, Path: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	all, err := c.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].ID)
	assert.Equal(t, "first", all[2].ID)

	limited, err := c.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalogRecordsCaptureSessions(t *testing.T) {
	c := setupCatalog(t)
	shared := state.NewShared()
	session := capture.New(shared, capture.Options{PollInterval: 2 * time.Millisecond}, observability.Discard()).WithRecorder(c)

	dir := filepath.Join(t.TempDir(), "run")
	info, err := session.Start(context.Background(), dir)
	require.NoError(t, err)
	session.Tap([]byte("frame"))
	require.Eventually(t, func() bool {
		cur, _ := session.Current()
		return cur.Frames == 1
	}, time.Second, time.Millisecond)
	_, err = session.Stop()
	require.NoError(t, err)
	session.Wait()

	rec, ok, err := c.Get(context.Background(), info.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, dir, rec.Path)
	assert.Equal(t, uint64(1), rec.Frames)
	assert.NotNil(t, rec.StoppedAt)
}

func TestOpenFileCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, c.SessionStarted(context.Background(), capture.Info{ID: "x", Path: "p", StartedAt: time.Now()}))
	require.NoError(t, c.Close())

	c, err = Open(path, nil)
	require.NoError(t, err)
	defer c.Close()
	_, ok, err := c.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, ok)
}
