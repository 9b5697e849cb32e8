package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/state"
)

type fakeRecorder struct {
	mu      sync.Mutex
	started []Info
	stopped []Info
}

func (f *fakeRecorder) SessionStarted(_ context.Context, info Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, info)
	return nil
}

func (f *fakeRecorder) SessionStopped(_ context.Context, info Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, info)
	return nil
}

func newTestSession() (*Session, *state.Shared) {
	shared := state.NewShared()
	s := New(shared, Options{PollInterval: 2 * time.Millisecond, Extension: "jpg", Journal: true}, observability.Discard())
	return s, shared
}

func listFrames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".jpg" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func TestStartTwiceConflicts(t *testing.T) {
	s, _ := newTestSession()
	dir := filepath.Join(t.TempDir(), "run")

	first, err := s.Start(context.Background(), dir)
	require.NoError(t, err)

	_, err = s.Start(context.Background(), filepath.Join(t.TempDir(), "other"))
	assert.ErrorIs(t, err, ErrAlreadyCapturing)
	assert.True(t, IsStateConflict(err))

	current, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)
	assert.Equal(t, dir, current.Path)

	_, err = s.Stop()
	require.NoError(t, err)
	s.Wait()
}

func TestStopWhileIdleConflicts(t *testing.T) {
	s, _ := newTestSession()
	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrNotCapturing)
	assert.True(t, IsStateConflict(err))
	assert.False(t, s.Capturing())
}

func TestStartIntoExistingTarget(t *testing.T) {
	s, _ := newTestSession()
	_, err := s.Start(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrExistingTarget)
	assert.False(t, s.Capturing())
}

func TestPersistsNewFramesWithSequence(t *testing.T) {
	s, shared := newTestSession()
	rec := &fakeRecorder{}
	s.WithRecorder(rec)
	dir := filepath.Join(t.TempDir(), "run")

	// a frame tapped before the session is not persisted
	s.Tap([]byte("stale"))

	_, err := s.Start(context.Background(), dir)
	require.NoError(t, err)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "output directory is created lazily")

	shared.Steering.Set(0.5)
	shared.Throttle.Set(-0.25)
	for i := 0; i < 3; i++ {
		s.Tap([]byte{byte('a' + i)})
		require.Eventually(t, func() bool {
			info, _ := s.Current()
			return info.Frames == uint64(i+1)
		}, time.Second, time.Millisecond)
	}

	info, err := s.Stop()
	require.NoError(t, err)
	assert.False(t, s.Capturing())
	s.Wait()

	assert.Equal(t, uint64(3), info.Frames)
	assert.Equal(t, []string{
		"pic_0_0.5_-0.25.jpg",
		"pic_1_0.5_-0.25.jpg",
		"pic_2_0.5_-0.25.jpg",
	}, listFrames(t, dir))

	data, err := os.ReadFile(filepath.Join(dir, "pic_2_0.5_-0.25.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), data)

	f, err := os.Open(filepath.Join(dir, JournalFile))
	require.NoError(t, err)
	defer f.Close()
	var entries []Entry
	require.NoError(t, ReadJournal(f, func(_ time.Time, e Entry) bool {
		entries = append(entries, e)
		return true
	}))
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[1].Seq)
	assert.Equal(t, "pic_1_0.5_-0.25.jpg", entries[1].File)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.started, 1)
	require.Len(t, rec.stopped, 1)
	assert.Equal(t, uint64(3), rec.stopped[0].Frames)
	assert.False(t, rec.stopped[0].StoppedAt.IsZero())
}

func TestSequenceResetsPerSession(t *testing.T) {
	s, _ := newTestSession()
	root := t.TempDir()

	for _, name := range []string{"first", "second"} {
		dir := filepath.Join(root, name)
		_, err := s.Start(context.Background(), dir)
		require.NoError(t, err)
		s.Tap([]byte(name))
		require.Eventually(t, func() bool {
			info, _ := s.Current()
			return info.Frames == 1
		}, time.Second, time.Millisecond)
		_, err = s.Stop()
		require.NoError(t, err)
		s.Wait()

		frames := listFrames(t, dir)
		require.Len(t, frames, 1)
		assert.Equal(t, "pic_0_0_0.jpg", frames[0])
	}
}

func TestStopWithoutFramesLeavesNoDirectory(t *testing.T) {
	s, _ := newTestSession()
	dir := filepath.Join(t.TempDir(), "empty")
	_, err := s.Start(context.Background(), dir)
	require.NoError(t, err)
	_, err = s.Stop()
	require.NoError(t, err)
	s.Wait()

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestFrameName(t *testing.T) {
	assert.Equal(t, "pic_12_-1_0.125.png", FrameName(12, -1, 0.125, "png"))
}
