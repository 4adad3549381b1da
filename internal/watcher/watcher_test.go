package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docdex/docdex/internal/embedder"
	"github.com/docdex/docdex/internal/indexer"
	"github.com/docdex/docdex/internal/storage"
	"github.com/docdex/docdex/pkg/types"
)

func TestLock_BlocksWhileHolderAlive(t *testing.T) {
	stateDir := t.TempDir()

	lock, err := acquireLock(stateDir)
	require.NoError(t, err)

	// The holder is this process, which is definitely alive.
	_, err = acquireLock(stateDir)
	assert.ErrorIs(t, err, types.ErrWatcherLocked)

	require.NoError(t, lock.release())

	lock, err = acquireLock(stateDir)
	require.NoError(t, err)
	require.NoError(t, lock.release())
}

func TestLock_StaleLockTakenOver(t *testing.T) {
	stateDir := t.TempDir()

	// A pid far above pid_max cannot name a live process.
	path := filepath.Join(stateDir, lockFileName)
	require.NoError(t, os.WriteFile(path, []byte("99999999\n"), 0o644))

	lock, err := acquireLock(stateDir)
	require.NoError(t, err)
	require.NoError(t, lock.release())
}

func TestLock_GarbageLockTakenOver(t *testing.T) {
	stateDir := t.TempDir()

	path := filepath.Join(stateDir, lockFileName)
	require.NoError(t, os.WriteFile(path, []byte("not a pid"), 0o644))

	lock, err := acquireLock(stateDir)
	require.NoError(t, err)
	require.NoError(t, lock.release())
}

func TestSchedule_CollapsesBursts(t *testing.T) {
	w := &Watcher{debounce: 20 * time.Millisecond, timers: make(map[string]*time.Timer)}

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		w.schedule("a.md", func() { fired.Add(1) })
	}

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSchedule_CancelPreventsFire(t *testing.T) {
	w := &Watcher{debounce: 20 * time.Millisecond, timers: make(map[string]*time.Timer)}

	var fired atomic.Int32
	w.schedule("a.md", func() { fired.Add(1) })
	w.cancelTimer("a.md")

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func newWatchEnv(t *testing.T) (*Watcher, *storage.SQLiteStore, string) {
	t.Helper()

	root := t.TempDir()
	store, err := storage.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	embedders := embedder.NewService(func() (embedder.Embedder, error) {
		return embedder.NewLocalProvider(nil)
	})
	cfg := types.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	pipeline := indexer.New(store, embedders, root, &cfg, logger)

	sources := []types.Source{{Name: "docs", Path: root, Watch: true}}
	w := New(pipeline, root, t.TempDir(), sources, logger)
	w.debounce = 20 * time.Millisecond
	return w, store, root
}

func TestWatcher_IndexesAndDeletes(t *testing.T) {
	w, store, root := newWatchEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watch list time to register before writing.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("# Note\n\nwatched content"), 0o644))

	require.Eventually(t, func() bool {
		_, err := store.GetDocument(ctx, "note.md")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		_, err := store.GetDocument(context.Background(), "note.md")
		return errors.Is(err, types.ErrNotFound)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_SecondInstanceRejected(t *testing.T) {
	w, _, _ := newWatchEnv(t)

	lock, err := acquireLock(w.stateDir)
	require.NoError(t, err)
	defer func() { _ = lock.release() }()

	err = w.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrWatcherLocked)
}
