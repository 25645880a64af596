package indexer

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codelocal/internal/hasher"
	"github.com/dshills/codelocal/pkg/types"
)

func TestScan(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	defer func() { _ = e.Close(ctx) }()

	env.write(t, "main.go", "package main\n\nfunc main() {}\n\nfunc helper() int { return 1 }\n")
	env.write(t, "docs/guide.md", "intro\n\nusage")
	env.write(t, "docs/logo.png", "binary")
	env.write(t, ".git/HEAD", "ref: refs/heads/main")
	env.write(t, "node_modules/lib/index.js", "module.exports = {}")

	stats, err := e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesVisited)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 4, stats.ChunksEmbedded)
	assert.Zero(t, stats.FilesFailed)
	assert.Empty(t, stats.FlushError)
	assert.Equal(t, []string{"docs/guide.md", "main.go"}, e.Files())
	assert.False(t, e.Dirty(), "a scan ends with a flush")

	env.write(t, "docs/guide.md", "intro\n\nadvanced usage")
	env.remove(t, "main.go")

	stats, err = e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesVisited)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, []string{"docs/guide.md"}, e.Files())

	stats, err = e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesUnchanged)
	assert.Zero(t, stats.FilesIndexed)
}

func TestScan_Subtree(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	defer func() { _ = e.Close(ctx) }()

	env.write(t, "a/one.txt", "one")
	env.write(t, "b/two.txt", "two")
	_, err := e.Scan(ctx)
	require.NoError(t, err)

	env.remove(t, "b/two.txt")
	env.write(t, "a/three.txt", "three")

	stats, err := e.Scan(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesVisited)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Zero(t, stats.FilesRemoved, "records outside the scanned subtree are kept")
	assert.Equal(t, []string{"a/one.txt", "a/three.txt", "b/two.txt"}, e.Files())
}

func TestScan_CountsFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	defer func() { _ = e.Close(ctx) }()

	env.emb.failOn("broken")
	env.write(t, "ok.txt", "fine")
	env.write(t, "partial.txt", "fine too\n\nbroken")

	stats, err := e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 1, stats.ChunksFailed)
	assert.Equal(t, 2, stats.ChunksEmbedded)

	// the incomplete file is retried, the complete one is not
	env.emb.heal()
	stats, err = e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesUnchanged)
	rec, _ := e.File("partial.txt")
	assert.True(t, rec.Complete())
}

func TestScan_InProgress(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	defer func() { _ = e.Close(ctx) }()

	require.True(t, e.scanLock.TryAcquire())
	_, err := e.Scan(ctx)
	assert.ErrorIs(t, err, ErrScanInProgress)
	e.scanLock.Release()

	_, err = e.Scan(ctx)
	assert.NoError(t, err)
}

func TestStartScan_Cancelled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	defer func() { _ = e.Close(ctx) }()

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		env.write(t, name, name)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	task := e.StartScan(cctx)
	_, err := task.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.Files())
	assert.False(t, e.scanLock.Held())

	task = e.StartScan(ctx)
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not finish")
	}
	stats, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FilesIndexed)
}

// startHeldScan starts a scan and returns once the embedder is holding the
// request for held
func startHeldScan(t *testing.T, env *testEnv, e *Engine, held string) (*ScanTask, func()) {
	t.Helper()
	reached, release := env.emb.hold(held)
	t.Cleanup(release)

	task := e.StartScan(context.Background())
	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("scan never reached the embedder")
	}
	return task, release
}

// requireOnDisk asserts that the tracked files are exactly want and that
// every record carries the digest of the file's current content
func requireOnDisk(t *testing.T, e *Engine, want map[string]string) {
	t.Helper()
	paths := make([]string, 0, len(want))
	for p := range want {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	require.Equal(t, paths, e.Files())
	for p, content := range want {
		rec, ok := e.File(p)
		require.True(t, ok, p)
		assert.Equal(t, hasher.Sum([]byte(content)), rec.Hash, p)
		assert.NotEmpty(t, rec.Ordinals, p)
	}
}

func TestScan_KeepsFileCreatedDuringScan(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	defer func() { _ = e.Close(ctx) }()

	env.write(t, "a.txt", "slow")
	task, release := startHeldScan(t, env, e, "slow")

	env.write(t, "b.txt", "fresh")
	changed, err := e.Apply(ctx, types.Event{Kind: types.EventCreated, Path: "b.txt"})
	require.NoError(t, err)
	require.True(t, changed)

	release()
	stats, err := task.Wait()
	require.NoError(t, err)
	assert.Zero(t, stats.FilesRemoved)
	requireOnDisk(t, e, map[string]string{"a.txt": "slow", "b.txt": "fresh"})
}

func TestScan_InterleavedEvents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	defer func() { _ = e.Close(ctx) }()

	env.write(t, "keep.txt", "keep v1")
	env.write(t, "gone.txt", "gone")
	for _, p := range []string{"keep.txt", "gone.txt"} {
		_, err := e.Reindex(ctx, p)
		require.NoError(t, err)
	}
	env.write(t, "a.txt", "slow")

	task, release := startHeldScan(t, env, e, "slow")

	env.write(t, "new.txt", "created while scanning")
	env.write(t, "keep.txt", "keep v2")
	env.remove(t, "gone.txt")
	for _, ev := range []types.Event{
		{Kind: types.EventCreated, Path: "new.txt"},
		{Kind: types.EventContentChanged, Path: "keep.txt"},
		{Kind: types.EventDeleted, Path: "gone.txt"},
	} {
		_, err := e.Apply(ctx, ev)
		require.NoError(t, err, ev.Path)
	}

	release()
	_, err := task.Wait()
	require.NoError(t, err)

	want := map[string]string{
		"a.txt":    "slow",
		"keep.txt": "keep v2",
		"new.txt":  "created while scanning",
	}
	requireOnDisk(t, e, want)
	assert.False(t, e.IsLive(0), "keep v1 was superseded")

	// a second scan finds nothing left to do
	stats, err := e.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FilesUnchanged)
	assert.Zero(t, stats.FilesRemoved)
	requireOnDisk(t, e, want)
}

func TestRun_AppliesSubmittedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	env := newTestEnv(t)
	e := env.open(t)
	defer func() { _ = e.Close(context.Background()) }()

	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = e.Run(ctx)
	}()

	env.write(t, "a.txt", "alpha")
	require.NoError(t, e.Submit(ctx, types.Event{Kind: types.EventCreated, Path: "a.txt"}))
	assert.Eventually(t, func() bool {
		_, ok := e.File("a.txt")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	env.rename(t, "a.txt", "b.txt")
	require.NoError(t, e.Submit(ctx, types.Event{Kind: types.EventMoved, OldPath: "a.txt", Path: "b.txt"}))
	env.remove(t, "b.txt")
	require.NoError(t, e.Submit(ctx, types.Event{Kind: types.EventDeleted, Path: "b.txt"}))
	assert.Eventually(t, func() bool {
		return len(e.Files()) == 0 && e.Status().PendingEvents == 0
	}, 2*time.Second, 5*time.Millisecond)

	// a failing event does not stop the worker
	require.NoError(t, e.Submit(ctx, types.Event{Kind: types.EventContentChanged, Path: "missing.txt"}))
	env.write(t, "c.txt", "gamma")
	require.NoError(t, e.Submit(ctx, types.Event{Kind: types.EventCreated, Path: "c.txt"}))
	assert.Eventually(t, func() bool {
		_, ok := e.File("c.txt")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
	assert.ErrorIs(t, runErr, context.Canceled)

	assert.ErrorIs(t, e.Submit(ctx, types.Event{Kind: types.EventCreated}), types.ErrEventPathRequired)
}
