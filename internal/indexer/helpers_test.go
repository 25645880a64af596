package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/codelocal/internal/embedder"
	"github.com/dshills/codelocal/internal/graph"
	"github.com/dshills/codelocal/internal/storage"
)

const testDim = 32

// fakeEmbedder returns deterministic feature-hash vectors, counts the texts
// it embeds, fails on demand and can hold a request until released
type fakeEmbedder struct {
	calls atomic.Int32 // texts embedded

	mu   sync.Mutex
	fail map[string]bool
	gate *gate
}

type gate struct {
	text    string
	reached chan struct{}
	release chan struct{}
	signal  sync.Once
	opened  sync.Once
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{fail: make(map[string]bool)}
}

func (f *fakeEmbedder) failOn(texts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range texts {
		f.fail[t] = true
	}
}

func (f *fakeEmbedder) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.fail)
}

func (f *fakeEmbedder) failing(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[text]
}

// hold blocks every request containing text until release is called.
// reached is closed when the first such request arrives.
func (f *fakeEmbedder) hold(text string) (reached <-chan struct{}, release func()) {
	g := &gate{text: text, reached: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.gate = g
	f.mu.Unlock()
	return g.reached, func() { g.opened.Do(func() { close(g.release) }) }
}

func (f *fakeEmbedder) wait(ctx context.Context, texts ...string) error {
	f.mu.Lock()
	g := f.gate
	f.mu.Unlock()
	if g == nil || !slices.Contains(texts, g.text) {
		return nil
	}
	g.signal.Do(func() { close(g.reached) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeEmbedder) embed(text string) *embedder.Embedding {
	f.calls.Add(1)
	return &embedder.Embedding{
		Vector:    embedder.FeatureHash(text, testDim),
		Dimension: testDim,
		Provider:  "fake",
		Model:     "fake",
	}
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if err := f.wait(ctx, req.Text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failing(req.Text) {
		return nil, errors.New("provider unavailable")
	}
	return f.embed(req.Text), nil
}

func (f *fakeEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if err := f.wait(ctx, req.Texts...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, t := range req.Texts {
		if f.failing(t) {
			return nil, errors.New("batch rejected")
		}
	}
	resp := &embedder.BatchEmbeddingResponse{Provider: "fake", Model: "fake"}
	for _, t := range req.Texts {
		resp.Embeddings = append(resp.Embeddings, f.embed(t))
	}
	return resp, nil
}

func (f *fakeEmbedder) Dimension() int   { return testDim }
func (f *fakeEmbedder) Provider() string { return "fake" }
func (f *fakeEmbedder) Model() string    { return "fake" }
func (f *fakeEmbedder) Close() error     { return nil }

// failingBackend wraps a real backend and fails Apply while failing is set
// and Load while failLoad is set
type failingBackend struct {
	storage.Backend
	failing  atomic.Bool
	failLoad atomic.Bool
	applies  atomic.Int32
}

func (b *failingBackend) Load(ctx context.Context) (*storage.State, error) {
	if b.failLoad.Load() {
		return nil, errors.New("database disk image is malformed")
	}
	return b.Backend.Load(ctx)
}

func (b *failingBackend) Apply(ctx context.Context, cs *storage.Changeset) error {
	if b.failing.Load() {
		return errors.New("disk I/O error")
	}
	b.applies.Add(1)
	return b.Backend.Apply(ctx, cs)
}

// keep the shared database open across engines in one test
func (b *failingBackend) Close() error { return nil }

type testEnv struct {
	root  string
	state string
	emb   *fakeEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		root:  t.TempDir(),
		state: t.TempDir(),
		emb:   newFakeEmbedder(),
	}
}

func (env *testEnv) options() Options {
	return Options{
		Root:     env.root,
		StateDir: env.state,
		Embedder: env.emb,
		Graph:    graph.DefaultOptions(),
		Workers:  4,
	}
}

func (env *testEnv) open(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(context.Background(), env.options())
	require.NoError(t, err)
	return e
}

func (env *testEnv) openWith(t *testing.T, backend storage.Backend) *Engine {
	t.Helper()
	opts := env.options()
	opts.Backend = backend
	e, err := Open(context.Background(), opts)
	require.NoError(t, err)
	return e
}

func (env *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(env.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (env *testEnv) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.RemoveAll(filepath.Join(env.root, filepath.FromSlash(rel))))
}

func (env *testEnv) rename(t *testing.T, from, to string) {
	t.Helper()
	dst := filepath.Join(env.root, filepath.FromSlash(to))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.Rename(filepath.Join(env.root, filepath.FromSlash(from)), dst))
}

func newMemoryBackend(t *testing.T) *failingBackend {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &failingBackend{Backend: db}
}

func query(t *testing.T, e *Engine, text string, k int) []uint32 {
	t.Helper()
	matches, err := e.Search(context.Background(), embedder.FeatureHash(text, testDim), k)
	require.NoError(t, err)
	ords := make([]uint32, len(matches))
	for i, m := range matches {
		ords[i] = uint32(m.Ordinal)
	}
	return ords
}
