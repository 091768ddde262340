package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/modserve/internal/rewrite"
)

// MockCompiler is a testify mock of Compiler.
type MockCompiler struct {
	mock.Mock
}

func (m *MockCompiler) Compile(ctx context.Context, file string, src []byte) ([]byte, error) {
	args := m.Called(ctx, file, src)
	code, _ := args.Get(0).([]byte)
	return code, args.Error(1)
}

// countingFS serves files from memory and counts reads.
type countingFS struct {
	mu    sync.Mutex
	files map[string]string
	reads int
}

func (fs *countingFS) ReadFile(name string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.reads++
	content, ok := fs.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(content), nil
}

func (fs *countingFS) set(name, content string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[name] = content
}

func (fs *countingFS) readCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.reads
}

var upper = CompilerFunc(func(_ context.Context, _ string, src []byte) ([]byte, error) {
	return []byte(strings.ToUpper(string(src))), nil
})

func newTestCache(t *testing.T, fs *countingFS, opts CacheOptions) *CompileCache {
	t.Helper()

	if opts.Compiler == nil {
		opts.Compiler = upper
	}
	opts.ReadFile = fs.ReadFile

	cache, err := NewCompileCache(opts)
	require.NoError(t, err)

	return cache
}

func TestNewCompileCache_RequiresCompiler(t *testing.T) {
	_, err := NewCompileCache(CacheOptions{})
	assert.Error(t, err)
}

func TestCompileCache_Idempotent(t *testing.T) {
	fs := &countingFS{files: map[string]string{"/src/a.jsx": "abc"}}
	cache := newTestCache(t, fs, CacheOptions{})
	modTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first, err := cache.Compile(context.Background(), "/src/a.jsx", modTime)
	require.NoError(t, err)
	second, err := cache.Compile(context.Background(), "/src/a.jsx", modTime)
	require.NoError(t, err)

	assert.Equal(t, []byte("ABC"), first.Code)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 1, fs.readCount(), "second compile must not re-read the file")

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Compiles)
	assert.Equal(t, 1, stats.Entries)
}

func TestCompileCache_Invalidation(t *testing.T) {
	fs := &countingFS{files: map[string]string{"/src/a.jsx": "one"}}
	cache := newTestCache(t, fs, CacheOptions{})
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := cache.Compile(ctx, "/src/a.jsx", t0)
	require.NoError(t, err)

	t.Run("newer mod time with identical content re-reads", func(t *testing.T) {
		entry, err := cache.Compile(ctx, "/src/a.jsx", t0.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, 2, fs.readCount())
		assert.Equal(t, []byte("ONE"), entry.Code)
	})

	t.Run("newer mod time with changed content", func(t *testing.T) {
		fs.set("/src/a.jsx", "two")
		entry, err := cache.Compile(ctx, "/src/a.jsx", t0.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, []byte("TWO"), entry.Code)
		assert.Equal(t, 3, fs.readCount())
	})

	t.Run("older mod time keeps the entry", func(t *testing.T) {
		entry, err := cache.Compile(ctx, "/src/a.jsx", t0)
		require.NoError(t, err)
		assert.Equal(t, []byte("TWO"), entry.Code)
		assert.Equal(t, 3, fs.readCount())
	})
}

func TestCompileCache_RewritesImports(t *testing.T) {
	fs := &countingFS{files: map[string]string{"/src/a.jsx": "src"}}
	compiler := &MockCompiler{}
	compiler.On("Compile", mock.Anything, "/src/a.jsx", []byte("src")).
		Return([]byte("import { h } from 'preact';\nimport x from './x.js';\n"), nil).
		Twice()

	ctx := context.Background()
	modTime := time.Now()

	plain := newTestCache(t, fs, CacheOptions{Compiler: compiler})
	entry, err := plain.Compile(ctx, "/src/a.jsx", modTime)
	require.NoError(t, err)
	assert.Contains(t, string(entry.Code), "from 'preact'")

	rewriting := newTestCache(t, fs, CacheOptions{
		Compiler:       compiler,
		RewriteImports: true,
		Rewriter:       rewrite.New(rewrite.Resolver{ModulePrefix: "vendor", EntryFile: "mod.js"}, nil),
	})
	entry, err = rewriting.Compile(ctx, "/src/a.jsx", modTime)
	require.NoError(t, err)
	assert.Equal(t, "import { h } from '/vendor/preact/mod.js';\nimport x from './x.js';\n", string(entry.Code))

	compiler.AssertExpectations(t)
}

func TestCompileCache_Failure(t *testing.T) {
	fs := &countingFS{files: map[string]string{"/src/bad.jsx": "<"}}
	compiler := &MockCompiler{}
	compiler.On("Compile", mock.Anything, "/src/bad.jsx", mock.Anything).
		Return(nil, errors.New("unexpected <"))

	cache := newTestCache(t, fs, CacheOptions{Compiler: compiler})

	_, err := cache.Compile(context.Background(), "/src/bad.jsx", time.Now())
	require.Error(t, err)

	_, ok := cache.Get("/src/bad.jsx")
	assert.False(t, ok)
	assert.Equal(t, int64(1), cache.Stats().Failures)

	_, err = cache.Compile(context.Background(), "/src/missing.jsx", time.Now())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompileCache_ConcurrentRecompileRace(t *testing.T) {
	const n = 8

	var calls int32
	compiler := CompilerFunc(func(ctx context.Context, _ string, src []byte) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		deadline := time.Now().Add(2 * time.Second)
		for atomic.LoadInt32(&calls) < n && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return src, nil
	})

	fs := &countingFS{files: map[string]string{"/src/a.jsx": "same"}}
	cache := newTestCache(t, fs, CacheOptions{Compiler: compiler})
	modTime := time.Now()

	var wg sync.WaitGroup
	codes := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := cache.Compile(context.Background(), "/src/a.jsx", modTime)
			if assert.NoError(t, err) {
				codes[i] = entry.Code
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(n), atomic.LoadInt32(&calls), "recompiles are not synchronized")
	assert.Equal(t, int64(n), cache.Stats().Compiles)
	for _, code := range codes {
		assert.Equal(t, []byte("same"), code)
	}
	assert.Equal(t, 1, cache.Stats().Entries)
}

func TestCompileCache_SingleFlight(t *testing.T) {
	const n = 8

	var calls int32
	gate := make(chan struct{})
	compiler := CompilerFunc(func(ctx context.Context, _ string, src []byte) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-gate
		return src, nil
	})

	fs := &countingFS{files: map[string]string{"/src/a.jsx": "once"}}
	cache := newTestCache(t, fs, CacheOptions{Compiler: compiler, SingleFlight: true})
	modTime := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := cache.Compile(context.Background(), "/src/a.jsx", modTime)
			if assert.NoError(t, err) {
				assert.Equal(t, []byte("once"), entry.Code)
			}
		}()
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, fs.readCount())
}

func TestCompileCache_EntriesSorted(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "b.jsx"), filepath.Join(dir, "a.jsx")}
	for _, p := range paths {
		require.NoError(t, os.WriteFile(p, []byte(p), 0o644))
	}

	cache, err := NewCompileCache(CacheOptions{Compiler: upper})
	require.NoError(t, err)

	for _, p := range paths {
		_, err := cache.Compile(context.Background(), p, time.Now())
		require.NoError(t, err)
	}

	entries := cache.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, paths[1], entries[0].SourcePath)
	assert.Equal(t, paths[0], entries[1].SourcePath)
	assert.Equal(t, len(strings.ToUpper(paths[1])), entries[0].Size)
}

type recorder struct {
	compiles, hits, misses int
}

func (r *recorder) RecordCompile(time.Duration, error) { r.compiles++ }

func (r *recorder) RecordCacheLookup(hit bool) {
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func TestCompileCache_Recorder(t *testing.T) {
	fs := &countingFS{files: map[string]string{"/a.jsx": "a"}}
	rec := &recorder{}
	cache := newTestCache(t, fs, CacheOptions{Recorder: rec})

	for i := 0; i < 3; i++ {
		_, err := cache.Compile(context.Background(), "/a.jsx", time.Unix(100, 0))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, rec.compiles)
	assert.Equal(t, 2, rec.hits)
	assert.Equal(t, 1, rec.misses)
	assert.InDelta(t, 2.0/3.0, cache.Stats().HitRate, 0.001)
}
