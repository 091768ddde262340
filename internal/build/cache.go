// Package build compiles component sources and memoizes the output per
// file until the file's modification time advances.
//
// The cache is unbounded: entries live for the whole process, which suits
// a short-lived development server. Long-lived use needs an eviction
// policy on top.
package build

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/modserve/internal/logging"
	"github.com/conneroisu/modserve/internal/rewrite"
)

// Entry is one compiled source file.
type Entry struct {
	SourcePath string        `json:"source_path"`
	Code       []byte        `json:"-"`
	ModTime    time.Time     `json:"mod_time"`
	Hash       uint64        `json:"hash"`
	Size       int           `json:"size"`
	CompiledAt time.Time     `json:"compiled_at"`
	Duration   time.Duration `json:"duration"`
}

// Stats summarizes cache activity.
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Compiles int64   `json:"compiles"`
	Failures int64   `json:"failures"`
	HitRate  float64 `json:"hit_rate"`
	Entries  int     `json:"entries"`
}

// Recorder receives compile observations, typically for export as metrics.
type Recorder interface {
	RecordCompile(duration time.Duration, err error)
	RecordCacheLookup(hit bool)
}

// CacheOptions configures a CompileCache.
type CacheOptions struct {
	Compiler       Compiler
	Policy         rewrite.Policy
	RewriteImports bool

	// Rewriter defaults to one built on rewrite.DefaultResolver.
	Rewriter *rewrite.Rewriter

	// SingleFlight collapses concurrent recompiles of the same file and
	// modification time into one compiler run.
	SingleFlight bool

	Logger   logging.Logger
	Recorder Recorder

	// ReadFile defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

// CompileCache memoizes compiled output keyed by absolute source path.
//
// Lookups and stores are individually locked, but the check, compile and
// store sequence is not: two requests that both see a stale entry both
// recompile and both store. The results are identical because they are
// computed from the same bytes. Enable SingleFlight to collapse them.
type CompileCache struct {
	entries map[string]*Entry
	mutex   sync.RWMutex

	compiler       Compiler
	policy         rewrite.Policy
	rewriteImports bool
	rewriter       *rewrite.Rewriter
	readFile       func(string) ([]byte, error)

	singleFlight bool
	group        singleflight.Group

	metrics  *BuildMetrics
	recorder Recorder
	logger   logging.Logger
}

// NewCompileCache creates a compile cache.
func NewCompileCache(opts CacheOptions) (*CompileCache, error) {
	if opts.Compiler == nil {
		return nil, fmt.Errorf("compile cache requires a compiler")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	rewriter := opts.Rewriter
	if rewriter == nil {
		rewriter = rewrite.New(rewrite.DefaultResolver(), logger)
	}

	return &CompileCache{
		entries:        make(map[string]*Entry),
		compiler:       opts.Compiler,
		policy:         opts.Policy,
		rewriteImports: opts.RewriteImports,
		rewriter:       rewriter,
		readFile:       readFile,
		singleFlight:   opts.SingleFlight,
		metrics:        NewBuildMetrics(),
		recorder:       opts.Recorder,
		logger:         logger.WithComponent("compile_cache"),
	}, nil
}

// Compile returns the compiled entry for sourcePath, recompiling when no
// entry exists or modTime is strictly newer than the stored one.
func (c *CompileCache) Compile(ctx context.Context, sourcePath string, modTime time.Time) (*Entry, error) {
	if entry, ok := c.lookup(sourcePath, modTime); ok {
		c.recordLookup(true)
		return entry, nil
	}
	c.recordLookup(false)

	if !c.singleFlight {
		return c.compile(ctx, sourcePath, modTime)
	}

	key := sourcePath + "@" + strconv.FormatInt(modTime.UnixNano(), 10)
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if entry, ok := c.lookup(sourcePath, modTime); ok {
			return entry, nil
		}
		return c.compile(ctx, sourcePath, modTime)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug(ctx, "Shared in-flight compile", "path", sourcePath)
	}

	return v.(*Entry), nil
}

func (c *CompileCache) lookup(sourcePath string, modTime time.Time) (*Entry, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.entries[sourcePath]
	if !ok || modTime.After(entry.ModTime) {
		return nil, false
	}

	return entry, true
}

func (c *CompileCache) compile(ctx context.Context, sourcePath string, modTime time.Time) (*Entry, error) {
	start := time.Now()

	src, err := c.readFile(sourcePath)
	if err != nil {
		c.recordCompile(time.Since(start), err)
		return nil, fmt.Errorf("reading %s: %w", sourcePath, err)
	}

	code, err := c.compiler.Compile(ctx, sourcePath, src)
	if err != nil {
		c.recordCompile(time.Since(start), err)
		c.logger.Warn(ctx, err, "Compile failed", "path", sourcePath)
		return nil, err
	}

	if c.rewriteImports {
		code = []byte(c.rewriter.Rewrite(string(code), sourcePath, c.policy))
	}

	duration := time.Since(start)
	entry := &Entry{
		SourcePath: sourcePath,
		Code:       code,
		ModTime:    modTime,
		Hash:       xxhash.Sum64(code),
		Size:       len(code),
		CompiledAt: time.Now(),
		Duration:   duration,
	}

	c.mutex.Lock()
	c.entries[sourcePath] = entry
	c.mutex.Unlock()

	c.recordCompile(duration, nil)
	c.logger.Debug(ctx, "Compiled component", "path", sourcePath, "duration", duration, "size", len(code))

	return entry, nil
}

func (c *CompileCache) recordLookup(hit bool) {
	c.metrics.RecordLookup(hit)
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(hit)
	}
}

func (c *CompileCache) recordCompile(d time.Duration, err error) {
	c.metrics.RecordBuild(d, err)
	if c.recorder != nil {
		c.recorder.RecordCompile(d, err)
	}
}

// Get returns the stored entry for sourcePath without compiling.
func (c *CompileCache) Get(sourcePath string) (*Entry, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.entries[sourcePath]

	return entry, ok
}

// Entries returns all entries sorted by source path.
func (c *CompileCache) Entries() []*Entry {
	c.mutex.RLock()
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mutex.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SourcePath < entries[j].SourcePath
	})

	return entries
}

// Stats returns a snapshot of cache activity.
func (c *CompileCache) Stats() Stats {
	snap := c.metrics.GetSnapshot()

	c.mutex.RLock()
	n := len(c.entries)
	c.mutex.RUnlock()

	return Stats{
		Hits:     snap.CacheHits,
		Misses:   snap.CacheMisses,
		Compiles: snap.SuccessfulBuilds,
		Failures: snap.FailedBuilds,
		HitRate:  c.metrics.GetCacheHitRate(),
		Entries:  n,
	}
}
