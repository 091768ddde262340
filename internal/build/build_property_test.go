//go:build property

package build

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCompileCacheProperties checks the invalidation rule against arbitrary
// sequences of modification times.
func TestCompileCacheProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("compiles once per strictly newer mod time", prop.ForAll(
		func(offsets []int64) bool {
			fs := &countingFS{files: map[string]string{"/a.jsx": "a"}}
			cache, err := NewCompileCache(CacheOptions{Compiler: upper, ReadFile: fs.ReadFile})
			if err != nil {
				return false
			}

			expected := 0
			var newest int64
			for i, off := range offsets {
				if i == 0 || off > newest {
					expected++
					newest = off
				}
				if _, err := cache.Compile(context.Background(), "/a.jsx", time.Unix(off, 0)); err != nil {
					return false
				}
			}

			return fs.readCount() == expected && cache.Stats().Compiles == int64(expected)
		},
		gen.SliceOf(gen.Int64Range(0, 20)),
	))

	properties.TestingRun(t)
}
