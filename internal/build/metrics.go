package build

import (
	"sync"
	"time"
)

// BuildMetrics tracks compile performance of a CompileCache.
type BuildMetrics struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	CacheHits        int64
	CacheMisses      int64
	AverageDuration  time.Duration
	TotalDuration    time.Duration
	mutex            sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBuild records one compile run.
func (bm *BuildMetrics) RecordBuild(duration time.Duration, err error) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++
	bm.TotalDuration += duration

	if err != nil {
		bm.FailedBuilds++
	} else {
		bm.SuccessfulBuilds++
	}

	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalBuilds)
}

// RecordLookup records a cache lookup outcome.
func (bm *BuildMetrics) RecordLookup(hit bool) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	if hit {
		bm.CacheHits++
	} else {
		bm.CacheMisses++
	}
}

// GetSnapshot returns a snapshot of current metrics
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	return BuildMetrics{
		TotalBuilds:      bm.TotalBuilds,
		SuccessfulBuilds: bm.SuccessfulBuilds,
		FailedBuilds:     bm.FailedBuilds,
		CacheHits:        bm.CacheHits,
		CacheMisses:      bm.CacheMisses,
		AverageDuration:  bm.AverageDuration,
		TotalDuration:    bm.TotalDuration,
	}
}

// GetCacheHitRate returns the cache hit rate between 0 and 1.
func (bm *BuildMetrics) GetCacheHitRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	total := bm.CacheHits + bm.CacheMisses
	if total == 0 {
		return 0
	}

	return float64(bm.CacheHits) / float64(total)
}
