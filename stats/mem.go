// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package stats

import (
	"runtime"
)

// BasicMemStats includes a few of the fields from runtime.MemStats suitable
// for general logging.
type BasicMemStats struct {
	// General statistics.
	Alloc      uint64 // bytes allocated and still in use
	TotalAlloc uint64 // bytes allocated (even if freed)
	Sys        uint64 // bytes obtained from system
	Lookups    uint64 // number of pointer lookups
	Mallocs    uint64 // number of mallocs
	Frees      uint64 // number of frees

	// Main allocation heap statistics.
	HeapAlloc    uint64 // bytes allocated and still in use
	HeapSys      uint64 // bytes obtained from system
	HeapIdle     uint64 // bytes in idle spans
	HeapInuse    uint64 // bytes in non-idle span
	HeapReleased uint64 // bytes released to the OS
	HeapObjects  uint64 // total number of allocated objects

	// Garbage collector statistics.
	PauseTotalNs  uint64
	LatestPauseNs uint64
}

// MemStatsWrapper wraps runtime.MemStats with an optionally less verbose
// JSON representation. The JSON field names correspond exactly to the
// runtime.MemStats field names.
type MemStatsWrapper struct {
	basic *BasicMemStats
	cache *runtime.MemStats

	verbose bool
}

func NewMemStatsWrapper(verbose bool) *MemStatsWrapper {
	stats := &MemStatsWrapper{
		verbose: verbose,
		cache:   &runtime.MemStats{},
	}

	if !verbose {
		stats.basic = &BasicMemStats{}
	}

	return stats
}

// Update fetches the current memstats from the runtime.
func (s *MemStatsWrapper) Update() {
	runtime.ReadMemStats(s.cache)

	if !s.verbose {
		s.basic.Alloc = s.cache.Alloc
		s.basic.TotalAlloc = s.cache.TotalAlloc
		s.basic.Sys = s.cache.Sys
		s.basic.Lookups = s.cache.Lookups
		s.basic.Mallocs = s.cache.Mallocs
		s.basic.Frees = s.cache.Frees
		s.basic.HeapAlloc = s.cache.HeapAlloc
		s.basic.HeapSys = s.cache.HeapSys
		s.basic.HeapIdle = s.cache.HeapIdle
		s.basic.HeapInuse = s.cache.HeapInuse
		s.basic.HeapReleased = s.cache.HeapReleased
		s.basic.HeapObjects = s.cache.HeapObjects
		s.basic.PauseTotalNs = s.cache.PauseTotalNs
		s.basic.LatestPauseNs = s.cache.PauseNs[(s.cache.NumGC+255)%256]
	}
}

// MemStats returns the view that should end up in serialized output.
func (s *MemStatsWrapper) MemStats() interface{} {
	if s.verbose {
		return s.cache
	}
	return s.basic
}
