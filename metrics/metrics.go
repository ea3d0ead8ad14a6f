// Package metrics tracks operational counters for the file system core,
// grounded on go-ublk/metrics.go's atomic counter struct (no external
// metrics framework is pulled in anywhere in the retrieved corpus; atomics
// plus a Snapshot struct is the idiom this corpus actually uses).
package metrics

import "sync/atomic"

// Counters aggregates commit/install/cache activity for one FileSystem
// instance. All fields are safe for concurrent use.
type Counters struct {
	Commits        atomic.Uint64
	BlocksLogged   atomic.Uint64
	BlocksInstalled atomic.Uint64
	Recoveries     atomic.Uint64
	RecoveredBlocks atomic.Uint64
	CacheHits      atomic.Uint64
	CacheMisses    atomic.Uint64
	BlocksAllocated atomic.Uint64
	BlocksFreed    atomic.Uint64
}

// New returns a zeroed Counters.
func New() *Counters { return &Counters{} }

// Snapshot is a point-in-time copy of Counters for reporting.
type Snapshot struct {
	Commits, BlocksLogged, BlocksInstalled     uint64
	Recoveries, RecoveredBlocks                uint64
	CacheHits, CacheMisses                     uint64
	BlocksAllocated, BlocksFreed               uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Commits:         c.Commits.Load(),
		BlocksLogged:    c.BlocksLogged.Load(),
		BlocksInstalled: c.BlocksInstalled.Load(),
		Recoveries:      c.Recoveries.Load(),
		RecoveredBlocks: c.RecoveredBlocks.Load(),
		CacheHits:       c.CacheHits.Load(),
		CacheMisses:     c.CacheMisses.Load(),
		BlocksAllocated: c.BlocksAllocated.Load(),
		BlocksFreed:     c.BlocksFreed.Load(),
	}
}
