// Package bcache implements the buffer cache the spec assumes sits between
// the log/inode layers and the raw disk: a fixed-size, reference-counted
// pool of block buffers with get/read/write semantics and pin-via-handle
// eviction protection (spec.md §1, §5, §9). The spec explicitly treats the
// cache's internals as an external collaborator; this is the core's own
// implementation of that contract, needed for the rest of the tree to run
// at all.
package bcache

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/disk"
	"github.com/gokernel/corefs/metrics"
)

// Buf is a handle to one cached block. Holding a Buf pins the block against
// eviction; callers must call Release when done (mirrors the teacher's
// reference-counted Buf contract referenced by the log: "pinning via
// handle lifetime").
type Buf struct {
	cache  *Cache
	entry  *entry
	Dev    uint32
	Blockno uint32
	// Data is the block's BSIZE bytes. Callers holding a Buf obtained via
	// Read or Get may mutate Data in place; Cache.Write persists it to the
	// cache slot and straight through to the backing device. Crash-safe
	// updates go through the log instead.
	Data []byte
}

type entry struct {
	mu       sync.Mutex
	dev      uint32
	blockno  uint32
	valid    bool
	refcnt   int
	data     [common.BSIZE]byte
	lastUsed uint64
}

// Cache is a fixed-capacity (NBuf) pool of block buffers, keyed by
// (dev, blockno). It is safe for concurrent use from multiple goroutines.
type Cache struct {
	dev       disk.Device
	mu        sync.Mutex // protects entries' directory metadata (dev/blockno/valid/refcnt assignment)
	entries   []*entry
	clock     uint64
	missGate  *semaphore.Weighted // bounds concurrent cold-miss disk reads
	metrics   *metrics.Counters
}

// New creates a cache of size capacity blocks backed by dev. capacity is
// typically common.NBuf.
func New(dev disk.Device, capacity int) *Cache {
	entries := make([]*entry, capacity)
	for i := range entries {
		entries[i] = &entry{}
	}
	return &Cache{
		dev:      dev,
		entries:  entries,
		missGate: semaphore.NewWeighted(int64(maxConcurrentMisses(capacity))),
	}
}

// SetMetrics attaches a counters instance; Read increments CacheHits/
// CacheMisses on it when non-nil. Optional: a bare Cache works without one.
func (c *Cache) SetMetrics(m *metrics.Counters) { c.metrics = m }

func maxConcurrentMisses(capacity int) int {
	// Allow up to a quarter of the cache to be mid-fetch at once; bounds
	// how many concurrent callers can hammer the disk on a cold cache
	// without serializing every miss behind one lock.
	n := capacity / 4
	if n < 1 {
		n = 1
	}
	return n
}

// get locates or evicts a directory slot for (dev, blockno), pins it
// (refcnt++) and returns it. It does not fill data from disk.
func (c *Cache) get(dev, blockno uint32) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		e.mu.Lock()
		if e.valid && e.dev == dev && e.blockno == blockno {
			e.refcnt++
			e.mu.Unlock()
			return e, nil
		}
		e.mu.Unlock()
	}

	// No hit: evict the least-recently-used unreferenced slot.
	var victim *entry
	var oldest uint64
	first := true
	for _, e := range c.entries {
		e.mu.Lock()
		if e.refcnt == 0 && (first || e.lastUsed < oldest) {
			victim, oldest, first = e, e.lastUsed, false
		}
		e.mu.Unlock()
	}
	if victim == nil {
		return nil, common.NewError("bcache.get", common.CodeOutOfTables)
	}

	victim.mu.Lock()
	victim.dev = dev
	victim.blockno = blockno
	victim.valid = false
	victim.refcnt = 1
	c.clock++
	victim.lastUsed = c.clock
	victim.mu.Unlock()
	return victim, nil
}

func (c *Cache) wrap(e *entry) *Buf {
	return &Buf{cache: c, entry: e, Dev: e.dev, Blockno: e.blockno, Data: e.data[:]}
}

// Get returns a pinned buffer for (dev, blockno) without guaranteeing its
// contents are loaded from disk; used when the caller is about to
// overwrite the entire block (e.g. zeroing a freshly allocated block).
func (c *Cache) Get(dev, blockno uint32) (*Buf, error) {
	e, err := c.get(dev, blockno)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if !e.valid {
		for i := range e.data {
			e.data[i] = 0
		}
		e.valid = true
	}
	e.mu.Unlock()
	return c.wrap(e), nil
}

// Read returns a pinned buffer for (dev, blockno), loading it from disk on
// a cache miss.
func (c *Cache) Read(dev, blockno uint32) (*Buf, error) {
	e, err := c.get(dev, blockno)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	needLoad := !e.valid
	e.mu.Unlock()

	if c.metrics != nil {
		if needLoad {
			c.metrics.CacheMisses.Add(1)
		} else {
			c.metrics.CacheHits.Add(1)
		}
	}

	if needLoad {
		ctx := context.Background()
		if err := c.missGate.Acquire(ctx, 1); err != nil {
			c.Release(c.wrap(e))
			return nil, common.WrapError("bcache.read", common.CodeInvalid, err)
		}
		defer c.missGate.Release(1)

		e.mu.Lock()
		if !e.valid {
			if err := c.dev.ReadBlock(blockno, e.data[:]); err != nil {
				e.mu.Unlock()
				c.Release(c.wrap(e))
				return nil, err
			}
			e.valid = true
		}
		e.mu.Unlock()
	}
	return c.wrap(e), nil
}

// Write persists b.Data to b's cache slot and immediately to the backing
// device. The log layer is what makes writes crash-safe; Write here is the
// low-level "flush this block now" primitive the log's write-log, install
// and write-head steps call. balloc/bfree do not call it: their
// in-transaction writes go through the transaction's Write (see txlog).
func (c *Cache) Write(b *Buf) error {
	b.entry.mu.Lock()
	copy(b.entry.data[:], b.Data)
	b.entry.valid = true
	blockno := b.entry.blockno
	b.entry.mu.Unlock()
	return c.dev.WriteBlock(blockno, b.Data)
}

// Flush forces every block already written through Write out to durable
// storage on the backing device. The log calls this right after its commit
// header write lands, since that write is the actual commit point and must
// survive a crash even on a backend (disk.FileDevice) whose WriteBlock only
// reaches the OS page cache.
func (c *Cache) Flush() error {
	return c.dev.Flush()
}

// Release unpins b. It must be called exactly once per Get/Read.
func (c *Cache) Release(b *Buf) {
	b.entry.mu.Lock()
	if b.entry.refcnt > 0 {
		b.entry.refcnt--
	}
	c.mu.Lock()
	c.clock++
	b.entry.lastUsed = c.clock
	c.mu.Unlock()
	b.entry.mu.Unlock()
}

// Pin increments b's reference count again, used by the log to hold a
// buffer pinned from the moment it is recorded until commit installs it,
// independent of the original caller's own Release.
func (c *Cache) Pin(b *Buf) {
	b.entry.mu.Lock()
	b.entry.refcnt++
	b.entry.mu.Unlock()
}
