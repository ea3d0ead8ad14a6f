// Package inode implements the in-memory inode cache (spec.md §4.E),
// direct+indirect block-mapped inode I/O (§4.F), and directory/path
// operations (§4.G). Grounded on rv6 file.rs's Inode/InodeGuard and the
// classic xv6 iget/iput/ilock algorithm it is itself derived from, plus
// sysfile.rs's create/link/unlink control flow for the directory layer.
package inode

import (
	"sync"

	"github.com/gokernel/corefs/bcache"
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/super"
	"github.com/gokernel/corefs/txlog"
)

// Inner is the in-memory copy of a dinode, valid only while the inode's
// sleep lock is held and Valid is true (spec.md §3 InodeInner).
type Inner struct {
	Valid bool
	Typ   common.InodeType
	Major uint16
	Minor uint16
	Nlink int16
	Size  uint32
	Addrs [common.NDIRECT + 1]uint32
}

// Inode is the in-memory inode cache entry. ref is protected by the owning
// Table's lock; sleep guards Inner and may be held across disk I/O.
type Inode struct {
	Dev  uint32
	Inum uint32

	ref   int
	sleep sync.Mutex
	inner Inner
}

// Table is the itable: a fixed-capacity (NINODE) cache of in-memory inodes
// keyed by (dev, inum), reference-counted (spec.md §4.E).
type Table struct {
	mu      sync.Mutex
	cache   *bcache.Cache
	sb      *super.Superblock
	log     *txlog.Log
	entries []*Inode
}

// New creates an itable of common.NINODE entries.
func New(cache *bcache.Cache, sb *super.Superblock, log *txlog.Log) *Table {
	entries := make([]*Inode, common.NINODE)
	for i := range entries {
		entries[i] = &Inode{}
	}
	return &Table{cache: cache, sb: sb, log: log, entries: entries}
}

// Begin starts a new transaction against the table's log, for callers that
// only have a Table in hand (the common case at the syscall layer).
func (t *Table) Begin() *txlog.Txn { return t.log.Begin() }

// Get returns the cached inode for (dev, inum) with its reference count
// incremented, reusing an existing entry or evicting an unreferenced one.
// It does not load the dinode from disk; that happens lazily on Lock.
func (t *Table) Get(dev, inum uint32) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var free *Inode
	for _, ip := range t.entries {
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.ref++
			return ip, nil
		}
		if free == nil && ip.ref == 0 {
			free = ip
		}
	}
	if free == nil {
		return nil, common.NewError("itable.get", common.CodeOutOfTables)
	}
	free.Dev = dev
	free.Inum = inum
	free.ref = 1
	free.inner = Inner{}
	return free, nil
}

// Dup increments ip's reference count (used by dup(2)/fork-style
// duplication at the open-file layer).
func (t *Table) Dup(ip *Inode) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()
	ip.ref++
	return ip
}

// Alloc scans dev's inode blocks for a free (Typ == TypeFree) dinode,
// stamps it with typ under tx, and returns its cached, ref-counted Inode.
// Alloc panics if no free dinode exists (spec.md §4.E: "panics on
// exhaustion").
func (t *Table) Alloc(tx *txlog.Txn, dev uint32, typ common.InodeType) *Inode {
	for inum := uint32(1); inum < t.sb.NInodes; inum++ {
		buf, err := t.cache.Read(dev, t.sb.IBlock(inum))
		if err != nil {
			panic(err)
		}
		off := (inum % common.IPB) * common.DinodeSize
		var d common.Dinode
		d.Decode(buf.Data[off : off+common.DinodeSize])
		if d.Typ == common.TypeFree {
			d = common.Dinode{Typ: typ}
			d.Encode(buf.Data[off : off+common.DinodeSize])
			if err := tx.Write(buf); err != nil {
				panic(err)
			}
			t.cache.Release(buf)
			ip, err := t.Get(dev, inum)
			if err != nil {
				panic(err)
			}
			return ip
		}
		t.cache.Release(buf)
	}
	panic("inode: no free inodes")
}

// Put decrements ip's reference count. If this is the last reference and
// the inode is valid with Nlink == 0, Put truncates and frees it on disk
// before dropping the final reference, exactly mirroring the classic
// xv6/rv6 iput algorithm: the sleep lock is acquired (safe without
// deadlock since ref == 1 guarantees no concurrent locker) with the itable
// lock released across the truncate, then re-acquired to finish the
// decrement.
func (t *Table) Put(tx *txlog.Txn, ip *Inode) {
	t.mu.Lock()
	freeing := ip.ref == 1 && ip.inner.Valid && ip.inner.Nlink == 0
	t.mu.Unlock()

	if freeing {
		g := t.lockGuard(ip)
		g.Itrunc(tx)
		g.ip.inner.Typ = common.TypeFree
		g.Update(tx)
		g.ip.inner.Valid = false
		g.Unlock()
	}

	t.mu.Lock()
	ip.ref--
	t.mu.Unlock()
}
