// Package vfile implements the open-file abstraction (spec.md §4.I): a
// tagged variant over pipes, inodes, and devices, a system-wide refcounted
// file table, and per-process descriptor arrays. Grounded on rv6 file.rs's
// File enum and the teacher's Fd_t/fd_stdin scaffolding (main.go).
package vfile

import (
	"sync"

	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/inode"
	"github.com/gokernel/corefs/pipe"
	"github.com/gokernel/corefs/txlog"
)

// Kind tags which variant a File holds.
type Kind int

const (
	KindNone Kind = iota
	KindPipe
	KindInode
	KindDevice
)

// File is an open-file table entry whose meaningful fields are selected by
// Kind: Pipe for KindPipe, Ip for KindInode, and Ip plus Major for
// KindDevice (a device file holds its inode reference). Readable/Writable record the mode the file
// was opened with, since a single Pipe or Inode may be opened read-only,
// write-only, or both by different descriptors.
type File struct {
	mu       sync.Mutex
	ref      int
	Kind     Kind
	Readable bool
	Writable bool

	Pipe   *pipe.Pipe
	Ip     *inode.Inode
	Major  uint16 // device major number, valid when Kind == KindDevice
	offset uint32 // current read/write cursor, valid for KindInode
}

// Table is the system-wide open-file table (spec.md §4.I, NFILE slots).
type Table struct {
	mu      sync.Mutex
	devs    *DevTable
	inodes  *inode.Table
	entries []*File
}

// NewTable creates an empty file table backed by the given device switch
// and inode table.
func NewTable(devs *DevTable, inodes *inode.Table) *Table {
	entries := make([]*File, common.NFILE)
	for i := range entries {
		entries[i] = &File{}
	}
	return &Table{devs: devs, inodes: inodes, entries: entries}
}

// Alloc reserves a free File slot with a reference count of 1, or fails if
// the table is exhausted (spec.md §7 class 2: resource exhaustion is a
// user-visible error, not a panic, since a caller can retry after closing
// fds).
func (t *Table) Alloc() (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.entries {
		if f.ref == 0 {
			f.ref = 1
			f.Kind = KindNone
			f.Readable = false
			f.Writable = false
			f.Pipe = nil
			f.Ip = nil
			f.Major = 0
			f.offset = 0
			return f, nil
		}
	}
	return nil, common.NewError("filealloc", common.CodeOutOfTables)
}

// Dup increments f's reference count and returns f, for dup(2)-style fd
// sharing.
func (t *Table) Dup(f *File) *File {
	t.mu.Lock()
	defer t.mu.Unlock()
	f.ref++
	return f
}

// Close drops one reference to f. On the last reference it releases the
// underlying resource: a pipe half is closed (freeing the Pipe once both
// halves are gone), an inode reference is put back through tx.
func (t *Table) Close(tx *txlog.Txn, f *File) {
	t.mu.Lock()
	f.ref--
	ref := f.ref
	kind := f.Kind
	t.mu.Unlock()
	if ref > 0 {
		return
	}

	switch kind {
	case KindPipe:
		f.Pipe.Close(f.Writable)
	case KindInode, KindDevice:
		t.inodes.Put(tx, f.Ip)
	}
	f.Kind = KindNone
}

// Read reads into dst from f according to its Kind, advancing the inode
// cursor for KindInode. It fails if f was not opened Readable.
func (f *File) Read(tables *Table, dst []byte) (int, error) {
	if !f.Readable {
		return 0, common.NewError("fileread", common.CodePermission)
	}
	switch f.Kind {
	case KindPipe:
		return f.Pipe.Read(dst, nil)
	case KindInode:
		f.mu.Lock()
		defer f.mu.Unlock()
		g := tables.inodes.Lock(f.Ip)
		defer g.Unlock()
		n, err := g.Read(common.NewKernelBuf(dst), f.offset, uint32(len(dst)))
		f.offset += n
		return int(n), err
	case KindDevice:
		dev, ok := tables.devs.Get(f.Major)
		if !ok || dev.Read == nil {
			return 0, common.NewError("fileread", common.CodeBadFd)
		}
		return dev.Read(dst)
	default:
		return 0, common.NewError("fileread", common.CodeBadFd)
	}
}

// maxInodeWriteChunk bounds a single KindInode write transaction: inode
// block, indirect block, allocation blocks, and two blocks of slop for
// non-aligned writes, halved to leave room for a second op sharing the log.
// Mirrors rv6 file.rs's File::write (same formula, same rationale).
const maxInodeWriteChunk = ((common.MaxOpBlocks - 1 - 1 - 2) / 2) * common.BSIZE

// Write writes src to f according to its Kind, advancing the inode cursor
// and extending the file for KindInode. It fails if f was not opened
// Writable.
func (f *File) Write(tables *Table, src []byte) (int, error) {
	if !f.Writable {
		return 0, common.NewError("filewrite", common.CodePermission)
	}
	switch f.Kind {
	case KindPipe:
		return f.Pipe.Write(src, nil)
	case KindInode:
		return f.writeInode(tables, src)
	case KindDevice:
		dev, ok := tables.devs.Get(f.Major)
		if !ok || dev.Write == nil {
			return 0, common.NewError("filewrite", common.CodeBadFd)
		}
		return dev.Write(src)
	default:
		return 0, common.NewError("filewrite", common.CodeBadFd)
	}
}

// writeInode slices src into chunks of at most maxInodeWriteChunk bytes,
// each under its own transaction, so a single large write never exceeds
// the log's worst-case per-op budget (spec.md §4.I). A short chunk write
// is a fatal invariant violation: the log guarantees a chunk-sized write
// fits, so anything less means the chunk budget itself is wrong.
func (f *File) writeInode(tables *Table, src []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var written int
	for written < len(src) {
		chunk := len(src) - written
		if chunk > maxInodeWriteChunk {
			chunk = maxInodeWriteChunk
		}

		tx := tables.inodes.Begin()
		g := tables.inodes.Lock(f.Ip)
		n, err := g.Write(tx, common.NewKernelBuf(src[written:written+chunk]), f.offset, uint32(chunk))
		f.offset += n
		g.Unlock()
		tx.Done()

		if err != nil {
			return written + int(n), err
		}
		if int(n) != chunk {
			panic("vfile: short write inside write chunk loop")
		}
		written += chunk
	}
	return written, nil
}

// Stat returns f's metadata. Only KindInode carries real metadata; other
// kinds fail (matching the fstat(2) contract that non-inode fds, e.g.
// pipes, have no inode to stat in this design).
func (f *File) Stat(tables *Table) (common.Stat, error) {
	if f.Kind != KindInode {
		return common.Stat{}, common.NewError("filestat", common.CodeBadFd)
	}
	g := tables.inodes.Lock(f.Ip)
	defer g.Unlock()
	return g.Stat(), nil
}

// Descriptors is a per-process array of NOFILE file descriptors (spec.md
// §4.I), each either empty or pointing at a shared *File.
type Descriptors struct {
	mu    sync.Mutex
	slots [common.NOFILE]*File
}

// FdAlloc reserves the lowest-numbered free descriptor for f, returning
// CodeOutOfTables if the process has no free descriptors left.
func (d *Descriptors) FdAlloc(f *File) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, slot := range d.slots {
		if slot == nil {
			d.slots[i] = f
			return i, nil
		}
	}
	return -1, common.NewError("fdalloc", common.CodeOutOfTables)
}

// Get returns the File behind fd, or CodeBadFd if fd is out of range or
// unused.
func (d *Descriptors) Get(fd int) (*File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fd < 0 || fd >= common.NOFILE || d.slots[fd] == nil {
		return nil, common.NewError("fd", common.CodeBadFd)
	}
	return d.slots[fd], nil
}

// Close clears fd's slot, returning the File that was there so the caller
// can drop its table reference.
func (d *Descriptors) Close(fd int) (*File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fd < 0 || fd >= common.NOFILE || d.slots[fd] == nil {
		return nil, common.NewError("fdclose", common.CodeBadFd)
	}
	f := d.slots[fd]
	d.slots[fd] = nil
	return f, nil
}

// Dup finds a free descriptor and points it at the same File as fd,
// sharing the table reference (the caller must bump f's Table refcount).
func (d *Descriptors) Dup(fd int) (int, *File, error) {
	d.mu.Lock()
	f := d.slots[fd]
	d.mu.Unlock()
	if fd < 0 || fd >= common.NOFILE || f == nil {
		return -1, nil, common.NewError("dup", common.CodeBadFd)
	}
	nfd, err := d.FdAlloc(f)
	return nfd, f, err
}
