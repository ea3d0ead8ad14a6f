package inode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gokernel/corefs/bcache"
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/disk"
	"github.com/gokernel/corefs/super"
	"github.com/gokernel/corefs/txlog"
)

const testDev = 0

// newFixture builds a small, freshly "formatted" device (superblock written,
// metadata blocks marked used in the bitmap), wires up a cache/log/itable
// over it, and allocates and links the root directory by hand (the minimum
// a real mkfs would also do), so every inode test starts from a usable root.
func newFixture(t *testing.T) (*bcache.Cache, *super.Superblock, *Table) {
	t.Helper()

	const nblocks = 128
	dev := disk.NewMemDevice(nblocks)
	cache := bcache.New(dev, 64)

	sb := &super.Superblock{
		Magic:      super.Magic(),
		Size:       nblocks,
		NBlocks:    nblocks,
		NInodes:    50,
		NLog:       common.MaxOpBlocks + 4,
		LogStart:   2,
		InodeStart: 2 + common.MaxOpBlocks + 4,
	}
	sb.BmapStart = sb.InodeStart + (sb.NInodes+common.IPB-1)/common.IPB

	sbuf, err := cache.Get(testDev, 1)
	require.NoError(t, err)
	sb.Encode(sbuf.Data)
	require.NoError(t, cache.Write(sbuf))
	cache.Release(sbuf)

	bbuf, err := cache.Read(testDev, sb.BBlock(0))
	require.NoError(t, err)
	for b := uint32(0); b <= sb.BmapStart; b++ {
		bbuf.Data[b/8] |= 1 << (b % 8)
	}
	require.NoError(t, cache.Write(bbuf))
	cache.Release(bbuf)

	l := txlog.New(testDev, sb.LogStart, sb.NLog, cache, nil, nil)
	require.NoError(t, l.RecoverFromLog())

	table := New(cache, sb, l)

	tx := table.Begin()
	root := table.Alloc(tx, testDev, common.TypeDir)
	require.Equal(t, uint32(common.ROOTINO), root.Inum)
	g := table.Lock(root)
	g.SetNlink(1)
	g.Update(tx)
	require.NoError(t, g.DirLink(tx, ".", root.Inum))
	require.NoError(t, g.DirLink(tx, "..", root.Inum))
	g.Unlock()
	table.Put(tx, root)
	tx.Done()

	return cache, sb, table
}

func TestAllocAndLookupRoundTrip(t *testing.T) {
	_, _, table := newFixture(t)

	tx := table.Begin()
	file := table.Alloc(tx, testDev, common.TypeFile)
	fg := table.Lock(file)
	fg.SetNlink(1)
	fg.Update(tx)
	fg.Unlock()

	root, err := table.Get(testDev, common.ROOTINO)
	require.NoError(t, err)
	rg := table.Lock(root)
	require.NoError(t, rg.DirLink(tx, "hello.txt", file.Inum))
	rg.Unlock()
	table.Put(tx, root)
	tx.Done()

	tx2 := table.Begin()
	ip, err := table.Namei(tx2, testDev, nil, "/hello.txt")
	tx2.Done()
	require.NoError(t, err)
	require.Equal(t, file.Inum, ip.Inum)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	_, _, table := newFixture(t)

	tx := table.Begin()
	file := table.Alloc(tx, testDev, common.TypeFile)
	g := table.Lock(file)
	g.SetNlink(1)
	g.Update(tx)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	n, err := g.Write(tx, common.NewKernelBuf(payload), 0, uint32(len(payload)))
	require.NoError(t, err)
	require.EqualValues(t, len(payload), n)
	g.Unlock()
	tx.Done()

	g2 := table.Lock(file)
	out := make([]byte, len(payload))
	n2, err := g2.Read(common.NewKernelBuf(out), 0, uint32(len(out)))
	require.NoError(t, err)
	require.EqualValues(t, len(payload), n2)
	require.Equal(t, payload, out)
	g2.Unlock()
}

func TestWriteCrossingIndirectBoundary(t *testing.T) {
	_, _, table := newFixture(t)

	tx := table.Begin()
	file := table.Alloc(tx, testDev, common.TypeFile)
	g := table.Lock(file)
	g.SetNlink(1)
	g.Update(tx)

	// Offset common.NDIRECT*BSIZE lands in the first indirect-mapped block.
	// Write refuses off > size, so the file's size is set to off first,
	// leaving the direct blocks as holes.
	off := uint32(common.NDIRECT) * common.BSIZE
	g.ip.inner.Size = off
	payload := []byte("past the direct blocks")
	n, err := g.Write(tx, common.NewKernelBuf(payload), off, uint32(len(payload)))
	require.NoError(t, err)
	require.EqualValues(t, len(payload), n)
	require.NotZero(t, g.ip.inner.Addrs[common.NDIRECT])
	g.Unlock()
	tx.Done()

	g2 := table.Lock(file)
	out := make([]byte, len(payload))
	_, err = g2.Read(common.NewKernelBuf(out), off, uint32(len(out)))
	require.NoError(t, err)
	require.Equal(t, payload, out)
	g2.Unlock()
}

func TestPutFreesInodeWhenNlinkReachesZero(t *testing.T) {
	_, _, table := newFixture(t)

	tx := table.Begin()
	file := table.Alloc(tx, testDev, common.TypeFile)
	inum := file.Inum
	g := table.Lock(file)
	g.SetNlink(1)
	g.Update(tx)
	payload := []byte("freed on last put")
	_, err := g.Write(tx, common.NewKernelBuf(payload), 0, uint32(len(payload)))
	require.NoError(t, err)
	g.SetNlink(0)
	g.Update(tx)
	g.Unlock()

	table.Put(tx, file)
	tx.Done()

	tx2 := table.Begin()
	reused := table.Alloc(tx2, testDev, common.TypeFile)
	require.Equal(t, inum, reused.Inum, "freed dinode slot should be reused by the next Alloc")
	tx2.Done()
}

func TestDirLinkRejectsDuplicateName(t *testing.T) {
	_, _, table := newFixture(t)

	tx := table.Begin()
	a := table.Alloc(tx, testDev, common.TypeFile)
	b := table.Alloc(tx, testDev, common.TypeFile)

	root, err := table.Get(testDev, common.ROOTINO)
	require.NoError(t, err)
	rg := table.Lock(root)
	require.NoError(t, rg.DirLink(tx, "dup", a.Inum))
	require.Error(t, rg.DirLink(tx, "dup", b.Inum))
	rg.Unlock()
	table.Put(tx, root)
	tx.Done()
}

func TestNameiParentSplitsFinalComponent(t *testing.T) {
	_, _, table := newFixture(t)

	tx := table.Begin()
	dir := table.Alloc(tx, testDev, common.TypeDir)
	dg := table.Lock(dir)
	dg.SetNlink(1)
	dg.Update(tx)
	require.NoError(t, dg.DirLink(tx, ".", dir.Inum))
	require.NoError(t, dg.DirLink(tx, "..", common.ROOTINO))
	dg.Unlock()

	root, err := table.Get(testDev, common.ROOTINO)
	require.NoError(t, err)
	rg := table.Lock(root)
	require.NoError(t, rg.DirLink(tx, "sub", dir.Inum))
	rg.Unlock()
	table.Put(tx, root)
	tx.Done()

	tx2 := table.Begin()
	parent, name, err := table.NameiParent(tx2, testDev, nil, "/sub/leaf")
	tx2.Done()
	require.NoError(t, err)
	require.Equal(t, dir.Inum, parent.Inum)
	require.Equal(t, "leaf", name)
}

func TestIsDirEmpty(t *testing.T) {
	_, _, table := newFixture(t)

	tx := table.Begin()
	dir := table.Alloc(tx, testDev, common.TypeDir)
	dg := table.Lock(dir)
	dg.SetNlink(1)
	dg.Update(tx)
	require.NoError(t, dg.DirLink(tx, ".", dir.Inum))
	require.NoError(t, dg.DirLink(tx, "..", common.ROOTINO))
	require.True(t, dg.IsDirEmpty())

	file := table.Alloc(tx, testDev, common.TypeFile)
	require.NoError(t, dg.DirLink(tx, "child", file.Inum))
	require.False(t, dg.IsDirEmpty())
	dg.Unlock()
	tx.Done()
}
