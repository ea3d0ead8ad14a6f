package inode

import (
	"github.com/gokernel/corefs/balloc"
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/txlog"
)

// Guard represents the sleep lock held on an Inode's inner state
// (spec.md §4.F). All of Bmap/Read/Write/Update/Itrunc/Stat require the
// guard to be held; it is released exactly once, by Unlock.
type Guard struct {
	table *Table
	ip    *Inode
}

// Lock acquires ip's sleep lock, lazily loading its dinode from disk on
// first use (spec.md §4.E "lazy load"). It panics if the on-disk type is
// free, matching the spec's invariant-violation class for a cache entry
// that points at a freed dinode.
func (t *Table) Lock(ip *Inode) *Guard {
	return t.lockGuard(ip)
}

func (t *Table) lockGuard(ip *Inode) *Guard {
	ip.sleep.Lock()
	g := &Guard{table: t, ip: ip}
	if !ip.inner.Valid {
		g.load()
	}
	return g
}

func (g *Guard) load() {
	buf, err := g.table.cache.Read(g.ip.Dev, g.table.sb.IBlock(g.ip.Inum))
	if err != nil {
		panic(err)
	}
	off := (g.ip.Inum % common.IPB) * common.DinodeSize
	var d common.Dinode
	d.Decode(buf.Data[off : off+common.DinodeSize])
	g.table.cache.Release(buf)

	if d.Typ == common.TypeFree {
		panic("inode: load of free dinode")
	}
	g.ip.inner = Inner{
		Valid: true,
		Typ:   d.Typ,
		Major: d.Major,
		Minor: d.Minor,
		Nlink: d.Nlink,
		Size:  d.Size,
		Addrs: d.Addrs,
	}
}

// Unlock releases the sleep lock. Must be called exactly once per Lock.
func (g *Guard) Unlock() {
	g.ip.sleep.Unlock()
}

// Inode returns the locked inode's identity (dev, inum).
func (g *Guard) Inode() *Inode { return g.ip }

func (g *Guard) Typ() common.InodeType { return g.ip.inner.Typ }
func (g *Guard) Nlink() int16          { return g.ip.inner.Nlink }
func (g *Guard) Size() uint32          { return g.ip.inner.Size }
func (g *Guard) Major() uint16         { return g.ip.inner.Major }
func (g *Guard) Minor() uint16         { return g.ip.inner.Minor }

func (g *Guard) SetNlink(n int16)    { g.ip.inner.Nlink = n }
func (g *Guard) SetMajorMinor(maj, min uint16) {
	g.ip.inner.Major = maj
	g.ip.inner.Minor = min
}

// Update serializes the guard's in-core state back to its on-disk dinode
// slot and logs that write through tx. It must be called after every
// in-core change to a persisted field.
func (g *Guard) Update(tx *txlog.Txn) {
	buf, err := g.table.cache.Read(g.ip.Dev, g.table.sb.IBlock(g.ip.Inum))
	if err != nil {
		panic(err)
	}
	off := (g.ip.Inum % common.IPB) * common.DinodeSize
	d := common.Dinode{
		Typ:   g.ip.inner.Typ,
		Major: g.ip.inner.Major,
		Minor: g.ip.inner.Minor,
		Nlink: g.ip.inner.Nlink,
		Size:  g.ip.inner.Size,
		Addrs: g.ip.inner.Addrs,
	}
	d.Encode(buf.Data[off : off+common.DinodeSize])
	if err := tx.Write(buf); err != nil {
		panic(err)
	}
	g.table.cache.Release(buf)
}

// Bmap returns the disk block number holding the bn'th block of the file,
// allocating it (direct or, past NDIRECT, via the single indirect block)
// if absent. Allocation requires an active transaction (spec.md §4.F).
func (g *Guard) Bmap(tx *txlog.Txn, bn uint32) uint32 {
	if bn < common.NDIRECT {
		addr := g.ip.inner.Addrs[bn]
		if addr == 0 {
			addr = balloc.Alloc(tx, g.table.cache, g.table.sb, g.ip.Dev)
			g.ip.inner.Addrs[bn] = addr
		}
		return addr
	}

	bn -= common.NDIRECT
	if bn >= common.NINDIRECT {
		panic("inode: bmap out of range")
	}

	indirect := g.ip.inner.Addrs[common.NDIRECT]
	if indirect == 0 {
		indirect = balloc.Alloc(tx, g.table.cache, g.table.sb, g.ip.Dev)
		g.ip.inner.Addrs[common.NDIRECT] = indirect
	}

	ibuf, err := g.table.cache.Read(g.ip.Dev, indirect)
	if err != nil {
		panic(err)
	}
	off := bn * 4
	addr := decodeU32(ibuf.Data[off : off+4])
	if addr == 0 {
		addr = balloc.Alloc(tx, g.table.cache, g.table.sb, g.ip.Dev)
		encodeU32(ibuf.Data[off:off+4], addr)
		if err := tx.Write(ibuf); err != nil {
			panic(err)
		}
	}
	g.table.cache.Release(ibuf)
	return addr
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func encodeU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Read copies up to n bytes starting at off from the file into dst,
// clamped to the file's size. No log writes occur.
func (g *Guard) Read(dst common.UserIO, off, n uint32) (uint32, error) {
	size := g.ip.inner.Size
	if off > size || off+n < off {
		return 0, common.NewError("inode.read", common.CodeInvalid)
	}
	if off+n > size {
		n = size - off
	}

	var total uint32
	for total < n {
		bn := (off + total) / common.BSIZE
		boff := (off + total) % common.BSIZE
		addr := g.bmapReadOnly(bn)
		if addr == 0 {
			break
		}
		buf, err := g.table.cache.Read(g.ip.Dev, addr)
		if err != nil {
			return total, err
		}
		chunk := common.BSIZE - boff
		if remain := n - total; chunk > remain {
			chunk = remain
		}
		m, _ := dst.UioWrite(buf.Data[boff : boff+chunk])
		g.table.cache.Release(buf)
		total += uint32(m)
		if uint32(m) < chunk {
			break
		}
	}
	return total, nil
}

// bmapReadOnly resolves bn to a block number without allocating, returning
// 0 for holes (used by Read, which must never allocate).
func (g *Guard) bmapReadOnly(bn uint32) uint32 {
	if bn < common.NDIRECT {
		return g.ip.inner.Addrs[bn]
	}
	bn -= common.NDIRECT
	if bn >= common.NINDIRECT {
		return 0
	}
	indirect := g.ip.inner.Addrs[common.NDIRECT]
	if indirect == 0 {
		return 0
	}
	ibuf, err := g.table.cache.Read(g.ip.Dev, indirect)
	if err != nil {
		panic(err)
	}
	defer g.table.cache.Release(ibuf)
	off := bn * 4
	return decodeU32(ibuf.Data[off : off+4])
}

// Write copies n bytes from src into the file starting at off, allocating
// blocks as needed through tx, updating Size (and persisting the dinode)
// if the write extends the file. Returns the number of bytes actually
// written.
func (g *Guard) Write(tx *txlog.Txn, src common.UserIO, off, n uint32) (uint32, error) {
	size := g.ip.inner.Size
	if off > size {
		return 0, common.NewError("inode.write", common.CodeInvalid)
	}
	if off+n < off || off+n > common.MAXFILE*common.BSIZE {
		return 0, common.NewError("inode.write", common.CodeTooBig)
	}

	var total uint32
	for total < n {
		bn := (off + total) / common.BSIZE
		boff := (off + total) % common.BSIZE
		addr := g.Bmap(tx, bn)

		buf, err := g.table.cache.Read(g.ip.Dev, addr)
		if err != nil {
			return total, err
		}
		chunk := common.BSIZE - boff
		if remain := n - total; chunk > remain {
			chunk = remain
		}
		m, _ := src.UioRead(buf.Data[boff : boff+chunk])
		if err := tx.Write(buf); err != nil {
			g.table.cache.Release(buf)
			return total, err
		}
		g.table.cache.Release(buf)
		total += uint32(m)
		if uint32(m) < chunk {
			break
		}
	}

	if total > 0 && off+total > g.ip.inner.Size {
		g.ip.inner.Size = off + total
		g.Update(tx)
	}
	return total, nil
}

// Itrunc frees every block (direct and indirect) reachable from the
// inode, zeroes its address array, and resets Size to 0, persisting the
// change. Called by Put when Nlink drops to 0.
func (g *Guard) Itrunc(tx *txlog.Txn) {
	for i := 0; i < common.NDIRECT; i++ {
		if g.ip.inner.Addrs[i] != 0 {
			balloc.Free(tx, g.table.cache, g.table.sb, g.ip.Dev, g.ip.inner.Addrs[i])
			g.ip.inner.Addrs[i] = 0
		}
	}
	if indirect := g.ip.inner.Addrs[common.NDIRECT]; indirect != 0 {
		ibuf, err := g.table.cache.Read(g.ip.Dev, indirect)
		if err != nil {
			panic(err)
		}
		for i := 0; i < common.NINDIRECT; i++ {
			addr := decodeU32(ibuf.Data[i*4 : i*4+4])
			if addr != 0 {
				balloc.Free(tx, g.table.cache, g.table.sb, g.ip.Dev, addr)
			}
		}
		g.table.cache.Release(ibuf)
		balloc.Free(tx, g.table.cache, g.table.sb, g.ip.Dev, indirect)
		g.ip.inner.Addrs[common.NDIRECT] = 0
	}
	g.ip.inner.Size = 0
	g.Update(tx)
}

// Stat populates a metadata record from the guard's in-core state.
func (g *Guard) Stat() common.Stat {
	return common.Stat{
		Dev:   g.ip.Dev,
		Ino:   g.ip.Inum,
		Typ:   g.ip.inner.Typ,
		Nlink: g.ip.inner.Nlink,
		Size:  g.ip.inner.Size,
	}
}
