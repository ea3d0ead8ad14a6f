package inode

import (
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/txlog"
)

// DirLookup scans a directory for name, returning the matching entry's
// inode and its byte offset within the directory. It panics if the guard
// does not hold a directory (spec.md §4.G).
func (g *Guard) DirLookup(name string) (*Inode, uint32, error) {
	if g.ip.inner.Typ != common.TypeDir {
		panic("inode: dirlookup of non-directory")
	}

	// Names are compared bytewise up to DIRSIZ, the length a Dirent stores.
	if len(name) > common.DIRSIZ {
		name = name[:common.DIRSIZ]
	}

	var de common.Dirent
	buf := make([]byte, common.DirentSize)
	for off := uint32(0); off < g.ip.inner.Size; off += common.DirentSize {
		n, err := g.Read(common.NewKernelBuf(buf), off, common.DirentSize)
		if err != nil {
			return nil, 0, err
		}
		if n != common.DirentSize {
			panic("inode: dirlookup short read")
		}
		de.Decode(buf)
		if de.Inum == 0 {
			continue
		}
		if de.NameString() == name {
			ip, err := g.table.Get(g.ip.Dev, uint32(de.Inum))
			return ip, off, err
		}
	}
	return nil, 0, common.NewPathError("dirlookup", name, common.CodeNotFound)
}

// DirLink writes a new entry (name -> inum) into the first free slot of
// the directory, extending it if necessary. It fails if name already
// exists.
func (g *Guard) DirLink(tx *txlog.Txn, name string, inum uint32) error {
	if _, _, err := g.DirLookup(name); err == nil {
		return common.NewPathError("dirlink", name, common.CodeExists)
	}

	var de common.Dirent
	buf := make([]byte, common.DirentSize)
	var off uint32
	found := false
	for off = 0; off < g.ip.inner.Size; off += common.DirentSize {
		n, err := g.Read(common.NewKernelBuf(buf), off, common.DirentSize)
		if err != nil {
			return err
		}
		if n != common.DirentSize {
			panic("inode: dirlink short read")
		}
		de.Decode(buf)
		if de.Inum == 0 {
			found = true
			break
		}
	}
	if !found {
		off = g.ip.inner.Size
	}

	de = common.Dirent{Inum: uint16(inum)}
	de.SetName(name)
	de.Encode(buf)
	n, err := g.Write(tx, common.NewKernelBuf(buf), off, common.DirentSize)
	if err != nil {
		return err
	}
	if n != common.DirentSize {
		panic("inode: dirlink short write")
	}
	return nil
}

// IsDirEmpty reports whether every entry other than "." and ".." is free.
func (g *Guard) IsDirEmpty() bool {
	var de common.Dirent
	buf := make([]byte, common.DirentSize)
	for off := uint32(2 * common.DirentSize); off < g.ip.inner.Size; off += common.DirentSize {
		n, err := g.Read(common.NewKernelBuf(buf), off, common.DirentSize)
		if err != nil || n != common.DirentSize {
			panic("inode: isdirempty short read")
		}
		de.Decode(buf)
		if de.Inum != 0 {
			return false
		}
	}
	return true
}
