package inode

import (
	"strings"

	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/txlog"
)

// skipElem splits the next '/'-separated component off path, skipping
// leading slashes and any empty components, mirroring xv6's skipelem and
// the rv6 fs/path.rs component-splitting rules spec.md §3 supplements.
func skipElem(path string) (elem, rest string) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", ""
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return path, ""
	}
	elem = path[:i]
	rest = path[i:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return elem, rest
}

// namex walks path component by component starting from root (absolute
// paths) or cwd (relative paths), locking and unlocking each directory in
// turn (spec.md §4.G). If parentOnly, it stops one level early and returns
// the parent directory plus the final component's name instead of
// resolving it.
func (t *Table) namex(tx *txlog.Txn, dev uint32, cwd *Inode, path string, parentOnly bool) (*Inode, string, error) {
	var ip *Inode
	if strings.HasPrefix(path, "/") {
		var err error
		ip, err = t.Get(dev, common.ROOTINO)
		if err != nil {
			return nil, "", err
		}
	} else {
		if cwd == nil {
			return nil, "", common.NewPathError("namei", path, common.CodeBadPath)
		}
		ip = t.Dup(cwd)
	}

	elem, rest := skipElem(path)
	for elem != "" {
		g := t.lockGuard(ip)
		if g.Typ() != common.TypeDir {
			g.Unlock()
			t.Put(tx, ip)
			return nil, "", common.NewPathError("namei", path, common.CodeNotDir)
		}

		if parentOnly && rest == "" {
			g.Unlock()
			return ip, elem, nil
		}

		next, _, err := g.DirLookup(elem)
		g.Unlock()
		if err != nil {
			t.Put(tx, ip)
			return nil, "", common.NewPathError("namei", path, common.CodeNotFound)
		}
		t.Put(tx, ip)
		ip = next
		elem, rest = skipElem(rest)
	}

	if parentOnly {
		t.Put(tx, ip)
		return nil, "", common.NewPathError("nameiparent", path, common.CodeBadPath)
	}
	return ip, "", nil
}

// Namei resolves path to its inode.
func (t *Table) Namei(tx *txlog.Txn, dev uint32, cwd *Inode, path string) (*Inode, error) {
	ip, _, err := t.namex(tx, dev, cwd, path, false)
	return ip, err
}

// NameiParent resolves path's parent directory and returns it along with
// the final path component, without looking that component up.
func (t *Table) NameiParent(tx *txlog.Txn, dev uint32, cwd *Inode, path string) (*Inode, string, error) {
	return t.namex(tx, dev, cwd, path, true)
}
