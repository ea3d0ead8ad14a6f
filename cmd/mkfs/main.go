// Command mkfs formats a new file system image: it lays out the
// superblock, inode, bitmap, and log regions and writes the root
// directory's "." and ".." entries. Grounded on distr1-distri's
// cmd/zi-style flag.String/flag.Parse CLI shape (zi.go).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gokernel/corefs/bcache"
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/disk"
	"github.com/gokernel/corefs/super"
)

var (
	path    = flag.String("path", "", "path to the image file to create")
	size    = flag.Uint("blocks", 1024, "total image size in blocks")
	ninodes = flag.Uint("inodes", 200, "number of inodes to allocate")
)

func main() {
	flag.Parse()
	if *path == "" {
		fmt.Fprintln(os.Stderr, "mkfs: -path is required")
		os.Exit(2)
	}
	if err := run(*path, uint32(*size), uint32(*ninodes)); err != nil {
		log.Fatalf("mkfs: %v", err)
	}
}

func run(path string, nblocks, ninodes uint32) error {
	dev, err := disk.CreateFileDevice(path, nblocks)
	if err != nil {
		return err
	}
	defer dev.Close()

	cache := bcache.New(dev, common.NBuf)

	nlog := uint32(common.LogSize)
	iblocks := (ninodes + common.IPB - 1) / common.IPB
	bmapBlocks := (nblocks + common.BPB - 1) / common.BPB

	sb := super.Superblock{
		Magic:      super.Magic(),
		Size:       nblocks,
		NBlocks:    nblocks,
		NInodes:    ninodes,
		NLog:       nlog,
		LogStart:   2,
		InodeStart: 2 + nlog,
		BmapStart:  2 + nlog + iblocks,
	}
	dataStart := sb.BmapStart + bmapBlocks
	if dataStart >= nblocks {
		return fmt.Errorf("mkfs: image too small for %d inodes (need >= %d blocks)", ninodes, dataStart+1)
	}
	sb.NBlocks = nblocks - dataStart

	if err := zeroRange(cache, 0, nblocks); err != nil {
		return err
	}

	sbuf, err := cache.Get(0, 1)
	if err != nil {
		return err
	}
	sb.Encode(sbuf.Data)
	if err := cache.Write(sbuf); err != nil {
		return err
	}
	cache.Release(sbuf)

	if err := markUsed(cache, &sb, 0, dataStart); err != nil {
		return err
	}

	if err := writeRootDir(cache, &sb, dataStart); err != nil {
		return err
	}

	return dev.Flush()
}

func zeroRange(cache *bcache.Cache, dev, n uint32) error {
	for b := uint32(0); b < n; b++ {
		buf, err := cache.Get(dev, b)
		if err != nil {
			return err
		}
		if err := cache.Write(buf); err != nil {
			cache.Release(buf)
			return err
		}
		cache.Release(buf)
	}
	return nil
}

// markUsed marks blocks [0, used) as allocated in the bitmap, covering the
// boot/super/log/inode/bitmap regions themselves so the allocator never
// hands them out.
func markUsed(cache *bcache.Cache, sb *super.Superblock, dev, used uint32) error {
	for b := uint32(0); b < used; b++ {
		buf, err := cache.Read(dev, sb.BBlock(b))
		if err != nil {
			return err
		}
		bi := int(b % common.BPB)
		buf.Data[bi/8] |= 1 << uint(bi%8)
		if err := cache.Write(buf); err != nil {
			cache.Release(buf)
			return err
		}
		cache.Release(buf)
	}
	return nil
}

// writeRootDir allocates inode 1 as a directory rooted at dataStart's first
// free block and writes its "." and ".." entries directly (mkfs runs before
// any log exists, so it writes home locations without a transaction).
func writeRootDir(cache *bcache.Cache, sb *super.Superblock, dataStart uint32) error {
	const rootInum = common.ROOTINO

	ibuf, err := cache.Read(0, sb.IBlock(rootInum))
	if err != nil {
		return err
	}
	off := (rootInum % common.IPB) * common.DinodeSize
	d := common.Dinode{Typ: common.TypeDir, Nlink: 1, Size: 2 * common.DirentSize}
	d.Addrs[0] = dataStart
	d.Encode(ibuf.Data[off : off+common.DinodeSize])
	if err := cache.Write(ibuf); err != nil {
		cache.Release(ibuf)
		return err
	}
	cache.Release(ibuf)

	bbuf, err := cache.Read(0, sb.BBlock(dataStart))
	if err != nil {
		return err
	}
	bi := int(dataStart % common.BPB)
	bbuf.Data[bi/8] |= 1 << uint(bi%8)
	if err := cache.Write(bbuf); err != nil {
		cache.Release(bbuf)
		return err
	}
	cache.Release(bbuf)

	dbuf, err := cache.Get(0, dataStart)
	if err != nil {
		return err
	}
	dot := common.Dirent{Inum: rootInum}
	dot.SetName(".")
	dotdot := common.Dirent{Inum: rootInum}
	dotdot.SetName("..")
	dot.Encode(dbuf.Data[0:common.DirentSize])
	dotdot.Encode(dbuf.Data[common.DirentSize : 2*common.DirentSize])
	if err := cache.Write(dbuf); err != nil {
		cache.Release(dbuf)
		return err
	}
	cache.Release(dbuf)
	return nil
}
