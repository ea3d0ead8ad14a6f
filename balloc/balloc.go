// Package balloc implements the bitmap-based free-block allocator
// (spec.md §4.B): scan the data bitmap in BPB-bit chunks, flip the first
// free bit, zero the target block, both writes going through the active
// transaction. Grounded on rv6 fs/mod.rs's balloc/bfree (exact algorithm).
package balloc

import (
	"github.com/gokernel/corefs/bcache"
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/super"
)

// TxWriter is the subset of the transaction handle the allocator needs:
// record a dirtied buffer into the active log transaction. Satisfied by
// *txlog.Txn; kept as a local interface to avoid balloc depending on
// txlog (txlog depends on bcache, not the other way around).
type TxWriter interface {
	Write(b *bcache.Buf) error
}

// Alloc scans dev's bitmap for the first free block, marks it used, zeroes
// it, and returns its block number. Both writes happen through tx. Alloc
// panics if the device has no free block, per spec.md §4.B ("failure is
// fatal").
func Alloc(tx TxWriter, cache *bcache.Cache, sb *super.Superblock, dev uint32) uint32 {
	for b := uint32(0); b < sb.Size; b += common.BPB {
		bp, err := cache.Read(dev, sb.BBlock(b))
		if err != nil {
			panic(err)
		}

		limit := common.BPB
		if sb.Size-b < common.BPB {
			limit = int(sb.Size - b)
		}

		for bi := 0; bi < limit; bi++ {
			m := byte(1 << (uint(bi) % 8))
			idx := bi / 8
			if bp.Data[idx]&m == 0 {
				bp.Data[idx] |= m
				if err := tx.Write(bp); err != nil {
					panic(err)
				}
				cache.Release(bp)

				bno := b + uint32(bi)
				zeroBlock(tx, cache, dev, bno)
				return bno
			}
		}
		cache.Release(bp)
	}
	panic("balloc: out of blocks")
}

func zeroBlock(tx TxWriter, cache *bcache.Cache, dev, bno uint32) {
	buf, err := cache.Get(dev, bno)
	if err != nil {
		panic(err)
	}
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	if err := tx.Write(buf); err != nil {
		panic(err)
	}
	cache.Release(buf)
}

// Free clears b's bitmap bit through tx. Freeing an already-free block is a
// fatal invariant violation (spec.md §4.B, §7 class 3): it panics rather
// than returning an error.
func Free(tx TxWriter, cache *bcache.Cache, sb *super.Superblock, dev, b uint32) {
	bp, err := cache.Read(dev, sb.BBlock(b))
	if err != nil {
		panic(err)
	}
	defer cache.Release(bp)

	bi := int(b % common.BPB)
	m := byte(1 << (uint(bi) % 8))
	idx := bi / 8
	if bp.Data[idx]&m == 0 {
		panic("balloc: freeing free block")
	}
	bp.Data[idx] &^= m
	if err := tx.Write(bp); err != nil {
		panic(err)
	}
}
