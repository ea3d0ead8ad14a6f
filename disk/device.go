// Package disk implements the raw block device underneath the block cache.
// The spec treats "the raw disk driver" as an external collaborator; this
// package supplies the two concrete stand-ins a hosted build needs: a
// single fixed-size image file (grounded on the teacher fork's ahci_disk_t
// in ufs-driver.go, which simulates a disk with an *os.File) and an
// in-memory device for tests (grounded on go-ublk/backend/mem.go's sharded
// Memory backend).
package disk

import "github.com/gokernel/corefs/common"

// Device is the contract the block cache needs from the physical layer:
// whole-block reads and writes addressed by block number, plus a durability
// barrier. Device implementations do their own internal locking; callers
// may call ReadBlock/WriteBlock concurrently from different goroutines.
type Device interface {
	// ReadBlock reads exactly BSIZE bytes for block bno into dst.
	ReadBlock(bno uint32, dst []byte) error
	// WriteBlock writes exactly BSIZE bytes from src to block bno.
	WriteBlock(bno uint32, src []byte) error
	// Flush forces previously written blocks to durable storage.
	Flush() error
	// NBlocks returns the device's total size in BSIZE blocks.
	NBlocks() uint32
	// Close releases any OS resources held by the device.
	Close() error
}

func checkBlockLen(buf []byte) error {
	if len(buf) != common.BSIZE {
		return common.NewError("disk", common.CodeInvalid)
	}
	return nil
}
