package disk

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/gokernel/corefs/common"
)

// FileDevice backs a Device with a single regular file, sized to an exact
// multiple of BSIZE. Grounded on the teacher fork's ahci_disk_t
// (ufs-driver.go), which seeks an *os.File and does whole-block
// ReadAt/WriteAt under a mutex; this version additionally takes an
// exclusive advisory lock on Open (via golang.org/x/sys/unix.Flock) so two
// FileSystem instances never share one image uncoordinated, and syncs with
// unix.Fdatasync instead of the portable-but-heavier f.Sync(), since only
// data (not metadata) durability is required for the commit point.
type FileDevice struct {
	f       *os.File
	nblocks uint32
}

// OpenFileDevice opens (without creating) an existing image file whose size
// is a whole number of BSIZE blocks, takes an exclusive lock on it, and
// derives the device's block count from that size.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, common.WrapError("disk.open", common.CodeInvalid, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, common.WrapError("disk.open", common.CodePermission, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.WrapError("disk.open", common.CodeInvalid, err)
	}
	if fi.Size()%common.BSIZE != 0 {
		f.Close()
		return nil, common.NewError("disk.open", common.CodeInvalid)
	}
	return &FileDevice{f: f, nblocks: uint32(fi.Size() / common.BSIZE)}, nil
}

// CreateFileDevice creates a new zero-filled image of nblocks blocks and
// takes an exclusive lock on it, for use by mkfs.
func CreateFileDevice(path string, nblocks uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, common.WrapError("disk.create", common.CodeInvalid, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, common.WrapError("disk.create", common.CodePermission, err)
	}
	if err := f.Truncate(int64(nblocks) * common.BSIZE); err != nil {
		f.Close()
		return nil, common.WrapError("disk.create", common.CodeInvalid, err)
	}
	return &FileDevice{f: f, nblocks: nblocks}, nil
}

func (d *FileDevice) NBlocks() uint32 { return d.nblocks }

func (d *FileDevice) ReadBlock(bno uint32, dst []byte) error {
	if err := checkBlockLen(dst); err != nil {
		return err
	}
	if bno >= d.nblocks {
		return common.NewError("disk.read", common.CodeInvalid)
	}
	if _, err := d.f.ReadAt(dst, int64(bno)*common.BSIZE); err != nil {
		return common.WrapError("disk.read", common.CodeInvalid, err)
	}
	return nil
}

func (d *FileDevice) WriteBlock(bno uint32, src []byte) error {
	if err := checkBlockLen(src); err != nil {
		return err
	}
	if bno >= d.nblocks {
		return common.NewError("disk.write", common.CodeInvalid)
	}
	if _, err := d.f.WriteAt(src, int64(bno)*common.BSIZE); err != nil {
		return common.WrapError("disk.write", common.CodeInvalid, err)
	}
	return nil
}

func (d *FileDevice) Flush() error {
	if err := unix.Fdatasync(int(d.f.Fd())); err != nil {
		return common.WrapError("disk.flush", common.CodeInvalid, err)
	}
	return nil
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}
