package common

import "encoding/binary"

// Dinode is the on-disk inode record (spec.md §3). addrs[NDIRECT] is the
// block number of the single indirect block; addrs[:NDIRECT] are direct
// block pointers. Typ == TypeFree marks the slot unused.
type Dinode struct {
	Typ   InodeType
	Major uint16
	Minor uint16
	Nlink int16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

// Encode serializes d into a DinodeSize-byte little-endian record.
func (d *Dinode) Encode(b []byte) {
	_ = b[DinodeSize-1]
	binary.LittleEndian.PutUint16(b[0:2], uint16(d.Typ))
	binary.LittleEndian.PutUint16(b[2:4], d.Major)
	binary.LittleEndian.PutUint16(b[4:6], d.Minor)
	binary.LittleEndian.PutUint16(b[6:8], uint16(d.Nlink))
	binary.LittleEndian.PutUint32(b[8:12], d.Size)
	off := 12
	for i := 0; i < NDIRECT+1; i++ {
		binary.LittleEndian.PutUint32(b[off:off+4], d.Addrs[i])
		off += 4
	}
}

// Decode populates d from a DinodeSize-byte little-endian record.
func (d *Dinode) Decode(b []byte) {
	_ = b[DinodeSize-1]
	d.Typ = InodeType(binary.LittleEndian.Uint16(b[0:2]))
	d.Major = binary.LittleEndian.Uint16(b[2:4])
	d.Minor = binary.LittleEndian.Uint16(b[4:6])
	d.Nlink = int16(binary.LittleEndian.Uint16(b[6:8]))
	d.Size = binary.LittleEndian.Uint32(b[8:12])
	off := 12
	for i := 0; i < NDIRECT+1; i++ {
		d.Addrs[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
}

// Stat is the metadata record returned by fstat (spec.md §4.F).
type Stat struct {
	Dev   uint32
	Ino   uint32
	Typ   InodeType
	Nlink int16
	Size  uint32
}
