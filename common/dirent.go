package common

import "encoding/binary"

// Dirent is one directory entry on disk: a 2-byte little-endian inode
// number followed by a DIRSIZ-byte, NUL-padded name. Inum == 0 marks a
// free slot.
type Dirent struct {
	Inum uint16
	Name [DIRSIZ]byte
}

// Encode serializes d into a DirentSize-byte record.
func (d *Dirent) Encode(b []byte) {
	_ = b[DirentSize-1]
	binary.LittleEndian.PutUint16(b[0:2], d.Inum)
	copy(b[2:DirentSize], d.Name[:])
}

// Decode populates d from a DirentSize-byte record.
func (d *Dirent) Decode(b []byte) {
	_ = b[DirentSize-1]
	d.Inum = binary.LittleEndian.Uint16(b[0:2])
	var name [DIRSIZ]byte
	copy(name[:], b[2:DirentSize])
	d.Name = name
}

// NameString returns the entry's name with trailing NUL padding stripped.
func (d *Dirent) NameString() string {
	n := 0
	for n < DIRSIZ && d.Name[n] != 0 {
		n++
	}
	return string(d.Name[:n])
}

// SetName copies name into the fixed-size field, truncating at DIRSIZ.
func (d *Dirent) SetName(name string) {
	var buf [DIRSIZ]byte
	copy(buf[:], name)
	d.Name = buf
}
