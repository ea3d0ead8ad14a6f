package txlog

import (
	"encoding/binary"

	"github.com/gokernel/corefs/common"
)

// header mirrors the on-disk log header: a block count n followed by n
// block numbers, zero-padded to LogSize entries (spec.md §3, §6).
type header struct {
	n     uint32
	block [common.LogSize]uint32
}

func (h *header) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.n)
	off := 4
	for i := 0; i < common.LogSize; i++ {
		binary.LittleEndian.PutUint32(b[off:off+4], h.block[i])
		off += 4
	}
}

func (h *header) decode(b []byte) {
	h.n = binary.LittleEndian.Uint32(b[0:4])
	off := 4
	for i := 0; i < common.LogSize; i++ {
		h.block[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
}
