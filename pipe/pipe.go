// Package pipe implements a bounded in-memory byte queue with blocking
// read/write and half-close (spec.md §4.H). Grounded on the teacher's
// circbuf_t ring-buffer shape (main.go: head/tail indices, full/empty/
// left/used) generalized from a one-shot user-copy buffer into a blocking
// producer/consumer queue, with sleep/wake modeled as sync.Cond since no
// corpus library supplies condition variables for this and it is
// intrinsic concurrency control, not I/O (see DESIGN.md).
package pipe

import (
	"sync"

	"github.com/gokernel/corefs/common"
)

// PipeSize is the ring capacity in bytes, analogous to a page-sized pipe
// buffer in the original kernel.
const PipeSize = 512

// Pipe is a bounded byte ring shared by a reader and a writer half.
type Pipe struct {
	mu        sync.Mutex
	readCond  *sync.Cond
	writeCond *sync.Cond
	data      [PipeSize]byte
	nread     uint64
	nwrite    uint64
	readOpen  bool
	writeOpen bool
}

// New creates an open pipe with both ends live.
func New() *Pipe {
	p := &Pipe{readOpen: true, writeOpen: true}
	p.readCond = sync.NewCond(&p.mu)
	p.writeCond = sync.NewCond(&p.mu)
	return p
}

func (p *Pipe) occupancy() uint64 { return p.nwrite - p.nread }

// Read blocks while the ring is empty and the write end is still open,
// then copies up to len(dst) bytes out, advances nread, and wakes
// writers. A write-end closed with an empty buffer yields 0 (EOF).
// killed, if non-nil, is polled to support aborting a blocked read when
// the calling process is killed (spec.md §5 "Cancellation").
func (p *Pipe) Read(dst []byte, killed func() bool) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.occupancy() == 0 && p.writeOpen {
		if killed != nil && killed() {
			return 0, common.NewError("pipe.read", common.CodeInterrupted)
		}
		p.readCond.Wait()
	}
	if killed != nil && killed() {
		return 0, common.NewError("pipe.read", common.CodeInterrupted)
	}

	n := 0
	for n < len(dst) && p.occupancy() > 0 {
		dst[n] = p.data[p.nread%PipeSize]
		p.nread++
		n++
	}
	p.writeCond.Broadcast()
	return n, nil
}

// Write blocks while the ring is full and the read end remains open,
// writing one byte at a time (waking readers as it goes) until all of src
// is written or the read end closes / the process is killed, in which
// case it returns an error.
func (p *Pipe) Write(src []byte, killed func() bool) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for n < len(src) {
		if !p.readOpen || (killed != nil && killed()) {
			return n, common.NewError("pipe.write", common.CodePipeClosed)
		}
		if p.occupancy() == PipeSize {
			p.readCond.Broadcast()
			p.writeCond.Wait()
			continue
		}
		p.data[p.nwrite%PipeSize] = src[n]
		p.nwrite++
		n++
	}
	p.readCond.Broadcast()
	return n, nil
}

// Close marks one half closed, wakes the peer, and reports whether both
// halves are now closed (so the caller can release the Pipe).
func (p *Pipe) Close(writeEnd bool) (bothClosed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if writeEnd {
		p.writeOpen = false
	} else {
		p.readOpen = false
	}
	p.readCond.Broadcast()
	p.writeCond.Broadcast()
	return !p.readOpen && !p.writeOpen
}
