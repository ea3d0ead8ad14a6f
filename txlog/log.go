// Package txlog implements the write-ahead redo log: group commit of block
// writes from multiple concurrent file-system operations into one atomic
// transaction, with crash recovery (spec.md §4.C, §4.D). Grounded on rv6
// fs/log.rs (exact state machine: outstanding/committing, the
// begin_op/end_op admission and commit protocol, and the single commit
// point at the first write_head of a commit).
package txlog

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gokernel/corefs/bcache"
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/logging"
	"github.com/gokernel/corefs/metrics"
)

// Log is the group-commit write-ahead log for one device. Its lock
// protects outstanding/committing/bufs; during commit the lock is released
// so that buffer-cache I/O may sleep, with committing itself acting as the
// gate that excludes new operations and concurrent commits (spec.md §4.C
// "Concurrency").
type Log struct {
	cache *bcache.Cache
	log   *logging.Logger
	met   *metrics.Counters

	mu          sync.Mutex
	cond        *sync.Cond
	dev         uint32
	start       uint32
	size        uint32
	outstanding int32
	committing  bool
	bufs        []*bcache.Buf
}

// New creates a Log for dev's reserved log region [start, start+size).
// Callers must call RecoverFromLog once at boot before admitting any
// operations.
func New(dev, start, size uint32, cache *bcache.Cache, log *logging.Logger, met *metrics.Counters) *Log {
	if log == nil {
		log = logging.Default()
	}
	l := &Log{cache: cache, dev: dev, start: start, size: size, log: log, met: met}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// RecoverFromLog replays any committed-but-uninstalled transaction found in
// the on-disk header, then clears the header. Safe to call on a clean log.
// The n logged blocks are read from the log region concurrently (via
// golang.org/x/sync/errgroup) since reads are independent; the subsequent
// writes to home locations are serialized, preserving the "single writer
// during install" property.
func (l *Log) RecoverFromLog() error {
	hdr, err := l.readHead()
	if err != nil {
		return err
	}
	if hdr.n == 0 {
		return nil
	}

	n := int(hdr.n)
	staged := make([][common.BSIZE]byte, n)

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			lb, err := l.cache.Read(l.dev, l.start+uint32(i)+1)
			if err != nil {
				return err
			}
			copy(staged[i][:], lb.Data)
			l.cache.Release(lb)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		hb, err := l.cache.Get(l.dev, hdr.block[i])
		if err != nil {
			return err
		}
		copy(hb.Data, staged[i][:])
		if err := l.cache.Write(hb); err != nil {
			l.cache.Release(hb)
			return err
		}
		l.cache.Release(hb)
	}

	if l.met != nil {
		l.met.Recoveries.Add(1)
		l.met.RecoveredBlocks.Add(uint64(n))
	}
	l.log.Info("log recovered", "blocks", n)

	return l.writeHeadRaw(&header{})
}

// BeginOp admits one FS operation into the current transaction, blocking
// while a commit is in progress or while admitting it might exceed the
// log's worst-case capacity.
func (l *Log) BeginOp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		full := int32(len(l.bufs))+(l.outstanding+1)*common.MaxOpBlocks > int32(l.size)
		if l.committing || full {
			l.cond.Wait()
			continue
		}
		l.outstanding++
		return
	}
}

// Write records buf's current contents into the active transaction. The
// caller must hold buf locked/owned for the duration of the call. Write
// pins an extra reference on buf so it survives until the log installs it,
// independent of the caller's own Release.
func (l *Log) Write(buf *bcache.Buf) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.outstanding < 1 {
		panic("txlog: write outside of transaction")
	}
	if len(l.bufs) >= common.LogSize || int32(len(l.bufs)) >= int32(l.size)-1 {
		panic("txlog: too big a transaction")
	}

	for _, b := range l.bufs {
		if b.Dev == buf.Dev && b.Blockno == buf.Blockno {
			copy(b.Data, buf.Data)
			return nil
		}
	}

	l.cache.Pin(buf)
	l.bufs = append(l.bufs, buf)
	return nil
}

// EndOp ends one FS operation. If it was the last outstanding operation,
// EndOp performs the group commit.
func (l *Log) EndOp() {
	l.mu.Lock()
	l.outstanding--
	if l.committing {
		panic("txlog: end_op during commit")
	}

	doCommit := false
	if l.outstanding == 0 {
		l.committing = true
		doCommit = true
	}
	l.mu.Unlock()

	if doCommit {
		l.commit()
		l.mu.Lock()
		l.committing = false
		l.mu.Unlock()
	}

	l.mu.Lock()
	l.cond.Broadcast()
	l.mu.Unlock()
}

// commit runs the group-commit sequence. It is only ever called with
// outstanding == 0 and committing == true, which excludes every other
// accessor of bufs for its duration (spec.md §4.C "Commit sequence").
func (l *Log) commit() {
	l.mu.Lock()
	bufs := l.bufs
	l.mu.Unlock()

	if len(bufs) == 0 {
		return
	}

	l.writeLog(bufs)
	// The commit point: once this header write lands, recovery will
	// replay these blocks even across a crash. Flush forces it past the
	// OS page cache on a disk.FileDevice backend, since WriteBlock alone
	// does not guarantee durability there.
	if err := l.writeHead(bufs); err != nil {
		panic(err)
	}
	if err := l.cache.Flush(); err != nil {
		panic(err)
	}
	l.installTrans(bufs)
	if err := l.writeHeadRaw(&header{}); err != nil {
		panic(err)
	}

	l.mu.Lock()
	for _, b := range bufs {
		l.cache.Release(b)
	}
	l.bufs = nil
	l.mu.Unlock()

	if l.met != nil {
		l.met.Commits.Add(1)
		l.met.BlocksInstalled.Add(uint64(len(bufs)))
	}
	l.log.Debug("commit", "blocks", len(bufs))
}

func (l *Log) writeLog(bufs []*bcache.Buf) {
	for i, b := range bufs {
		lb, err := l.cache.Get(l.dev, l.start+uint32(i)+1)
		if err != nil {
			panic(err)
		}
		copy(lb.Data, b.Data)
		if err := l.cache.Write(lb); err != nil {
			panic(err)
		}
		l.cache.Release(lb)
	}
	if l.met != nil {
		l.met.BlocksLogged.Add(uint64(len(bufs)))
	}
}

func (l *Log) writeHead(bufs []*bcache.Buf) error {
	h := &header{n: uint32(len(bufs))}
	for i, b := range bufs {
		h.block[i] = b.Blockno
	}
	return l.writeHeadRaw(h)
}

func (l *Log) writeHeadRaw(h *header) error {
	hb, err := l.cache.Get(l.dev, l.start)
	if err != nil {
		return err
	}
	h.encode(hb.Data)
	if err := l.cache.Write(hb); err != nil {
		l.cache.Release(hb)
		return err
	}
	l.cache.Release(hb)
	return nil
}

func (l *Log) readHead() (*header, error) {
	hb, err := l.cache.Read(l.dev, l.start)
	if err != nil {
		return nil, err
	}
	defer l.cache.Release(hb)
	h := &header{}
	h.decode(hb.Data)
	return h, nil
}

// installTrans copies each recorded buffer from its log slot to its home
// location, then drops the log's pin on it.
func (l *Log) installTrans(bufs []*bcache.Buf) {
	for i, b := range bufs {
		lb, err := l.cache.Read(l.dev, l.start+uint32(i)+1)
		if err != nil {
			panic(err)
		}
		home, err := l.cache.Get(l.dev, b.Blockno)
		if err != nil {
			panic(err)
		}
		copy(home.Data, lb.Data)
		if err := l.cache.Write(home); err != nil {
			panic(err)
		}
		l.cache.Release(home)
		l.cache.Release(lb)
	}
}
