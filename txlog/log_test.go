package txlog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gokernel/corefs/bcache"
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/disk"
)

const (
	testLogStart = 1
	testLogSize  = 10*common.MaxOpBlocks + 2
	testDataBase = testLogStart + testLogSize
)

func newTestLog(t *testing.T, dev *disk.MemDevice) (*bcache.Cache, *Log) {
	t.Helper()
	cache := bcache.New(dev, int(dev.NBlocks()))
	l := New(0, testLogStart, testLogSize, cache, nil, nil)
	require.NoError(t, l.RecoverFromLog())
	return cache, l
}

func writeByte(t *testing.T, cache *bcache.Cache, l *Log, bno uint32, val byte) {
	t.Helper()
	tx := l.Begin()
	defer tx.Done()
	buf, err := cache.Get(0, bno)
	require.NoError(t, err)
	buf.Data[0] = val
	require.NoError(t, tx.Write(buf))
	cache.Release(buf)
}

func TestCommittedWriteIsDurable(t *testing.T) {
	dev := disk.NewMemDevice(testDataBase + 4)
	cache, l := newTestLog(t, dev)

	writeByte(t, cache, l, testDataBase, 0x42)

	raw := make([]byte, common.BSIZE)
	require.NoError(t, dev.ReadBlock(testDataBase, raw))
	require.Equal(t, byte(0x42), raw[0])
}

func TestGroupCommitBatchesConcurrentOps(t *testing.T) {
	dev := disk.NewMemDevice(testDataBase + testLogSize)
	cache, l := newTestLog(t, dev)

	const n = 5
	var wg sync.WaitGroup
	for i := uint32(0); i < n; i++ {
		wg.Add(1)
		go func(i uint32) {
			defer wg.Done()
			writeByte(t, cache, l, testDataBase+i, byte(i+1))
		}(i)
	}
	wg.Wait()

	for i := uint32(0); i < n; i++ {
		raw := make([]byte, common.BSIZE)
		require.NoError(t, dev.ReadBlock(testDataBase+i, raw))
		require.Equal(t, byte(i+1), raw[0])
	}
}

// TestRecoveryReplaysCommittedTransaction simulates a crash that lands
// after the commit point (writeHead landed) but before install_trans
// reached the home blocks: it hand-crafts a committed header and staged
// log blocks on a fresh device, then checks that opening a new Log over
// it replays the write.
func TestRecoveryReplaysCommittedTransaction(t *testing.T) {
	dev := disk.NewMemDevice(testDataBase + 4)
	cache := bcache.New(dev, int(dev.NBlocks()))

	h := &header{n: 1}
	h.block[0] = testDataBase

	hbuf, err := cache.Get(0, testLogStart)
	require.NoError(t, err)
	h.encode(hbuf.Data)
	require.NoError(t, cache.Write(hbuf))
	cache.Release(hbuf)

	lbuf, err := cache.Get(0, testLogStart+1)
	require.NoError(t, err)
	lbuf.Data[0] = 0x99
	require.NoError(t, cache.Write(lbuf))
	cache.Release(lbuf)

	// Home location still shows the old (pre-crash) value.
	raw := make([]byte, common.BSIZE)
	require.NoError(t, dev.ReadBlock(testDataBase, raw))
	require.NotEqual(t, byte(0x99), raw[0])

	l := New(0, testLogStart, testLogSize, cache, nil, nil)
	require.NoError(t, l.RecoverFromLog())

	require.NoError(t, dev.ReadBlock(testDataBase, raw))
	require.Equal(t, byte(0x99), raw[0])

	// The header must be cleared after replay so a second recovery is a
	// no-op.
	hbuf2, err := cache.Read(0, testLogStart)
	require.NoError(t, err)
	var h2 header
	h2.decode(hbuf2.Data)
	cache.Release(hbuf2)
	require.EqualValues(t, 0, h2.n)
}

func TestUncommittedCrashLeavesNoTrace(t *testing.T) {
	dev := disk.NewMemDevice(testDataBase + 4)
	cache, l := newTestLog(t, dev)

	snap := dev.Snapshot()

	tx := l.Begin()
	buf, err := cache.Get(0, testDataBase)
	require.NoError(t, err)
	buf.Data[0] = 0xEE
	require.NoError(t, tx.Write(buf))
	cache.Release(buf)
	// Simulate a crash before EndOp/commit: the home block and header are
	// reset to the pre-transaction snapshot, as if the process died with
	// the log's in-memory bufs lost.
	dev.Restore(snap)

	raw := make([]byte, common.BSIZE)
	require.NoError(t, dev.ReadBlock(testDataBase, raw))
	require.NotEqual(t, byte(0xEE), raw[0])

	// Reopening and recovering over the restored (clean) image is a no-op.
	cache2 := bcache.New(dev, int(dev.NBlocks()))
	l2 := New(0, testLogStart, testLogSize, cache2, nil, nil)
	require.NoError(t, l2.RecoverFromLog())
	require.NoError(t, dev.ReadBlock(testDataBase, raw))
	require.NotEqual(t, byte(0xEE), raw[0])
}

func TestWriteWithoutBeginOpPanics(t *testing.T) {
	dev := disk.NewMemDevice(testDataBase + 1)
	cache := bcache.New(dev, int(dev.NBlocks()))
	l := New(0, testLogStart, testLogSize, cache, nil, nil)

	require.Panics(t, func() {
		buf, _ := cache.Get(0, testDataBase)
		_ = l.Write(buf)
	})
}
