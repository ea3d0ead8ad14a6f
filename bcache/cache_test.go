package bcache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/disk"
	"github.com/gokernel/corefs/metrics"
)

func TestReadMissThenHit(t *testing.T) {
	dev := disk.NewMemDevice(16)
	met := metrics.New()
	c := New(dev, 4)
	c.SetMetrics(met)

	src := make([]byte, common.BSIZE)
	src[0] = 0xAB
	require.NoError(t, dev.WriteBlock(3, src))

	buf, err := c.Read(0, 3)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), buf.Data[0])
	c.Release(buf)

	buf2, err := c.Read(0, 3)
	require.NoError(t, err)
	c.Release(buf2)

	snap := met.Snapshot()
	require.EqualValues(t, 1, snap.CacheMisses)
	require.EqualValues(t, 1, snap.CacheHits)
}

func TestWritePersistsToDevice(t *testing.T) {
	dev := disk.NewMemDevice(16)
	c := New(dev, 4)

	buf, err := c.Get(0, 5)
	require.NoError(t, err)
	buf.Data[0] = 0x7F
	require.NoError(t, c.Write(buf))
	c.Release(buf)

	raw := make([]byte, common.BSIZE)
	require.NoError(t, dev.ReadBlock(5, raw))
	require.Equal(t, byte(0x7F), raw[0])
}

func TestEvictionPicksUnreferencedSlot(t *testing.T) {
	dev := disk.NewMemDevice(16)
	c := New(dev, 2)

	b0, err := c.Get(0, 0)
	require.NoError(t, err)
	c.Release(b0)

	b1, err := c.Get(0, 1)
	require.NoError(t, err)
	c.Release(b1)

	// Both slots now hold unreferenced blocks 0 and 1; a third distinct
	// block must evict one of them rather than fail.
	b2, err := c.Get(0, 2)
	require.NoError(t, err)
	c.Release(b2)
}

func TestGetFailsWhenEveryEntryIsPinned(t *testing.T) {
	dev := disk.NewMemDevice(16)
	c := New(dev, 2)

	b0, err := c.Get(0, 0)
	require.NoError(t, err)
	b1, err := c.Get(0, 1)
	require.NoError(t, err)

	_, err = c.Get(0, 2)
	require.Error(t, err)
	require.True(t, common.IsCode(err, common.CodeOutOfTables))

	c.Release(b0)
	c.Release(b1)
}

func TestConcurrentMissesAreBounded(t *testing.T) {
	dev := disk.NewMemDevice(64)
	c := New(dev, 32)

	var wg sync.WaitGroup
	for i := uint32(0); i < 32; i++ {
		wg.Add(1)
		go func(bno uint32) {
			defer wg.Done()
			buf, err := c.Read(0, bno)
			require.NoError(t, err)
			c.Release(buf)
		}(i)
	}
	wg.Wait()
}
