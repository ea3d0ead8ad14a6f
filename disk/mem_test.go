package disk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gokernel/corefs/common"
)

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	d := NewMemDevice(8)
	buf := make([]byte, common.BSIZE)
	buf[0] = 0x11
	require.NoError(t, d.WriteBlock(3, buf))

	out := make([]byte, common.BSIZE)
	require.NoError(t, d.ReadBlock(3, out))
	require.Equal(t, buf, out)
}

func TestMemDeviceRejectsOutOfRangeBlock(t *testing.T) {
	d := NewMemDevice(4)
	buf := make([]byte, common.BSIZE)
	require.Error(t, d.ReadBlock(4, buf))
	require.Error(t, d.WriteBlock(4, buf))
}

func TestMemDeviceRejectsShortBuffer(t *testing.T) {
	d := NewMemDevice(4)
	require.Error(t, d.WriteBlock(0, make([]byte, 4)))
}

func TestMemDeviceSnapshotRestore(t *testing.T) {
	d := NewMemDevice(4)
	buf := make([]byte, common.BSIZE)
	buf[0] = 0xAA
	require.NoError(t, d.WriteBlock(0, buf))

	snap := d.Snapshot()

	buf[0] = 0xBB
	require.NoError(t, d.WriteBlock(0, buf))

	out := make([]byte, common.BSIZE)
	require.NoError(t, d.ReadBlock(0, out))
	require.Equal(t, byte(0xBB), out[0])

	d.Restore(snap)
	require.NoError(t, d.ReadBlock(0, out))
	require.Equal(t, byte(0xAA), out[0])
}
