package vfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/pipe"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	return NewTable(NewDevTable(), nil)
}

func TestAllocAndCloseRecyclesSlot(t *testing.T) {
	tbl := newTestTable(t)

	f, err := tbl.Alloc()
	require.NoError(t, err)
	f.Kind = KindPipe
	f.Pipe = pipe.New()
	f.Readable = true
	f.Writable = true

	tbl.Close(nil, f)
	require.Equal(t, 0, f.ref)

	f2, err := tbl.Alloc()
	require.NoError(t, err)
	require.Same(t, f, f2)
}

func TestDupSharesUnderlyingPipe(t *testing.T) {
	tbl := newTestTable(t)

	f, err := tbl.Alloc()
	require.NoError(t, err)
	f.Kind, f.Pipe, f.Readable, f.Writable = KindPipe, pipe.New(), true, true

	dup := tbl.Dup(f)
	require.Same(t, f, dup)

	tbl.Close(nil, f)
	require.Equal(t, KindPipe, f.Kind, "pipe must stay open while a duplicate reference remains")

	tbl.Close(nil, f)
	require.Equal(t, KindNone, f.Kind)
}

func TestReadWriteThroughPipeFile(t *testing.T) {
	tbl := newTestTable(t)
	p := pipe.New()

	rf, err := tbl.Alloc()
	require.NoError(t, err)
	rf.Kind, rf.Pipe, rf.Readable = KindPipe, p, true

	wf, err := tbl.Alloc()
	require.NoError(t, err)
	wf.Kind, wf.Pipe, wf.Writable = KindPipe, p, true

	n, err := wf.Write(tbl, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	dst := make([]byte, 4)
	n, err = rf.Read(tbl, dst)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "ping", string(dst))
}

func TestReadFailsWhenNotReadable(t *testing.T) {
	tbl := newTestTable(t)
	f, err := tbl.Alloc()
	require.NoError(t, err)
	f.Kind, f.Pipe, f.Writable = KindPipe, pipe.New(), true

	_, err = f.Read(tbl, make([]byte, 1))
	require.Error(t, err)
	require.True(t, common.IsCode(err, common.CodePermission))
}

func TestDescriptorsFdAllocAndClose(t *testing.T) {
	var fds Descriptors
	f := &File{}

	fd, err := fds.FdAlloc(f)
	require.NoError(t, err)
	require.Equal(t, 0, fd)

	got, err := fds.Get(fd)
	require.NoError(t, err)
	require.Same(t, f, got)

	closed, err := fds.Close(fd)
	require.NoError(t, err)
	require.Same(t, f, closed)

	_, err = fds.Get(fd)
	require.Error(t, err)
}

func TestDescriptorsExhaustion(t *testing.T) {
	var fds Descriptors
	for i := 0; i < common.NOFILE; i++ {
		_, err := fds.FdAlloc(&File{})
		require.NoError(t, err)
	}
	_, err := fds.FdAlloc(&File{})
	require.Error(t, err)
	require.True(t, common.IsCode(err, common.CodeOutOfTables))
}

func TestDevTableReadWrite(t *testing.T) {
	devs := NewDevTable()
	var written []byte
	devs.Register(7, &Dev{
		Write: func(src []byte) (int, error) {
			written = append(written, src...)
			return len(src), nil
		},
	})

	tbl := NewTable(devs, nil)
	f, err := tbl.Alloc()
	require.NoError(t, err)
	f.Kind, f.Major, f.Writable = KindDevice, 7, true

	n, err := f.Write(tbl, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "hi", string(written))
}
