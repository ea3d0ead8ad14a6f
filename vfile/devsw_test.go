package vfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsoleWriteFlushesToSink(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)

	n, err := c.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", out.String())
}

func TestConsoleReadServesFedLines(t *testing.T) {
	c := NewConsole(&bytes.Buffer{})
	c.Feed([]byte("ls -la\n"))

	dst := make([]byte, 32)
	n, err := c.Read(dst)
	require.NoError(t, err)
	require.Equal(t, "ls -la\n", string(dst[:n]))
}

func TestConsoleAsDevRegistersBothDirections(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	devs := NewDevTable()
	devs.Register(1, c.AsDev())

	dev, ok := devs.Get(1)
	require.True(t, ok)
	require.NotNil(t, dev.Read)
	require.NotNil(t, dev.Write)
}
