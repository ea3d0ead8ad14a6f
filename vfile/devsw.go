package vfile

import (
	"bufio"
	"io"
	"sync"

	"github.com/gokernel/corefs/common"
)

// Dev is one entry in the device switch table: a major number's Read and
// Write handlers, either of which may be nil (spec.md §4.J). Grounded on
// rv6 file.rs's DEVSW array of optional fn pointers.
type Dev struct {
	Read  func(dst []byte) (int, error)
	Write func(src []byte) (int, error)
}

// DevTable is the fixed-size (NDEV) device switch table, registered once
// at boot and read thereafter.
type DevTable struct {
	mu      sync.RWMutex
	entries [common.NDEV]*Dev
}

// NewDevTable creates an empty device switch table.
func NewDevTable() *DevTable {
	return &DevTable{}
}

// Register installs dev at major, overwriting any previous registration.
func (t *DevTable) Register(major uint16, dev *Dev) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[major] = dev
}

// Get returns the device registered at major, if any.
func (t *DevTable) Get(major uint16) (*Dev, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d := t.entries[major]
	return d, d != nil
}

// Console is a line-buffered stand-in for the teacher's cons_t/kbd_daemon
// (main.go): Write goes straight to an io.Writer sink, Read serves whole
// lines fed in by Feed, mirroring the original's "keyboard interrupt fills
// a line queue; read(2) drains it" split without owning real hardware.
type Console struct {
	mu     sync.Mutex
	out    *bufio.Writer
	lines  chan []byte
	pendin []byte
}

// NewConsole creates a console that writes to out and serves lines queued
// by Feed.
func NewConsole(out io.Writer) *Console {
	return &Console{out: bufio.NewWriter(out), lines: make(chan []byte, 64)}
}

// Feed enqueues one line of input (as if typed at a keyboard), for tests
// and embedders driving the console without real hardware.
func (c *Console) Feed(line []byte) {
	cp := make([]byte, len(line))
	copy(cp, line)
	c.lines <- cp
}

// Read copies from the pending line (fetching the next queued line if
// empty) into dst, blocking until a line is available.
func (c *Console) Read(dst []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pendin) == 0 {
		c.pendin = <-c.lines
	}
	n := copy(dst, c.pendin)
	c.pendin = c.pendin[n:]
	return n, nil
}

// Write sends src to the console's sink, flushing immediately so output
// is visible without an explicit fsync-style call.
func (c *Console) Write(src []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.out.Write(src)
	if err != nil {
		return n, err
	}
	return n, c.out.Flush()
}

// AsDev exposes the console as a Dev for Register(CONSOLE, ...).
func (c *Console) AsDev() *Dev {
	return &Dev{Read: c.Read, Write: c.Write}
}
