package txlog

import "github.com/gokernel/corefs/bcache"

// Txn is a scoped handle representing participation in the current group
// transaction (spec.md §4.D). It is obtained from Log.Begin and must be
// released with Done on every exit path; Go has no destructors, so callers
// are expected to `defer txn.Done()` immediately after Begin, the same way
// rv6's FsTransaction relies on Drop. A Txn must not be shared across
// goroutines.
type Txn struct {
	log  *Log
	done bool
}

// Begin starts a new transaction participant: it is the constructor half
// of spec.md §4.D ("its construction is begin_op").
func (l *Log) Begin() *Txn {
	l.BeginOp()
	return &Txn{log: l}
}

// Write records buf into the transaction's log entry.
func (t *Txn) Write(buf *bcache.Buf) error {
	return t.log.Write(buf)
}

// Done ends the transaction's participation, possibly triggering commit.
// Calling Done more than once is a no-op.
func (t *Txn) Done() {
	if t.done {
		return
	}
	t.done = true
	t.log.EndOp()
}
