// Package fd is the per-process file-descriptor table, grounded on
// biscuit/src/fd/fd.go's Fd_t and on clone_file_descriptor_table in
// original_source/src/kernel/proc/task.c.
package fd

import (
	"sync"

	"github.com/sxmxr/mos/pkg/defs"
)

// MaxFD bounds the number of descriptors a process may hold open.
const MaxFD = 64

// File permission bits, mirroring FD_READ/FD_WRITE/FD_CLOEXEC.
const (
	Read    = 0x1
	Write   = 0x2
	CloExec = 0x4
)

// File_i is implemented by whatever backs an open descriptor: a device, a
// pipe, a regular file. Reopen is called when a descriptor is duplicated
// (fork, dup) and Close when the last reference goes away.
type File_i interface {
	Reopen() defs.Err_t
	Close() defs.Err_t
}

// Fd_t is one open file descriptor.
type Fd_t struct {
	File  File_i
	Perms int
}

// Copyfd duplicates an open descriptor by reopening its backing file.
func Copyfd(f *Fd_t) (*Fd_t, defs.Err_t) {
	nf := &Fd_t{}
	*nf = *f
	if err := nf.File.Reopen(); err != 0 {
		return nil, err
	}
	return nf, 0
}

// Table is a process's fixed-size descriptor array.
type Table struct {
	mu    sync.Mutex
	slots [MaxFD]*Fd_t
}

// NewTable returns an empty descriptor table.
func NewTable() *Table { return &Table{} }

// Install places f in the lowest-numbered free slot, returning the
// descriptor number.
func (t *Table) Install(f *Fd_t) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = f
			return i, 0
		}
	}
	return -1, defs.ENOMEM
}

// Get returns the descriptor at fdno, if open.
func (t *Table) Get(fdno int) (*Fd_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fdno < 0 || fdno >= MaxFD || t.slots[fdno] == nil {
		return nil, defs.EINVAL
	}
	return t.slots[fdno], 0
}

// Close closes and clears the descriptor at fdno.
func (t *Table) Close(fdno int) defs.Err_t {
	t.mu.Lock()
	if fdno < 0 || fdno >= MaxFD || t.slots[fdno] == nil {
		t.mu.Unlock()
		return defs.EINVAL
	}
	f := t.slots[fdno]
	t.slots[fdno] = nil
	t.mu.Unlock()
	return f.File.Close()
}

// Clone duplicates every open descriptor, bumping each backing file's
// reference count via Reopen, matching clone_file_descriptor_table: "child
// refers to the same one" rather than a deep copy of the file object.
func (t *Table) Clone() (*Table, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Table{}
	for i, s := range t.slots {
		if s == nil {
			continue
		}
		nf, err := Copyfd(s)
		if err != 0 {
			return nil, err
		}
		nt.slots[i] = nf
	}
	return nt, 0
}
