package fd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxmxr/mos/pkg/defs"
)

type fakeFile struct {
	reopens int
	closed  bool
}

func (f *fakeFile) Reopen() defs.Err_t { f.reopens++; return 0 }
func (f *fakeFile) Close() defs.Err_t  { f.closed = true; return 0 }

func TestInstallGetClose(t *testing.T) {
	tbl := NewTable()
	f := &fakeFile{}
	n, err := tbl.Install(&Fd_t{File: f, Perms: Read | Write})
	require.Equal(t, defs.Err_t(0), err)

	got, err := tbl.Get(n)
	require.Equal(t, defs.Err_t(0), err)
	assert.Same(t, f, got.File)

	require.Equal(t, defs.Err_t(0), tbl.Close(n))
	assert.True(t, f.closed)

	_, err = tbl.Get(n)
	assert.Equal(t, defs.EINVAL, err)
}

func TestCloneReopensEveryOpenDescriptor(t *testing.T) {
	tbl := NewTable()
	f := &fakeFile{}
	n, _ := tbl.Install(&Fd_t{File: f, Perms: Read})

	clone, err := tbl.Clone()
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 1, f.reopens)

	cloned, err := clone.Get(n)
	require.Equal(t, defs.Err_t(0), err)
	assert.Same(t, f, cloned.File, "child refers to the same backing file, not a deep copy")
}

func TestTableFullReturnsENOMEM(t *testing.T) {
	tbl := NewTable()
	f := &fakeFile{}
	for i := 0; i < MaxFD; i++ {
		_, err := tbl.Install(&Fd_t{File: f})
		require.Equal(t, defs.Err_t(0), err)
	}
	_, err := tbl.Install(&Fd_t{File: f})
	assert.Equal(t, defs.ENOMEM, err)
}
