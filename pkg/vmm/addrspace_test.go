package vmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/mem"
)

func newTestAS(t *testing.T) *Vm_t {
	t.Helper()
	phys := mem.NewPhysmem(1024)
	return NewVm(phys, 0x10000)
}

func TestMmapMunmapRoundTrip(t *testing.T) {
	as := newTestAS(t)

	addr, err := as.DoMmap(0, 3*mem.PGSIZE, uintptr(mem.PTE_U|mem.PTE_W), MAP_PRIVATE|MAP_ANON, nil, 0)
	require.Equal(t, defs.Err_t(0), err)
	require.NotZero(t, addr)

	vma, ok := as.FindVMA(addr)
	require.True(t, ok)
	assert.Equal(t, addr, vma.Start)
	assert.Equal(t, addr+3*mem.PGSIZE, vma.End)

	for _, page := range []uintptr{addr, addr + mem.PGSIZE, addr + 2*mem.PGSIZE} {
		_, present := as.PageTable[page]
		assert.True(t, present, "page %x should be eagerly populated", page)
	}

	require.Equal(t, defs.Err_t(0), as.DoMunmap(addr, 3*mem.PGSIZE))
	_, ok = as.FindVMA(addr)
	assert.False(t, ok)
	for _, page := range []uintptr{addr, addr + mem.PGSIZE, addr + 2*mem.PGSIZE} {
		_, present := as.PageTable[page]
		assert.False(t, present)
	}
}

func TestMunmapTrailingShrink(t *testing.T) {
	as := newTestAS(t)
	addr, err := as.DoMmap(0, 4*mem.PGSIZE, uintptr(mem.PTE_U|mem.PTE_W), MAP_PRIVATE|MAP_ANON, nil, 0)
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), as.DoMunmap(addr+2*mem.PGSIZE, 2*mem.PGSIZE))

	vma, ok := as.FindVMA(addr)
	require.True(t, ok)
	assert.Equal(t, addr+2*mem.PGSIZE, vma.End)
	_, present := as.PageTable[addr+2*mem.PGSIZE]
	assert.False(t, present)
	_, present = as.PageTable[addr]
	assert.True(t, present)
}

func TestGetUnmappedAreaNeverOverlaps(t *testing.T) {
	as := newTestAS(t)

	first, err := as.DoMmap(0x20000, mem.PGSIZE, uintptr(mem.PTE_U), MAP_PRIVATE|MAP_ANON, nil, 0)
	require.Equal(t, defs.Err_t(0), err)
	second, err := as.DoMmap(0x20000+10*mem.PGSIZE, mem.PGSIZE, uintptr(mem.PTE_U), MAP_PRIVATE|MAP_ANON, nil, 0)
	require.Equal(t, defs.Err_t(0), err)

	vma, err := as.GetUnmappedArea(0, mem.PGSIZE)
	require.Equal(t, defs.Err_t(0), err)

	overlaps := func(a, b *Vminfo_t) bool { return a.Start < b.End && b.Start < a.End }
	firstVMA, _ := as.FindVMA(first)
	secondVMA, _ := as.FindVMA(second)
	assert.False(t, overlaps(vma, firstVMA))
	assert.False(t, overlaps(vma, secondVMA))
}

func TestBrkGrowOnly(t *testing.T) {
	as := newTestAS(t)
	base := as.MM.Brk

	// Establish the initial brk-owning vma, as process creation would.
	_, err := as.DoMmap(base, mem.PGSIZE, uintptr(mem.PTE_U|mem.PTE_W), MAP_PRIVATE|MAP_ANON, nil, 0)
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), as.DoBrk(base, 3*mem.PGSIZE))
	grown := as.MM.EndBrk
	assert.True(t, grown > base+mem.PGSIZE)

	// A request that does not exceed the current brk-owning vma's end is a
	// documented no-op.
	require.Equal(t, defs.Err_t(0), as.DoBrk(base, mem.PGSIZE))
	assert.Equal(t, grown, as.MM.EndBrk)
}

func TestForkCOWThenWriteDuplicates(t *testing.T) {
	as := newTestAS(t)
	addr, err := as.DoMmap(0, mem.PGSIZE, uintptr(mem.PTE_U|mem.PTE_W), MAP_PRIVATE|MAP_ANON, nil, 0)
	require.Equal(t, defs.Err_t(0), err)

	parentPTE := as.PageTable[addr]
	parentPA := mem.Pa_t(parentPTE >> mem.PGSHIFT)

	child := as.Fork()

	// Both copies should now be downgraded to COW and share one frame.
	assert.True(t, as.PageTable[addr]&mem.PTE_COW != 0)
	assert.True(t, child.PageTable[addr]&mem.PTE_COW != 0)
	assert.Equal(t, 2, as.Phys.Refcnt(parentPA))

	// A write fault in the child must duplicate the frame rather than
	// mutating the parent's copy.
	require.Equal(t, defs.Err_t(0), child.PageFault(addr, true))
	childPTE := child.PageTable[addr]
	childPA := mem.Pa_t(childPTE >> mem.PGSHIFT)
	assert.NotEqual(t, parentPA, childPA)
	assert.Equal(t, 1, as.Phys.Refcnt(parentPA))
	assert.Equal(t, 1, as.Phys.Refcnt(childPA))
}

func TestPageFaultOutsideVMAIsFatal(t *testing.T) {
	as := newTestAS(t)
	assert.Equal(t, defs.EFAULT, as.PageFault(0xdeadb000, false))
}
