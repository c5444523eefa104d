// Package mem is the kernel's physical memory allocator: a reference-counted
// frame free-list over a fixed-size arena, grounded on
// biscuit/src/mem/mem.go's Physmem_t. Real hardware has no meaning inside a
// host process, so "physical memory" here is a []byte arena and a "physical
// address" is an index into it; the free-list/refcount/direct-map algorithm
// is otherwise unchanged from the teacher.
package mem

import (
	"sync"

	"github.com/sxmxr/mos/pkg/defs"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET = PGSIZE - 1

// PGMASK masks the page number of an address.
const PGMASK = ^uintptr(PGOFFSET)

// Page table entry permission/status bits, mirroring the x86 PTE layout
// used throughout the teacher repo (biscuit/src/mem/mem.go).
const (
	PTE_P      uintptr = 1 << 0 // present
	PTE_W      uintptr = 1 << 1 // writable
	PTE_U      uintptr = 1 << 2 // user accessible
	PTE_COW    uintptr = 1 << 9 // copy-on-write, software-defined bit
	PTE_WASCOW uintptr = 1 << 10
	PTE_D      uintptr = 1 << 6 // dirty
	PTE_A      uintptr = 1 << 5 // accessed
	PTE_ADDR           = uintptr(PGMASK)
)

// Pa_t is a physical address: the index of a frame in the simulated arena.
// Page-table entries store it shifted left by PGSHIFT.
type Pa_t uintptr

// Pg_t is one physical page of bytes.
type Pg_t [PGSIZE]byte

type physpg struct {
	refcnt int32
	nexti  uint32 // next free index, or sentinel below
}

const freeEnd = ^uint32(0)

// Physmem_t is the kernel's physical frame allocator.
type Physmem_t struct {
	mu      sync.Mutex
	frames  []Pg_t
	meta    []physpg
	freei   uint32
	freelen int
}

// Zeropg is a zero-filled page. Anonymous mappings in pkg/vmm do not map
// it; they receive fresh zeroed frames from Refpg_new.
var Zeropg = &Pg_t{}

// NewPhysmem allocates an arena of npages simulated physical frames, all
// initially free.
func NewPhysmem(npages int) *Physmem_t {
	if npages <= 0 {
		panic("bad arena size")
	}
	p := &Physmem_t{
		frames: make([]Pg_t, npages),
		meta:   make([]physpg, npages),
	}
	for i := range p.meta {
		p.meta[i].nexti = uint32(i + 1)
	}
	p.meta[len(p.meta)-1].nexti = freeEnd
	p.freei = 0
	p.freelen = npages
	return p
}

func (p *Physmem_t) idx(pa Pa_t) int {
	i := int(pa)
	if i < 0 || i >= len(p.frames) {
		panic("physical address out of range")
	}
	return i
}

// Refpg_new allocates a zeroed frame. The returned frame's refcount is 0;
// the caller is expected to Refup it once installed in a page table.
func (p *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, pa, ok := p.refpgNewNozero()
	if !ok {
		return nil, 0, false
	}
	*pg = Pg_t{}
	return pg, pa, true
}

// Refpg_new_nozero allocates an uninitialized frame.
func (p *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return p.refpgNewNozero()
}

func (p *Physmem_t) refpgNewNozero() (*Pg_t, Pa_t, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.freei == freeEnd {
		return nil, 0, false
	}
	idx := p.freei
	p.freei = p.meta[idx].nexti
	p.freelen--
	p.meta[idx].refcnt = 0
	return &p.frames[idx], Pa_t(idx), true
}

// Refup increments a frame's reference count.
func (p *Physmem_t) Refup(pa Pa_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.idx(pa)
	p.meta[i].refcnt++
}

// Refdown decrements a frame's reference count, returning the frame to the
// free list and returning true when the count reaches zero.
func (p *Physmem_t) Refdown(pa Pa_t) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.idx(pa)
	p.meta[i].refcnt--
	if p.meta[i].refcnt < 0 {
		panic("negative refcount")
	}
	if p.meta[i].refcnt != 0 {
		return false
	}
	p.meta[i].nexti = p.freei
	p.freei = uint32(i)
	p.freelen++
	return true
}

// Refcnt reports a frame's current reference count.
func (p *Physmem_t) Refcnt(pa Pa_t) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.meta[p.idx(pa)].refcnt)
}

// Dmap returns the direct mapping of a physical frame, analogous to
// Physmem_t.Dmap in the teacher (there: a virtual alias of physical memory;
// here: the frame itself, since there is no separate virtual address space
// to alias into).
func (p *Physmem_t) Dmap(pa Pa_t) *Pg_t {
	return &p.frames[p.idx(pa)]
}

// FreePages reports the number of frames still on the free list.
func (p *Physmem_t) FreePages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freelen
}

// AllocZeroed is a convenience wrapper for allocations outside the
// page-fault path that returns defs.Err_t instead of a bool, matching the
// rest of the kernel's error-handling convention. The returned frame's
// refcount is already 1.
func (p *Physmem_t) AllocZeroed() (*Pg_t, Pa_t, defs.Err_t) {
	pg, pa, ok := p.Refpg_new()
	if !ok {
		return nil, 0, defs.ENOMEM
	}
	p.Refup(pa)
	return pg, pa, 0
}
