package vmm

import (
	"sync"

	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/mem"
	"github.com/sxmxr/mos/pkg/util"
)

// MmapFlag mirrors the ABI-level mmap(2) flag bits relevant to this model.
type MmapFlag uintptr

const (
	MAP_SHARED  MmapFlag = 1 << 0
	MAP_PRIVATE MmapFlag = 1 << 1
	MAP_ANON    MmapFlag = 1 << 2
)

func pageAlignDown(a uintptr) uintptr { return util.Rounddown(a, uintptr(mem.PGSIZE)) }
func pageAlignUp(a uintptr) uintptr   { return util.Roundup(a, uintptr(mem.PGSIZE)) }

// Vm_t is a process's address space: the memory map (ordered VMA list plus
// brk bounds) and the simulated page table binding VMAs to physical frames.
// It is grounded on biscuit/src/vm/as.go's Vm_t, whose mutex "protects
// modifications to Vmregion, Pmap, and P_pmap" — the same three things
// protected here.
type Vm_t struct {
	mu sync.Mutex
	MM *MM_t
	// PageTable maps a page-aligned virtual address to a simulated PTE:
	// (physical frame index << PGSHIFT) | permission/status bits.
	PageTable map[uintptr]uintptr
	Phys      *mem.Physmem_t

	pgfltaken bool // matches Vm_t.pgfltaken: marks a fault is in progress
}

// NewVm returns a fresh, empty address space backed by phys, with the brk
// region starting at startBrk.
func NewVm(phys *mem.Physmem_t, startBrk uintptr) *Vm_t {
	return &Vm_t{
		MM:        NewMM(pageAlignUp(startBrk)),
		PageTable: make(map[uintptr]uintptr),
		Phys:      phys,
	}
}

// Lock_pmap acquires the address-space lock and marks a fault in progress.
func (as *Vm_t) Lock_pmap() {
	as.mu.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address-space lock.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.mu.Unlock()
}

// Lockassert_pmap panics if the address-space lock is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// FindVMA returns the VMA covering addr, if any.
func (as *Vm_t) FindVMA(addr uintptr) (*Vminfo_t, bool) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.MM.Region.Lookup(addr)
}

// GetUnmappedArea implements the placement search from §4.B: it returns a
// freshly inserted, unmapped VMA of the requested length.
func (as *Vm_t) GetUnmappedArea(hint, length uintptr) (*Vminfo_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.getUnmappedAreaLocked(hint, length)
}

func (as *Vm_t) getUnmappedAreaLocked(hint, length uintptr) (*Vminfo_t, defs.Err_t) {
	as.Lockassert_pmap()
	if length == 0 {
		return nil, defs.EINVAL
	}
	length = pageAlignUp(length)

	effHint := util.Max(hint, as.MM.FreeAreaCache)
	effHint = util.Max(effHint, as.MM.EndBrk)
	effHint = pageAlignUp(effHint)

	var foundStart uintptr
	placed := false

	if as.MM.Region.Len() == 0 {
		foundStart = effHint
		placed = true
	} else {
		as.MM.Region.Ascend(func(v *Vminfo_t) bool {
			next, hasNext := as.MM.Region.Next(v)

			// Placement 1: before v, at the hint.
			if effHint+length <= v.Start {
				foundStart = effHint
				placed = true
				return false
			}
			// Placement 2: immediately after v, at the hint, if the gap
			// before the next VMA (or end of list) accommodates it.
			if effHint >= v.End && (!hasNext || effHint+length <= next.Start) {
				foundStart = effHint
				placed = true
				return false
			}
			// Placement 3: top-aligned in the gap between v and next.
			if hasNext && v.End <= effHint && effHint < next.Start && next.Start-v.End >= length {
				foundStart = next.Start - length
				placed = true
				return false
			}
			return true
		})
	}

	if !placed {
		return nil, defs.ENOMEM
	}

	vma := &Vminfo_t{
		Start: foundStart,
		End:   foundStart + length,
		mm:    as.MM,
	}
	as.MM.Region.Insert(vma)
	as.MM.FreeAreaCache = vma.End
	return vma, 0
}

// ExpandArea grows (or, when unfixed, relocates) vma so that it ends at
// newEnd.
func (as *Vm_t) ExpandArea(vma *Vminfo_t, newEnd uintptr, fixed bool) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.expandAreaLocked(vma, newEnd, fixed)
}

func (as *Vm_t) expandAreaLocked(vma *Vminfo_t, newEnd uintptr, fixed bool) defs.Err_t {
	as.Lockassert_pmap()
	newEnd = pageAlignUp(newEnd)
	if newEnd <= vma.End {
		return 0
	}
	next, hasNext := as.MM.Region.Next(vma)
	if !hasNext || next.Start >= newEnd {
		vma.End = newEnd
		return 0
	}
	if fixed {
		panic("expand_area: fixed growth collides with next vma")
	}
	// Relocate: find a fresh area of the right size and adopt its range,
	// preserving the caller's *Vminfo_t so external references stay valid.
	length := newEnd - vma.Start
	as.MM.Region.Remove(vma)
	replacement, err := as.getUnmappedAreaLocked(0, length)
	if err != 0 {
		as.MM.Region.Insert(vma) // put it back; the move failed
		return err
	}
	as.MM.Region.Remove(replacement)
	vma.Start = replacement.Start
	vma.End = replacement.End
	as.MM.Region.Insert(vma)
	return 0
}

// DoMmap implements do_mmap: find-or-allocate a VMA at addr, bind a file or
// eagerly allocate anonymous frames, and return the base address used.
func (as *Vm_t) DoMmap(addr, length, perms uintptr, flags MmapFlag, file FileBacking_i, off int) (uintptr, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	length = pageAlignUp(length)
	if length == 0 {
		return 0, defs.EINVAL
	}
	aligned := pageAlignDown(addr)

	vma, ok := as.MM.Region.Lookup(aligned)
	if !ok {
		var err defs.Err_t
		vma, err = as.getUnmappedAreaLocked(aligned, length)
		if err != 0 {
			return 0, err
		}
	} else if vma.End < addr+length {
		if err := as.expandAreaLocked(vma, addr+length, true); err != 0 {
			return 0, err
		}
	}
	vma.Perms = perms

	if file != nil {
		vma.Mtype = VFILE
		vma.File = file
		vma.Off = off
		vma.Shared = flags&MAP_SHARED != 0
	} else {
		if flags&MAP_SHARED != 0 {
			vma.Mtype = VSANON
		} else {
			vma.Mtype = VANON
		}
		for va := vma.Start; va < vma.End; va += uintptr(mem.PGSIZE) {
			_, pa, ok := as.Phys.Refpg_new()
			if !ok {
				return 0, defs.ENOMEM
			}
			as.Phys.Refup(pa)
			as.PageTable[va] = (uintptr(pa) << mem.PGSHIFT) | mem.PTE_P | mem.PTE_U | mem.PTE_W
		}
	}

	if addr != 0 && vma.Start <= addr && addr < vma.End {
		return addr, 0
	}
	return vma.Start, 0
}

// unmapFramesLocked releases every physical frame mapped in [start,end).
func (as *Vm_t) unmapFramesLocked(start, end uintptr) {
	for va := start; va < end; va += uintptr(mem.PGSIZE) {
		pte, ok := as.PageTable[va]
		if !ok {
			continue
		}
		pa := mem.Pa_t(pte >> mem.PGSHIFT)
		as.Phys.Refdown(pa)
		delete(as.PageTable, va)
	}
}

// DoMunmap implements do_munmap: trailing-portion shrink or whole-VMA
// detach. Partial-middle unmaps are not supported (§9); a request that
// would leave a gap strictly inside a VMA's middle behaves like a trailing
// unmap, truncating from addr onward — this is the documented limitation.
func (as *Vm_t) DoMunmap(addr, length uintptr) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	vma, ok := as.MM.Region.Lookup(addr)
	if !ok {
		return 0
	}
	end := pageAlignUp(addr + length)
	if addr <= vma.Start && end >= vma.End {
		as.unmapFramesLocked(vma.Start, vma.End)
		as.MM.Region.Remove(vma)
		return 0
	}
	if addr > vma.Start {
		as.unmapFramesLocked(addr, vma.End)
		vma.End = addr
		return 0
	}
	return 0
}

// DoBrk implements do_brk: grow the break region, eagerly mapping frames
// across the delta. Shrinking the break is not supported; a request whose
// computed new_brk does not exceed the current break-owning VMA's end
// records new_brk in MM.Brk but leaves the VMA, MM.EndBrk and the mapped
// frames unchanged, matching the original's guard (the "shrink" path it wrote
// is unreachable, since mm.brk is updated before the comparison runs).
func (as *Vm_t) DoBrk(addr, length uintptr) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	newBrk := pageAlignUp(addr + length)
	as.MM.Brk = newBrk

	vma, ok := as.MM.Region.Lookup(addr)
	if !ok || vma.End >= newBrk {
		return 0
	}
	oldEnd := vma.End
	if err := as.expandAreaLocked(vma, newBrk, true); err != 0 {
		return err
	}
	as.MM.EndBrk = vma.End
	for va := oldEnd; va < vma.End; va += uintptr(mem.PGSIZE) {
		_, pa, ok := as.Phys.Refpg_new()
		if !ok {
			return defs.ENOMEM
		}
		as.Phys.Refup(pa)
		perm := uintptr(mem.PTE_P | mem.PTE_U)
		if vma.Perms&mem.PTE_W != 0 {
			perm |= mem.PTE_W
		}
		as.PageTable[va] = (uintptr(pa) << mem.PGSHIFT) | perm
	}
	return 0
}

// PageFault resolves a fault at addr, lazily allocating or performing
// copy-on-write as needed. A fault outside any VMA, or a write to a
// read-only VMA, is fatal (the caller delivers SIGSEGV).
func (as *Vm_t) PageFault(addr uintptr, iswrite bool) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	vma, ok := as.MM.Region.Lookup(addr)
	if !ok {
		return defs.EFAULT
	}
	if vma.Perms == 0 || (iswrite && vma.Perms&mem.PTE_W == 0) {
		return defs.EFAULT
	}

	page := pageAlignDown(addr)
	pte, present := as.PageTable[page]
	if present {
		if iswrite && pte&mem.PTE_COW != 0 {
			pa := mem.Pa_t(pte >> mem.PGSHIFT)
			if as.Phys.Refcnt(pa) == 1 {
				as.PageTable[page] = (pte &^ mem.PTE_COW) | mem.PTE_W | mem.PTE_WASCOW
				return 0
			}
			src := as.Phys.Dmap(pa)
			newpg, newpa, ok := as.Phys.Refpg_new_nozero()
			if !ok {
				return defs.ENOMEM
			}
			*newpg = *src
			as.Phys.Refup(newpa)
			as.Phys.Refdown(pa)
			as.PageTable[page] = (uintptr(newpa) << mem.PGSHIFT) | mem.PTE_P | mem.PTE_U | mem.PTE_W | mem.PTE_WASCOW
		}
		return 0
	}

	var pa mem.Pa_t
	switch vma.Mtype {
	case VFILE:
		var err defs.Err_t
		_, pa, err = vma.File.Filepage(vma.Off + int(addr-vma.Start))
		if err != 0 {
			return err
		}
		as.Phys.Refup(pa)
	default:
		_, allocated, ok := as.Phys.Refpg_new()
		if !ok {
			return defs.ENOMEM
		}
		as.Phys.Refup(allocated)
		pa = allocated
	}
	perm := uintptr(mem.PTE_P | mem.PTE_U)
	if vma.Perms&mem.PTE_W != 0 {
		perm |= mem.PTE_W
	}
	as.PageTable[page] = (uintptr(pa) << mem.PGSHIFT) | perm
	return 0
}

// Fork produces a child address space: VMAs are shallow-cloned (vm_file
// shared) and the page table is copied with writable mappings downgraded
// to copy-on-write in both parent and child, bumping each frame's refcount.
func (as *Vm_t) Fork() *Vm_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	childMM := &MM_t{
		Brk:           as.MM.Brk,
		EndBrk:        as.MM.EndBrk,
		FreeAreaCache: as.MM.FreeAreaCache,
	}
	childMM.Region = as.MM.Region.Clone(childMM)

	child := &Vm_t{
		MM:        childMM,
		PageTable: make(map[uintptr]uintptr, len(as.PageTable)),
		Phys:      as.Phys,
	}
	for va, pte := range as.PageTable {
		if pte&mem.PTE_W != 0 {
			pte = (pte &^ mem.PTE_W) | mem.PTE_COW
			as.PageTable[va] = pte
		}
		pa := mem.Pa_t(pte >> mem.PGSHIFT)
		as.Phys.Refup(pa)
		child.PageTable[va] = pte
	}
	return child
}

// Uvmfree releases every mapped frame and empties the VMA list, as part of
// process exit.
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for va, pte := range as.PageTable {
		pa := mem.Pa_t(pte >> mem.PGSHIFT)
		as.Phys.Refdown(pa)
		delete(as.PageTable, va)
	}
	as.MM.Region.Clear()
}
