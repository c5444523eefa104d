// Package vmm is the per-process address-space manager: the ordered VMA
// list, get_unmapped_area/find_vma/expand_area, and do_mmap/do_munmap/do_brk.
// It is grounded on biscuit/src/vm/as.go (the Vm_t/Vminfo_t/Vmregion_t
// design) and on original_source/src/kernel/memory/mmap.c (the exact
// placement and growth algorithms), with the ordered VMA list implemented
// over a github.com/google/btree ordered tree instead of a hand-rolled
// linked list.
package vmm

import (
	"github.com/google/btree"

	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/mem"
)

// Mtype_t classifies a VMA's backing.
type Mtype_t int

const (
	VANON  Mtype_t = iota // private anonymous
	VFILE                 // file-backed, private or shared
	VSANON                // shared anonymous
)

// FileBacking_i is implemented by the file object backing a VFILE mapping.
// It plays the role of fdops.Fdops_i's mmap-relevant subset in the teacher.
type FileBacking_i interface {
	// Filepage returns the physical page backing the given file offset,
	// allocating and populating it on first access.
	Filepage(off int) (*mem.Pg_t, mem.Pa_t, defs.Err_t)
}

// Vminfo_t describes one virtual memory area: a half-open, page-aligned
// range with uniform permissions and backing.
type Vminfo_t struct {
	Start uintptr // vm_start
	End   uintptr // vm_end
	Perms uintptr // PTE_U / PTE_W bits only; fault handler adds COW etc.
	Mtype Mtype_t

	// File-backing fields, valid only when Mtype == VFILE.
	File   FileBacking_i
	Off    int
	Shared bool

	mm *MM_t // back-reference, set on insert
}

// Len reports the VMA's length in bytes.
func (v *Vminfo_t) Len() uintptr { return v.End - v.Start }

func (v *Vminfo_t) clone() *Vminfo_t {
	cp := *v
	return &cp
}

// vmaItem adapts *Vminfo_t for btree ordering by start address.
type vmaItem struct{ v *Vminfo_t }

func (a vmaItem) Less(than btree.Item) bool {
	return a.v.Start < than.(vmaItem).v.Start
}

// Vmregion_t is the ordered, non-overlapping VMA set belonging to one mm.
// Iteration in ascending vm_start order is the primitive that
// get_unmapped_area, find_vma, and expand_area all build on.
type Vmregion_t struct {
	tree *btree.BTree
}

// NewVmregion returns an empty VMA set.
func NewVmregion() *Vmregion_t {
	return &Vmregion_t{tree: btree.New(32)}
}

// Len reports the number of VMAs currently tracked.
func (r *Vmregion_t) Len() int { return r.tree.Len() }

// Insert adds vma to the set. The caller must ensure it does not overlap
// any existing entry.
func (r *Vmregion_t) Insert(vma *Vminfo_t) {
	r.tree.ReplaceOrInsert(vmaItem{vma})
}

// Remove detaches vma from the set.
func (r *Vmregion_t) Remove(vma *Vminfo_t) {
	r.tree.Delete(vmaItem{vma})
}

// Lookup returns the VMA covering addr, if any (find_vma).
func (r *Vmregion_t) Lookup(addr uintptr) (*Vminfo_t, bool) {
	var found *Vminfo_t
	// AscendLessThan visits every item with Start < addr+1 in ascending
	// order; we only need the last (largest Start) candidate, so walk
	// from the greatest-start-not-after addr downward instead.
	r.tree.DescendLessOrEqual(vmaItem{&Vminfo_t{Start: addr}}, func(i btree.Item) bool {
		found = i.(vmaItem).v
		return false
	})
	if found != nil && found.Start <= addr && addr < found.End {
		return found, true
	}
	return nil, false
}

// Ascend calls f for every VMA in ascending vm_start order, stopping early
// if f returns false.
func (r *Vmregion_t) Ascend(f func(*Vminfo_t) bool) {
	r.tree.Ascend(func(i btree.Item) bool {
		return f(i.(vmaItem).v)
	})
}

// AscendFrom calls f for every VMA with Start >= addr, in ascending order.
func (r *Vmregion_t) AscendFrom(addr uintptr, f func(*Vminfo_t) bool) {
	r.tree.AscendGreaterOrEqual(vmaItem{&Vminfo_t{Start: addr}}, func(i btree.Item) bool {
		return f(i.(vmaItem).v)
	})
}

// Next returns the VMA immediately after vma in ascending order, if any.
func (r *Vmregion_t) Next(vma *Vminfo_t) (*Vminfo_t, bool) {
	var next *Vminfo_t
	r.tree.AscendGreaterOrEqual(vmaItem{vma}, func(i btree.Item) bool {
		cand := i.(vmaItem).v
		if cand == vma {
			return true // keep walking past the vma itself
		}
		next = cand
		return false
	})
	return next, next != nil
}

// Last returns the VMA with the greatest vm_start, if any.
func (r *Vmregion_t) Last() (*Vminfo_t, bool) {
	item := r.tree.Max()
	if item == nil {
		return nil, false
	}
	return item.(vmaItem).v, true
}

// Clear empties the set.
func (r *Vmregion_t) Clear() {
	r.tree = btree.New(32)
}

// Clone returns a deep-enough copy for fork: each Vminfo_t is shallow
// copied (vm_file shared, ranges/flags copied), matching clone_mm_struct in
// original_source/src/kernel/proc/task.c.
func (r *Vmregion_t) Clone(newmm *MM_t) *Vmregion_t {
	out := NewVmregion()
	r.Ascend(func(v *Vminfo_t) bool {
		cp := v.clone()
		cp.mm = newmm
		out.Insert(cp)
		return true
	})
	return out
}

// MM_t is the per-process memory map: brk bounds, the unmapped-area search
// hint, and the ordered VMA list. See §3 of the spec.
type MM_t struct {
	Region        *Vmregion_t
	Brk           uintptr
	EndBrk        uintptr
	FreeAreaCache uintptr
}

// NewMM returns an empty memory map with brk seeded at startBrk.
func NewMM(startBrk uintptr) *MM_t {
	return &MM_t{
		Region: NewVmregion(),
		Brk:    startBrk,
		EndBrk: startBrk,
	}
}
