// ELF loading for create_user_thread/user_thread_elf_entry and exec. Uses
// debug/elf directly, the same library the teacher's own
// biscuit/src/kernel/chentry.go reaches for when it needs to parse and
// rewrite an ELF image; no third-party ELF library is attested anywhere in
// the retrieved corpus.
package proc

import (
	"bytes"
	"debug/elf"

	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/mem"
	"github.com/sxmxr/mos/pkg/vmm"
)

// ElfLayout is the result of loading an ELF image into an address space,
// mirroring struct Elf32_Layout.
type ElfLayout struct {
	Entry uintptr
	Stack uintptr
}

// loadElf maps every PT_LOAD segment of image into as as an anonymous VMA
// (with PTE_W in its permissions only when the segment has PF_W) and copies
// the segment's file bytes in, then carves out a
// fixed-size stack above the highest loaded segment. There is no demand
// paging of executable text here (Non-goal): segments are populated
// eagerly at load time instead of being faulted in page by page.
func loadElf(as *vmm.Vm_t, image []byte) (*ElfLayout, defs.Err_t) {
	ef, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, defs.EINVAL
	}
	defer ef.Close()

	var maxEnd uintptr
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		vaddr := uintptr(prog.Vaddr)
		memsz := uintptr(prog.Memsz)
		if memsz == 0 {
			continue
		}
		perms := uintptr(mem.PTE_U)
		if prog.Flags&elf.PF_W != 0 {
			perms |= mem.PTE_W
		}
		if _, werr := as.DoMmap(vaddr, memsz, perms, vmm.MAP_PRIVATE|vmm.MAP_ANON, nil, 0); werr != 0 {
			return nil, werr
		}
		segment := make([]byte, prog.Filesz)
		if _, rerr := prog.ReadAt(segment, 0); rerr != nil {
			return nil, defs.EINVAL
		}
		if werr := copyinto(as, vaddr, segment); werr != 0 {
			return nil, werr
		}
		if end := vaddr + memsz; end > maxEnd {
			maxEnd = end
		}
	}

	const stackSize = 16 * mem.PGSIZE
	stackBase, serr := as.DoMmap(0, stackSize, uintptr(mem.PTE_U|mem.PTE_W), vmm.MAP_PRIVATE|vmm.MAP_ANON, nil, 0)
	if serr != 0 {
		return nil, serr
	}

	return &ElfLayout{Entry: uintptr(ef.Entry), Stack: stackBase + stackSize}, 0
}

// copyinto writes data into the frames backing [addr, addr+len(data)) by
// faulting each page in (forcing allocation if it is not already present,
// which DoMmap's eager population already guarantees here) and writing
// directly into the simulated frame via the address space's physical
// memory arena.
func copyinto(as *vmm.Vm_t, addr uintptr, data []byte) defs.Err_t {
	written := 0
	for written < len(data) {
		page := (addr + uintptr(written)) &^ uintptr(mem.PGSIZE-1)
		off := int((addr + uintptr(written)) - page)
		pte, ok := as.PageTable[page]
		if !ok {
			if ferr := as.PageFault(addr+uintptr(written), true); ferr != 0 {
				return ferr
			}
			pte = as.PageTable[page]
		}
		pa := mem.Pa_t(pte >> mem.PGSHIFT)
		frame := as.Phys.Dmap(pa)
		n := copy(frame[off:], data[written:])
		written += n
	}
	return 0
}
