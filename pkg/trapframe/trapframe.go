// Package trapframe models the kernel-stack trap frame and the three thread
// entry trampolines from original_source/src/kernel/proc/task.c. There is no
// real x86 stack to unwind on top of the host Go runtime, so the frame is an
// ordinary struct rather than a memory layout, and the trampolines are Go
// closures the scheduler's dispatch loop invokes directly instead of
// assembly that pops registers and `iret`s. The field order and the
// sequence of operations each trampoline performs are preserved exactly.
package trapframe

// TrappedPageFault is the sentinel return_address used for threads whose
// first "return" is actually their entry trampoline running for the first
// time, mirroring PROCESS_TRAPPED_PAGE_FAULT.
const TrappedPageFault uint32 = 0xffffffff

// TrapFrame is the saved register/context snapshot built when a thread is
// created and restored when it is dispatched. Field order matches the
// original, top to bottom: edi, esi, ebp, esp, ebx, edx, ecx, eax, eip,
// return_address, parameter1..3.
type TrapFrame struct {
	Edi, Esi, Ebp, Esp   uint32
	Ebx, Edx, Ecx, Eax   uint32
	Eip                  uint32
	ReturnAddress        uint32
	Parameter1           uint32
	Parameter2           uint32
	Parameter3           uint32
}

// Entry is the trampoline a thread runs the first time it is dispatched.
// It receives the frame that was seeded at thread-creation time.
type Entry func(frame *TrapFrame)

// KernelThreadEntry is the trampoline for create_kernel_thread: it invokes
// the thread's flow function and, once that returns, reschedules. flow is
// captured by the returned closure; it is not read from the frame's
// Parameter2.
func KernelThreadEntry(flow func(), reschedule func()) Entry {
	return func(frame *TrapFrame) {
		flow()
		reschedule()
	}
}

// UserThreadElfEntry is the trampoline for create_user_thread: per the
// confirmed behavior of user_thread_elf_entry in the original, it unlocks
// the scheduler lock unconditionally before doing any work (the caller,
// create_user_thread, took the lock and expects the trampoline itself to
// drop it once the new thread is actually running). It then loads the ELF
// image, sets up the user stack, runs the optional setup hook, and jumps to
// the entry point.
func UserThreadElfEntry(unlockScheduler func(), loadAndEnter func()) Entry {
	return func(frame *TrapFrame) {
		unlockScheduler()
		loadAndEnter()
	}
}

// UserThreadEntry is the trampoline used by a forked thread returning to
// user mode with its saved register snapshot (rather than a fresh ELF
// entry), mirroring user_thread_entry.
func UserThreadEntry(returnToUser func()) Entry {
	return func(frame *TrapFrame) {
		returnToUser()
	}
}

// NewKernelFrame seeds a trap frame for a brand-new kernel thread the way
// create_kernel_thread does: parameter2 carries the entry point, parameter1
// the thread handle, and return_address holds the page-fault sentinel. Eip
// and all general-purpose registers start at zero, since the trampoline is
// a Go closure rather than an address.
func NewKernelFrame(threadHandle, entryPoint uint32) *TrapFrame {
	return &TrapFrame{
		Parameter1:    threadHandle,
		Parameter2:    entryPoint,
		ReturnAddress: TrappedPageFault,
	}
}

// NewUserElfFrame seeds a trap frame for create_user_thread: parameter3
// carries the setup hook, parameter2 the path, parameter1 the thread
// handle.
func NewUserElfFrame(threadHandle, pathHandle, setupHandle uint32) *TrapFrame {
	return &TrapFrame{
		Parameter1:    threadHandle,
		Parameter2:    pathHandle,
		Parameter3:    setupHandle,
		ReturnAddress: TrappedPageFault,
	}
}

// NewForkedFrame seeds the child's trap frame on fork: only parameter1
// (the new thread handle) and the entry/return-address sentinel are set;
// the parent's user register snapshot is copied separately with Eax forced
// to zero (fork's return value in the child), matching process_fork.
func NewForkedFrame(threadHandle uint32) *TrapFrame {
	return &TrapFrame{
		Parameter1:    threadHandle,
		ReturnAddress: TrappedPageFault,
	}
}
