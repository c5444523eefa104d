// Package proc is the kernel's process and thread table: creation,
// lookup, the parent/child tree, and the glue between pkg/sched,
// pkg/vmm, pkg/fd, and pkg/sig. It is grounded on
// original_source/src/kernel/proc/task.c (create_process,
// create_kernel_thread, create_user_thread, process_fork) and on the
// locking discipline of biscuit/src/vm/as.go.
package proc

import (
	"sync"

	"github.com/sxmxr/mos/pkg/bootcfg"
	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/fd"
	"github.com/sxmxr/mos/pkg/klog"
	"github.com/sxmxr/mos/pkg/mem"
	"github.com/sxmxr/mos/pkg/sched"
	"github.com/sxmxr/mos/pkg/sig"
	"github.com/sxmxr/mos/pkg/trapframe"
	"github.com/sxmxr/mos/pkg/vmm"
)

var log = klog.Sub("proc")

// Thread is the schedulable unit plus the thread-local signal state that
// original_source's struct thread carries (pending, blocked, signaling) and
// a back-reference to the owning process. The single-threaded process
// model means there is exactly one Thread per Process.
type Thread struct {
	Sched *sched.Thread
	Owner *Process

	mu        sync.Mutex
	Pending   defs.Sigset_t
	Blocked   defs.Sigset_t
	Signaling bool
	SigFrame  *sig.SignalFrame
	UserRegs  trapframe.TrapFrame
	SigWait   *sched.WaitQueue
}

// Process is one process-table entry.
type Process struct {
	mu sync.Mutex

	Pid  defs.Pid_t
	Gid  defs.Gid_t
	Sid  defs.Sid_t
	Name string

	Parent   *Process
	Children []*Process

	AS      *vmm.Vm_t
	Files   *fd.Table
	Sighand sig.SigactionTable
	Flags   defs.ProcFlags

	CausedSignal defs.Sig_t
	Thread       *Thread
	WaitChld     *sched.WaitQueue
}

// Runtime is the whole kernel: the process table, scheduler, and the
// physical frame arena every address space draws from.
type Runtime struct {
	mu        sync.Mutex
	Sched     *sched.Scheduler
	Phys      *mem.Physmem_t
	Cfg       bootcfg.Config
	processes map[defs.Pid_t]*Process
	nextPid   defs.Pid_t
}

// NewRuntime builds an empty kernel runtime per cfg.
func NewRuntime(cfg bootcfg.Config) *Runtime {
	return &Runtime{
		Sched:     sched.NewScheduler(),
		Phys:      mem.NewPhysmem(cfg.FramePages),
		Cfg:       cfg,
		processes: make(map[defs.Pid_t]*Process),
	}
}

// Lookup returns the process with the given pid, mirroring
// find_process_by_pid.
func (k *Runtime) Lookup(pid defs.Pid_t) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.processes[pid]
	return p, ok
}

// IterateAll calls f for every live process, stopping early if f returns
// false. Mirrors for_each_process.
func (k *Runtime) IterateAll(f func(*Process) bool) {
	k.mu.Lock()
	snapshot := make([]*Process, 0, len(k.processes))
	for _, p := range k.processes {
		snapshot = append(snapshot, p)
	}
	k.mu.Unlock()
	for _, p := range snapshot {
		if !f(p) {
			return
		}
	}
}

// CurrentProcess returns the process owning the thread presently holding
// the scheduler baton, mirroring current_process. Returns nil if idle.
func (k *Runtime) CurrentProcess() *Process {
	st := k.Sched.Current()
	if st == nil {
		return nil
	}
	return st.Owner.(*Thread).Owner
}

// CreateProcess allocates a process table entry. When parent is non-nil,
// its file-descriptor table is cloned and the new process is linked into
// its children list, matching create_process. When sharedAS is non-nil the
// new process reuses that address space (vmm_get_directory); otherwise a
// fresh one is created (vmm_create_address_space).
func (k *Runtime) CreateProcess(parent *Process, name string, sharedAS *vmm.Vm_t) *Process {
	k.Sched.LockScheduler()
	defer k.Sched.UnlockScheduler()

	k.mu.Lock()
	k.nextPid++
	pid := k.nextPid
	k.mu.Unlock()

	p := &Process{
		Pid:      pid,
		Gid:      pid,
		Name:     name,
		WaitChld: sched.NewWaitQueue(),
	}
	if sharedAS != nil {
		p.AS = sharedAS
	} else {
		p.AS = vmm.NewVm(k.Phys, 0x10000)
	}

	if parent != nil {
		p.Parent = parent
		p.Gid = parent.Gid
		p.Sid = parent.Sid
		files, err := parent.Files.Clone()
		if err != 0 {
			log.Warnf("clone fd table for pid %d failed: %v", pid, err)
			files = fd.NewTable()
		}
		p.Files = files
		parent.mu.Lock()
		parent.Children = append(parent.Children, p)
		parent.mu.Unlock()
	} else {
		p.Files = fd.NewTable()
	}

	k.mu.Lock()
	k.processes[pid] = p
	k.mu.Unlock()

	log.Debugf("create_process pid=%d name=%s parent=%v", pid, name, parent != nil)
	return p
}

// CreateKernelThread spawns flow as a kernel thread belonging to parent, in
// the given initial scheduling state, matching create_kernel_thread.
func (k *Runtime) CreateKernelThread(parent *Process, flow func(), initial sched.State, prio int) *Thread {
	k.Sched.LockScheduler()
	defer k.Sched.UnlockScheduler()

	t := &Thread{Owner: parent, SigWait: sched.NewWaitQueue()}
	entry := trapframe.KernelThreadEntry(flow, func() { k.Sched.Schedule() })
	frame := trapframe.NewKernelFrame(0, 0)
	t.Sched = k.Sched.NewThread(prio, frame, entry, t)
	if initial == sched.Ready {
		k.Sched.Queue(t.Sched)
	} else {
		k.Sched.UpdateThread(t.Sched, initial)
	}
	parent.Thread = t
	return t
}
