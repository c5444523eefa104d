// Package kernel wires the process table, scheduler, physical memory arena,
// signal subsystem, and mouse device into a single bootable runtime, the way
// original_source/src/kernel/main.c's kmain ties every subsystem together
// before falling into the scheduler loop. It is the thing cmd/koncli drives.
package kernel

import (
	"github.com/sxmxr/mos/pkg/bootcfg"
	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/klog"
	"github.com/sxmxr/mos/pkg/mousedev"
	"github.com/sxmxr/mos/pkg/proc"
	"github.com/sxmxr/mos/pkg/sched"
)

var log = klog.Sub("kernel")

// Kernel is the whole simulated system: a process runtime plus the device
// state that sits alongside it. cmd/koncli holds exactly one of these.
type Kernel struct {
	Runtime *proc.Runtime
	Mouse   *mousedev.Device
	Init    *proc.Process
}

// Boot constructs a fresh kernel per cfg and creates the init process (pid
// 1), matching kmain's early "start init" step. Init has no ELF image of its
// own here; it exists purely as the reparenting target for orphaned children
// and the universal signal sink, which is all §6/§7 require of it.
func Boot(cfg bootcfg.Config) *Kernel {
	rt := proc.NewRuntime(cfg)
	k := &Kernel{Runtime: rt}
	k.Mouse = mousedev.NewDevice(rt.Sched)
	k.Init = rt.CreateProcess(nil, "init", nil)
	rt.CreateKernelThread(k.Init, func() {
		log.Debug("init running")
	}, sched.Ready, cfg.DefaultPriority)
	log.Infof("boot complete, init pid=%d", k.Init.Pid)
	return k
}

// Spawn creates a new process running the given ELF image as a child of
// parent (or of init, if parent is nil), matching the fork+exec idiom every
// original_source loader uses (there being no single do_execve entry point
// in the filtered source; spawn collapses fork-then-exec into one call since
// nothing here needs the intermediate forked-but-not-yet-exec'd state).
func (k *Kernel) Spawn(parent *proc.Process, name string, elfImage []byte) *proc.Process {
	if parent == nil {
		parent = k.Init
	}
	p := k.Runtime.CreateProcess(parent, name, nil)
	k.Runtime.CreateUserThread(p, elfImage, sched.Ready, k.Runtime.Cfg.DefaultPriority, nil)
	return p
}

// Fork implements the fork(2) syscall surface against p.
func (k *Kernel) Fork(p *proc.Process) *proc.Process {
	return k.Runtime.Fork(p)
}

// Kill implements kill(2): caller sends signum to pid, per do_kill's
// pid-sign dispatch.
func (k *Kernel) Kill(caller *proc.Process, pid defs.Pid_t, signum defs.Sig_t) defs.Err_t {
	return k.Runtime.DoKill(caller, pid, signum)
}

// Exit implements exit(2) for p.
func (k *Kernel) Exit(p *proc.Process, code int) {
	k.Runtime.Exit(p, code)
}

// Wait implements waitpid(2) for parent.
func (k *Kernel) Wait(parent *proc.Process, pid defs.Pid_t, options proc.WaitOptions) (defs.Pid_t, int, defs.Err_t) {
	return k.Runtime.Wait(parent, pid, options)
}

// Setsid implements setsid(2) for p.
func (k *Kernel) Setsid(p *proc.Process) defs.Pid_t {
	return k.Runtime.Setsid(p)
}

// Setpgid implements setpgid(2): caller acts on behalf of pid (0 meaning
// itself), moving it into group pgid (0 meaning "become its own leader").
func (k *Kernel) Setpgid(caller *proc.Process, pid, pgid defs.Pid_t) defs.Err_t {
	return k.Runtime.Setpgid(caller, pid, pgid)
}

// Sigsuspend implements sigsuspend(2) for t.
func (k *Kernel) Sigsuspend(t *proc.Thread, mask defs.Sigset_t) defs.Err_t {
	return k.Runtime.DoSigsuspend(t, mask)
}

// Run drains the ready queue, dispatching every runnable thread until none
// remain, matching the scheduler's idle-when-empty contract.
func (k *Kernel) Run() {
	k.Runtime.Sched.Run()
}

// Processes returns a snapshot of every live process, for inspection
// (ps-style) tooling.
func (k *Kernel) Processes() []*proc.Process {
	var out []*proc.Process
	k.Runtime.IterateAll(func(p *proc.Process) bool {
		out = append(out, p)
		return true
	})
	return out
}
