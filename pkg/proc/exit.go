package proc

import (
	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/fd"
	"github.com/sxmxr/mos/pkg/sched"
)

// Exit tears a process down: its address space and descriptors are
// released, its children are reparented to init, it is marked TERMINATED,
// and its parent is notified with SIGCHLD and woken on wait_chld.
func (k *Runtime) Exit(p *Process, code int) {
	k.Sched.LockScheduler()
	defer k.Sched.UnlockScheduler()

	p.AS.Uvmfree()
	for i := 0; i < fd.MaxFD; i++ {
		if _, err := p.Files.Get(i); err == 0 {
			p.Files.Close(i)
		}
	}

	k.mu.Lock()
	init, hasInit := k.processes[defs.InitPid]
	k.mu.Unlock()

	p.mu.Lock()
	children := p.Children
	p.Children = nil
	p.mu.Unlock()

	if hasInit && init != p {
		for _, c := range children {
			c.mu.Lock()
			c.Parent = init
			c.mu.Unlock()
			init.mu.Lock()
			init.Children = append(init.Children, c)
			init.mu.Unlock()
		}
	}

	p.mu.Lock()
	p.Flags |= defs.TERMINATED
	p.Flags &^= defs.STOPPED | defs.CONTINUED
	p.CausedSignal = defs.Sig_t(code)
	p.mu.Unlock()

	if p.Thread != nil && p.Thread.Sched != nil {
		k.Sched.UpdateThread(p.Thread.Sched, sched.Terminated)
	}

	if p.Parent != nil {
		k.DoKill(p, p.Parent.Pid, defs.SIGCHLD)
		k.Sched.WakeUp(p.Parent.WaitChld)
	}

	log.Debugf("exit pid=%d code=%d", p.Pid, code)
}
