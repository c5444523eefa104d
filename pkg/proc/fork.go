package proc

import (
	"github.com/sxmxr/mos/pkg/sched"
	"github.com/sxmxr/mos/pkg/trapframe"
)

// Fork clones parent into a new process, matching process_fork: gid/sid
// inherited, mm + VMA list cloned, sighand copied by value, the file
// table cloned (the child shares the parent's table if that clone fails),
// address space forked copy-on-write, and a new thread built from
// the parent's active thread with its register snapshot copied and eax
// forced to zero (fork's return value in the child).
func (k *Runtime) Fork(parent *Process) *Process {
	k.Sched.LockScheduler()
	defer k.Sched.UnlockScheduler()

	k.mu.Lock()
	k.nextPid++
	pid := k.nextPid
	k.mu.Unlock()

	files, ferr := parent.Files.Clone()
	if ferr != 0 {
		files = parent.Files
	}

	p := &Process{
		Pid:      pid,
		Gid:      parent.Gid,
		Sid:      parent.Sid,
		Name:     parent.Name,
		Parent:   parent,
		Sighand:  parent.Sighand,
		Files:    files,
		AS:       parent.AS.Fork(),
		WaitChld: sched.NewWaitQueue(),
	}

	parent.mu.Lock()
	parent.Children = append(parent.Children, p)
	parent.mu.Unlock()

	k.mu.Lock()
	k.processes[pid] = p
	k.mu.Unlock()

	parentThread := parent.Thread
	child := &Thread{Owner: p, SigWait: sched.NewWaitQueue()}
	child.UserRegs = parentThread.UserRegs
	child.UserRegs.Eax = 0

	prio := 0
	if parentThread.Sched != nil {
		prio = parentThread.Sched.Prio
	}

	entry := trapframe.UserThreadEntry(func() {
		log.Debugf("forked thread running pid=%d", p.Pid)
	})
	frame := trapframe.NewForkedFrame(0)
	child.Sched = k.Sched.NewThread(prio, frame, entry, child)
	k.Sched.Queue(child.Sched)
	p.Thread = child

	log.Debugf("process_fork parent=%d child=%d", parent.Pid, pid)
	return p
}
