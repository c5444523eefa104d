package proc

import "github.com/sxmxr/mos/pkg/defs"

// Getppid returns p's parent's pid, or 0 if p has no parent (the root
// process), mirroring getppid.
func (p *Process) Getppid() defs.Pid_t {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Parent == nil {
		return 0
	}
	return p.Parent.Pid
}

// Setsid implements setsid: p becomes the leader of a new session and
// process group, both named after its own pid.
func (k *Runtime) Setsid(p *Process) defs.Pid_t {
	k.Sched.LockScheduler()
	defer k.Sched.UnlockScheduler()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Sid = p.Pid
	p.Gid = p.Pid
	return p.Sid
}

// Setpgid implements setpgid: move the process named by pid (0 meaning
// caller) into the group named by pgid (0 meaning "become its own group
// leader"). Every process-table mutation here happens under the scheduler
// lock, same as CreateProcess and Fork.
func (k *Runtime) Setpgid(caller *Process, pid, pgid defs.Pid_t) defs.Err_t {
	k.Sched.LockScheduler()
	defer k.Sched.UnlockScheduler()

	target := caller
	if pid != 0 {
		t, ok := k.Lookup(pid)
		if !ok {
			return defs.ESRCH
		}
		target = t
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if pgid == 0 {
		target.Gid = target.Pid
	} else {
		target.Gid = pgid
	}
	return 0
}
