package proc

import (
	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/sched"
	"github.com/sxmxr/mos/pkg/sig"
)

// DoKill implements do_kill's pid-sign dispatch from
// original_source/src/kernel/ipc/signal.c. caller is the process on whose
// behalf this call is made (current_process in the original); it is
// threaded explicitly through recursive calls since nothing here ever
// changes "the current process" the way a real context switch would.
//
// Confirmed open-question resolution: the pid==0, pid==-1, and pid<-1
// branches all recurse by passing the target's *gid* into the pid slot of
// the recursive call (`do_kill(proc->gid, signum)`, literally). Because
// the pid>0 branch resolves its target with a pid lookup, this means a
// broadcast to a process group only ever actually reaches the group
// leader (whose pid equals the group's gid), not every member — preserved
// here exactly rather than "fixed" into a real multicast, since this
// defect is explicitly called out for literal preservation.
func (k *Runtime) DoKill(caller *Process, pid defs.Pid_t, signum defs.Sig_t) defs.Err_t {
	if signum == 0 {
		return 0
	}
	if !defs.ValidSignal(signum) || signum < 0 {
		return defs.EINVAL
	}

	switch {
	case pid > 0:
		target, ok := k.Lookup(pid)
		if !ok {
			return defs.ESRCH
		}
		k.signalOne(caller, target, signum)

	case pid == 0:
		k.IterateAll(func(p *Process) bool {
			if p.Gid == caller.Gid {
				k.DoKill(caller, defs.Pid_t(p.Gid), signum)
			}
			return true
		})

	case pid == -1:
		k.IterateAll(func(p *Process) bool {
			if p.Pid > defs.InitPid {
				k.DoKill(caller, defs.Pid_t(p.Gid), signum)
			}
			return true
		})

	default: // pid < -1: send to process group -pid
		group := defs.Gid_t(-pid)
		k.IterateAll(func(p *Process) bool {
			if p.Gid == group {
				k.DoKill(caller, defs.Pid_t(p.Gid), signum)
			}
			return true
		})
	}
	return 0
}

// signalOne delivers signum to target (the pid>0 branch's body). The
// SIGCONT/stop side effects (process flags, notifying the parent) are
// applied to the target process, not the caller: sending kill(pid, SIGCONT)
// must continue the target, regardless of who sent it.
func (k *Runtime) signalOne(caller, target *Process, signum defs.Sig_t) {
	tsk := target.Thread
	if tsk == nil {
		return
	}
	tsk.mu.Lock()
	blocked := tsk.Blocked
	tsk.mu.Unlock()
	if sig.SigIgnored(blocked, &target.Sighand, signum) {
		return
	}

	switch {
	case signum == defs.SIGCONT:
		tsk.mu.Lock()
		tsk.Pending.DelMask(defs.STOP_SET)
		tsk.mu.Unlock()
		target.mu.Lock()
		target.Flags |= defs.CONTINUED
		target.Flags &^= defs.STOPPED
		target.mu.Unlock()
		if target.Parent != nil {
			k.DoKill(caller, target.Parent.Pid, defs.SIGCHLD)
			k.Sched.WakeUp(target.Parent.WaitChld)
		}
	case defs.SigKernelStop(signum):
		tsk.mu.Lock()
		tsk.Pending.Del(defs.SIGCONT)
		tsk.mu.Unlock()
		target.mu.Lock()
		target.Flags |= defs.STOPPED
		target.Flags &^= defs.CONTINUED
		target.mu.Unlock()
		if target.Parent != nil {
			k.DoKill(caller, target.Parent.Pid, defs.SIGCHLD)
			k.Sched.WakeUp(target.Parent.WaitChld)
		}
	}

	tsk.mu.Lock()
	tsk.Pending.Add(signum)
	tsk.mu.Unlock()
	k.Sched.WakeUp(tsk.SigWait)

	if (signum == defs.SIGCONT || signum == defs.SIGKILL) && (caller == nil || caller.Thread != tsk) {
		if tsk.Sched != nil {
			k.Sched.UpdateThread(tsk.Sched, sched.Ready)
		}
	}
}

// DoSigprocmask implements do_sigprocmask for t.
func (t *Thread) DoSigprocmask(how int, set *defs.Sigset_t) (defs.Sigset_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sig.DoSigprocmask(&t.Blocked, how, set)
}

// DoSigsuspend implements sigsuspend for t: atomically swap t's blocked mask
// for mask, park t until a signal becomes deliverable against the new mask,
// then restore the previous mask. Per sigsuspend's contract it never
// returns normally, always reporting EINTR once a signal is ready for
// delivery.
func (k *Runtime) DoSigsuspend(t *Thread, mask defs.Sigset_t) defs.Err_t {
	t.mu.Lock()
	old := t.Blocked
	t.Blocked = mask &^ defs.KERNEL_ONLY
	t.mu.Unlock()

	if t.Sched != nil {
		k.Sched.WaitEvent(t.Sched, t.SigWait, func() bool {
			t.mu.Lock()
			defer t.mu.Unlock()
			return sig.NextSignal(t.Pending, t.Blocked) != 0
		})
	}

	t.mu.Lock()
	t.Blocked = old
	t.mu.Unlock()
	return defs.EINTR
}

// DoSigaction implements do_sigaction against p's handler table.
func (p *Process) DoSigaction(signum defs.Sig_t, action *sig.Sigaction) (sig.Sigaction, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sig.DoSigaction(&p.Sighand, signum, action)
}

// DeliverPending runs handle_signal for t, terminating its process on a
// default-action signal or synchronously invoking a registered handler
// (there being no real return-to-user-mode to simulate), then recording
// the pushed signal frame for a later Sigreturn.
func (k *Runtime) DeliverPending(t *Thread) {
	t.mu.Lock()
	uregs := t.UserRegs
	pending, blocked, signaling := t.Pending, t.Blocked, t.Signaling
	outcome := sig.HandleSignal(&pending, &blocked, &signaling, &t.Owner.Sighand, uregs)
	t.Pending, t.Blocked, t.Signaling = pending, blocked, signaling
	t.mu.Unlock()

	switch outcome.Action {
	case sig.ActionTerminate:
		k.Exit(t.Owner, int(outcome.Signum))
	case sig.ActionInvokeHandler:
		t.mu.Lock()
		t.SigFrame = outcome.Frame
		t.mu.Unlock()
		if outcome.Handler != nil {
			outcome.Handler()
		}
	}
}

// Sigreturn implements sigreturn for t, restoring pre-handler state from
// the frame DeliverPending pushed.
func (t *Thread) Sigreturn() defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SigFrame == nil {
		return defs.EINVAL
	}
	blocked, signaling, uregs := sig.Sigreturn(t.SigFrame)
	t.Blocked = blocked
	t.Signaling = signaling
	t.UserRegs = uregs
	t.SigFrame = nil
	return 0
}
