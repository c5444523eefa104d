package proc

import "github.com/sxmxr/mos/pkg/defs"

// WaitOptions is the waitpid options bitfield.
type WaitOptions uint32

const (
	// WNOHANG makes Wait return immediately with (0, 0, 0) instead of
	// blocking when no child has changed state yet.
	WNOHANG WaitOptions = 1 << 0
)

// stateChanged reports whether c has a STOPPED/CONTINUED/TERMINATED
// transition waiting to be observed by its parent.
func stateChanged(c *Process) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Flags&(defs.TERMINATED|defs.STOPPED|defs.CONTINUED) != 0
}

// findWaitTarget scans parent's children for one matching pid (pid > 0:
// that exact child; pid <= 0: any child) that has an unobserved state
// change, mirroring the scan a real waitpid does before it decides whether
// to block.
func findWaitTarget(parent *Process, pid defs.Pid_t) (*Process, bool, defs.Err_t) {
	parent.mu.Lock()
	children := append([]*Process(nil), parent.Children...)
	parent.mu.Unlock()

	if pid > 0 {
		for _, c := range children {
			if c.Pid != pid {
				continue
			}
			return c, stateChanged(c), 0
		}
		return nil, false, defs.ESRCH
	}

	if len(children) == 0 {
		return nil, false, defs.ESRCH
	}
	for _, c := range children {
		if stateChanged(c) {
			return c, true, 0
		}
	}
	return nil, false, 0
}

// reapChild consumes child's observed transition: a STOPPED/CONTINUED
// transition is cleared so the next one is reported fresh, while a
// TERMINATED child is removed from the process table and its parent's
// child list entirely (the zombie is reaped).
func (k *Runtime) reapChild(parent, child *Process) (status int, terminated bool) {
	child.mu.Lock()
	status = int(child.CausedSignal)
	terminated = child.Flags&defs.TERMINATED != 0
	child.Flags &^= defs.STOPPED | defs.CONTINUED
	child.mu.Unlock()

	if !terminated {
		return status, false
	}

	parent.mu.Lock()
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	parent.mu.Unlock()

	k.mu.Lock()
	delete(k.processes, child.Pid)
	k.mu.Unlock()

	return status, true
}

// Wait implements waitpid(pid, status, options) for parent: pid > 0 waits
// for that specific child, pid <= 0 waits for any child. It parks parent's
// thread on WaitChld until a child transitions to STOPPED, CONTINUED, or
// TERMINATED — the same wait queue DoKill's SIGCONT/stop handling and Exit
// already wake, which previously had no consumer at all.
func (k *Runtime) Wait(parent *Process, pid defs.Pid_t, options WaitOptions) (defs.Pid_t, int, defs.Err_t) {
	child, ready, err := findWaitTarget(parent, pid)
	if err != 0 {
		return 0, 0, err
	}
	if !ready {
		if options&WNOHANG != 0 {
			return 0, 0, 0
		}
		if parent.Thread == nil || parent.Thread.Sched == nil {
			return 0, 0, defs.ESRCH
		}
		k.Sched.WaitEvent(parent.Thread.Sched, parent.WaitChld, func() bool {
			var ok bool
			child, ok, _ = findWaitTarget(parent, pid)
			return ok
		})
	}

	status, _ := k.reapChild(parent, child)
	return child.Pid, status, 0
}
