// Package sig implements the signal-delivery algorithm from
// original_source/src/kernel/ipc/signal.c: next_signal's priority tiering,
// do_sigprocmask, do_sigaction, handle_signal's default/user-defined split,
// and sigreturn. The pid-sign dispatch of do_kill needs the process table
// and lives in pkg/proc instead; everything here operates on a single
// thread/process's signal state and has no knowledge of other processes.
package sig

import (
	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/trapframe"
)

// sigprocmask "how" values.
const (
	SIG_BLOCK = iota
	SIG_UNBLOCK
	SIG_SETMASK
)

// Disposition is a signal's current handling mode.
type Disposition int

const (
	SigDfl Disposition = iota
	SigIgn
	SigHandlerSet
)

// Handler is invoked synchronously to simulate running a user signal
// handler; there is no real user-mode return trampoline to jump to, so the
// caller (pkg/proc) calls this directly at the point handle_signal would
// have copied eip and returned to user mode.
type Handler func()

// Sigaction mirrors struct sigaction: disposition, handler, blocked-during
// mask, and flags.
type Sigaction struct {
	Disposition Disposition
	Handler     Handler
	Mask        defs.Sigset_t
	Flags       uint32
}

// SigactionTable is a process's per-signal disposition table, indexed by
// signum-1.
type SigactionTable [defs.NSIG]Sigaction

// SignalFrame is pushed (conceptually) onto the user stack before a handler
// runs and consumed by Sigreturn, mirroring struct signal_frame.
type SignalFrame struct {
	Signum    defs.Sig_t
	Signaling bool
	Blocked   defs.Sigset_t
	Uregs     trapframe.TrapFrame
}

// NextSignal picks the next deliverable signal from pending, excluding
// blocked, using the three-tier priority from next_signal: coredump-class
// signals first, then any other non-SIGCONT signal, then SIGCONT. Returns 0
// if nothing is deliverable.
func NextSignal(pending, blocked defs.Sigset_t) defs.Sig_t {
	mask := pending &^ blocked
	if mask == 0 {
		return 0
	}
	if c := mask & defs.COREDUMP_SET; c != 0 {
		return lowestSet(c)
	}
	if nc := mask &^ defs.SigMask(defs.SIGCONT); nc != 0 {
		return lowestSet(nc)
	}
	if mask&defs.SigMask(defs.SIGCONT) != 0 {
		return defs.SIGCONT
	}
	return 0
}

func lowestSet(m defs.Sigset_t) defs.Sig_t {
	for i := defs.Sig_t(1); i < defs.NSIG; i++ {
		if m&defs.SigMask(i) != 0 {
			return i
		}
	}
	return 0
}

// SigIgnored reports whether sig would be silently dropped if delivered
// right now: either it is unblocked and explicitly SIG_IGN, or it is
// unblocked, at its default disposition, and that default is to ignore.
func SigIgnored(blocked defs.Sigset_t, table *SigactionTable, sig defs.Sig_t) bool {
	if blocked.Has(sig) {
		return false
	}
	act := table[sig-1]
	return act.Disposition == SigIgn || (act.Disposition == SigDfl && defs.SigKernelIgnore(sig))
}

// DoSigprocmask implements do_sigprocmask against an explicit blocked-set
// pointer (the calling thread's). Returns the mask in effect before the
// update.
func DoSigprocmask(blocked *defs.Sigset_t, how int, set *defs.Sigset_t) (defs.Sigset_t, defs.Err_t) {
	old := *blocked
	if set != nil {
		switch how {
		case SIG_BLOCK:
			blocked.AddMask(*set)
		case SIG_UNBLOCK:
			blocked.DelMask(*set)
		case SIG_SETMASK:
			*blocked = *set
		default:
			return old, defs.EINVAL
		}
		blocked.DelMask(defs.KERNEL_ONLY)
	}
	return old, 0
}

// DoSigaction implements do_sigaction: SIGKILL/SIGSTOP may never be
// rebound. Returns the disposition in effect before the update.
func DoSigaction(table *SigactionTable, signum defs.Sig_t, action *Sigaction) (Sigaction, defs.Err_t) {
	if !defs.ValidSignal(signum) || signum < 1 || defs.SigKernelOnly(signum) {
		return Sigaction{}, defs.EINVAL
	}
	old := table[signum-1]
	if action != nil {
		table[signum-1] = *action
	}
	return old, 0
}

// Action is handle_signal's verdict for the signal it dequeued.
type Action int

const (
	ActionNone Action = iota
	ActionTerminate
	ActionInvokeHandler
)

// Outcome describes what the caller must do next.
type Outcome struct {
	Action  Action
	Signum  defs.Sig_t
	Frame   *SignalFrame // set only when Action == ActionInvokeHandler
	Handler Handler      // set only when Action == ActionInvokeHandler
}

// HandleSignal implements handle_signal: dequeue the next deliverable
// signal and decide whether it terminates the process (default action),
// runs a user handler (building the signal frame that Sigreturn later
// consumes), or is a no-op.
//
// Kernel-stop and kernel-ignore signals at their default disposition are
// treated as no-ops here: do_kill already applied the STOPPED/CONTINUED
// process-flag side effects for stop signals when it queued them, so there
// is nothing left for delivery to do. The original's handle_signal instead
// asserts sig_kernel_coredump(signum) on the default-action path, which a
// pending default-disposition stop signal would violate; that path is
// unreachable here by construction rather than by relying on the assert.
func HandleSignal(pending, blocked *defs.Sigset_t, signaling *bool, table *SigactionTable, uregs trapframe.TrapFrame) Outcome {
	if *pending == 0 || *signaling {
		return Outcome{Action: ActionNone}
	}
	prevSignaling := *signaling
	*signaling = true

	signum := NextSignal(*pending, *blocked)
	if signum == 0 {
		*signaling = prevSignaling
		return Outcome{Action: ActionNone}
	}
	pending.Del(signum)

	act := table[signum-1]
	switch act.Disposition {
	case SigDfl:
		if defs.SigKernelStop(signum) || defs.SigKernelIgnore(signum) {
			*signaling = prevSignaling
			return Outcome{Action: ActionNone}
		}
		*signaling = false
		*pending = 0
		return Outcome{Action: ActionTerminate, Signum: signum}
	case SigHandlerSet:
		frame := &SignalFrame{
			Signum:    signum,
			Signaling: prevSignaling,
			Blocked:   *blocked,
			Uregs:     uregs,
		}
		blocked.Add(signum)
		blocked.AddMask(act.Mask)
		return Outcome{Action: ActionInvokeHandler, Signum: signum, Frame: frame, Handler: act.Handler}
	default: // SigIgn: shouldn't normally be queued (do_kill filters), drop defensively
		*signaling = prevSignaling
		return Outcome{Action: ActionNone}
	}
}

// Sigreturn implements sigreturn: restore the pre-handler state from frame.
func Sigreturn(frame *SignalFrame) (blocked defs.Sigset_t, signaling bool, uregs trapframe.TrapFrame) {
	return frame.Blocked, frame.Signaling, frame.Uregs
}
