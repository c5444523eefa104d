package sig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/trapframe"
)

func TestNextSignalPriorityTiers(t *testing.T) {
	var pending defs.Sigset_t
	pending.Add(defs.SIGCONT)
	pending.Add(defs.SIGTERM)
	pending.Add(defs.SIGSEGV)

	// Coredump-class signals (SIGSEGV) win over everything else.
	assert.Equal(t, defs.SIGSEGV, NextSignal(pending, 0))

	pending = 0
	pending.Add(defs.SIGCONT)
	pending.Add(defs.SIGTERM)
	// Any other non-SIGCONT signal beats SIGCONT.
	assert.Equal(t, defs.SIGTERM, NextSignal(pending, 0))

	pending = 0
	pending.Add(defs.SIGCONT)
	// SIGCONT only wins when nothing else is pending.
	assert.Equal(t, defs.SIGCONT, NextSignal(pending, 0))

	assert.Equal(t, defs.Sig_t(0), NextSignal(0, 0))
}

func TestNextSignalExcludesBlocked(t *testing.T) {
	var pending, blocked defs.Sigset_t
	pending.Add(defs.SIGSEGV)
	blocked.Add(defs.SIGSEGV)
	assert.Equal(t, defs.Sig_t(0), NextSignal(pending, blocked))
}

func TestHandleSignalDefaultActionTerminates(t *testing.T) {
	var pending, blocked defs.Sigset_t
	var signaling bool
	pending.Add(defs.SIGSEGV)
	var table SigactionTable

	outcome := HandleSignal(&pending, &blocked, &signaling, &table, trapframe.TrapFrame{})
	require.Equal(t, ActionTerminate, outcome.Action)
	assert.Equal(t, defs.SIGSEGV, outcome.Signum)
	assert.Equal(t, defs.Sigset_t(0), pending)
}

func TestHandleSignalUserHandlerRoundTrip(t *testing.T) {
	var pending, blocked defs.Sigset_t
	var signaling bool
	pending.Add(defs.SIGUSR1)
	var table SigactionTable
	called := false
	table[defs.SIGUSR1-1] = Sigaction{Disposition: SigHandlerSet, Handler: func() { called = true }}

	frame := trapframe.TrapFrame{Eip: 0x1000}
	outcome := HandleSignal(&pending, &blocked, &signaling, &table, frame)
	require.Equal(t, ActionInvokeHandler, outcome.Action)
	require.NotNil(t, outcome.Frame)
	assert.Equal(t, frame, outcome.Frame.Uregs)
	assert.True(t, blocked.Has(defs.SIGUSR1), "handler's own signal is blocked while it runs")

	outcome.Handler()
	assert.True(t, called)

	restoredBlocked, restoredSignaling, restoredRegs := Sigreturn(outcome.Frame)
	assert.False(t, restoredBlocked.Has(defs.SIGUSR1))
	assert.Equal(t, frame, restoredRegs)
	assert.Equal(t, false, restoredSignaling)
}

func TestHandleSignalKernelStopDefaultIsNoop(t *testing.T) {
	var pending, blocked defs.Sigset_t
	var signaling bool
	pending.Add(defs.SIGSTOP)
	var table SigactionTable

	outcome := HandleSignal(&pending, &blocked, &signaling, &table, trapframe.TrapFrame{})
	assert.Equal(t, ActionNone, outcome.Action)
}

func TestDoSigactionRejectsKernelOnlySignals(t *testing.T) {
	var table SigactionTable
	_, err := DoSigaction(&table, defs.SIGKILL, &Sigaction{Disposition: SigIgn})
	assert.Equal(t, defs.EINVAL, err)
}

func TestDoSigprocmaskNeverBlocksKernelOnly(t *testing.T) {
	var blocked defs.Sigset_t
	set := defs.SigMask(defs.SIGKILL) | defs.SigMask(defs.SIGTERM)
	_, err := DoSigprocmask(&blocked, SIG_SETMASK, &set)
	require.Equal(t, defs.Err_t(0), err)
	assert.False(t, blocked.Has(defs.SIGKILL))
	assert.True(t, blocked.Has(defs.SIGTERM))
}
