package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxmxr/mos/pkg/bootcfg"
	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/sched"
	"github.com/sxmxr/mos/pkg/sig"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := bootcfg.Default()
	cfg.FramePages = 256
	return NewRuntime(cfg)
}

func TestForkCreatesIndependentChild(t *testing.T) {
	k := newTestRuntime(t)
	init := k.CreateProcess(nil, "init", nil)
	k.CreateKernelThread(init, func() {}, sched.Waiting, 5)
	init.Thread.UserRegs.Eax = 42

	child := k.Fork(init)
	require.NotNil(t, child)
	assert.NotEqual(t, init.Pid, child.Pid)
	assert.Equal(t, init, child.Parent)
	assert.Contains(t, init.Children, child)
	assert.Equal(t, uint32(0), child.Thread.UserRegs.Eax, "fork's return value in the child is 0")

	found, ok := k.Lookup(child.Pid)
	assert.True(t, ok)
	assert.Same(t, child, found)
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	k := newTestRuntime(t)
	init := k.CreateProcess(nil, "init", nil)
	k.CreateKernelThread(init, func() {}, sched.Waiting, 5)
	k.processes[defs.InitPid] = init
	init.Pid = defs.InitPid

	mid := k.CreateProcess(init, "mid", nil)
	k.CreateKernelThread(mid, func() {}, sched.Waiting, 5)
	leaf := k.CreateProcess(mid, "leaf", nil)
	k.CreateKernelThread(leaf, func() {}, sched.Waiting, 5)

	k.Exit(mid, 0)

	assert.Equal(t, init, leaf.Parent)
	assert.Contains(t, init.Children, leaf)
	assert.NotZero(t, mid.Flags&defs.TERMINATED)
}

func TestDoKillDirectDelivery(t *testing.T) {
	k := newTestRuntime(t)
	init := k.CreateProcess(nil, "init", nil)
	k.CreateKernelThread(init, func() {}, sched.Waiting, 5)

	target := k.CreateProcess(init, "target", nil)
	k.CreateKernelThread(target, func() {}, sched.Waiting, 5)

	require.Equal(t, defs.Err_t(0), k.DoKill(init, target.Pid, defs.SIGTERM))
	assert.True(t, target.Thread.Pending.Has(defs.SIGTERM))
}

func TestDoKillGroupBroadcastOnlyReachesLeader(t *testing.T) {
	// Documented Open Question: do_kill's pid==0 broadcast recurses with the
	// target's gid in the pid slot, so only the process whose pid equals the
	// group's gid (the leader) is ever actually resolved and signaled.
	k := newTestRuntime(t)
	init := k.CreateProcess(nil, "init", nil)
	k.CreateKernelThread(init, func() {}, sched.Waiting, 5)

	leader := k.CreateProcess(init, "leader", nil)
	k.CreateKernelThread(leader, func() {}, sched.Waiting, 5)
	leader.Gid = leader.Pid // leader.Pid == leader.Gid makes it resolvable by pid lookup
	member := k.CreateProcess(init, "member", nil)
	k.CreateKernelThread(member, func() {}, sched.Waiting, 5)
	member.Gid = leader.Gid // same process group, different pid

	require.Equal(t, defs.Err_t(0), k.DoKill(leader, 0, defs.SIGTERM))

	assert.True(t, leader.Thread.Pending.Has(defs.SIGTERM), "the leader is reachable since its pid equals its gid")
	assert.False(t, member.Thread.Pending.Has(defs.SIGTERM), "a non-leader member is never actually reached")
}

func TestSignalDeliveryAndSigreturnRoundTrip(t *testing.T) {
	k := newTestRuntime(t)
	init := k.CreateProcess(nil, "init", nil)
	th := k.CreateKernelThread(init, func() {}, sched.Waiting, 5)

	called := false
	_, err := init.DoSigaction(defs.SIGUSR1, &sig.Sigaction{
		Disposition: sig.SigHandlerSet,
		Handler:     func() { called = true },
	})
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), k.DoKill(init, init.Pid, defs.SIGUSR1))
	k.DeliverPending(th)

	assert.True(t, called)
	assert.NotNil(t, th.SigFrame)

	require.Equal(t, defs.Err_t(0), th.Sigreturn())
	assert.Nil(t, th.SigFrame)
}

func TestSignalDeliveryDefaultTerminates(t *testing.T) {
	k := newTestRuntime(t)
	init := k.CreateProcess(nil, "init", nil)
	th := k.CreateKernelThread(init, func() {}, sched.Waiting, 5)

	require.Equal(t, defs.Err_t(0), k.DoKill(init, init.Pid, defs.SIGSEGV))
	k.DeliverPending(th)

	assert.NotZero(t, init.Flags&defs.TERMINATED)
	assert.Equal(t, defs.SIGSEGV, init.CausedSignal)
}

// TestSigsuspendBlocksUntilDeliverableSignalArrives exercises sigsuspend's
// consumer side: the thread parks on its own SigWait until a signal not
// masked by the suspended mask is pending, then its original mask is
// restored.
func TestSigsuspendBlocksUntilDeliverableSignalArrives(t *testing.T) {
	k := newTestRuntime(t)
	init := k.CreateProcess(nil, "init", nil)

	var th *Thread
	var err defs.Err_t
	th = k.CreateKernelThread(init, func() {
		th.Blocked.Add(defs.SIGUSR2) // pre-existing mask, must be restored after
		err = k.DoSigsuspend(th, defs.SigMask(defs.SIGUSR1))
	}, sched.Ready, 5)

	k.Sched.Schedule() // th runs, sets up its blocked mask, then suspends

	require.Equal(t, defs.Err_t(0), k.DoKill(init, init.Pid, defs.SIGTERM))
	k.Sched.Run()

	assert.Equal(t, defs.EINTR, err)
	assert.True(t, th.Blocked.Has(defs.SIGUSR2), "the pre-suspend mask must be restored")
	assert.False(t, th.Blocked.Has(defs.SIGUSR1), "the suspend-only mask must not leak")
}

func TestSigcontClearsStop(t *testing.T) {
	k := newTestRuntime(t)
	init := k.CreateProcess(nil, "init", nil)
	k.CreateKernelThread(init, func() {}, sched.Waiting, 5)

	target := k.CreateProcess(init, "target", nil)
	k.CreateKernelThread(target, func() {}, sched.Waiting, 5)

	require.Equal(t, defs.Err_t(0), k.DoKill(init, target.Pid, defs.SIGSTOP))
	assert.NotZero(t, target.Flags&defs.STOPPED)

	require.Equal(t, defs.Err_t(0), k.DoKill(init, target.Pid, defs.SIGCONT))
	assert.Zero(t, target.Flags&defs.STOPPED)
	assert.NotZero(t, target.Flags&defs.CONTINUED)
}
