package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/sched"
)

func TestGetppidReportsParentOrZero(t *testing.T) {
	k := newTestRuntime(t)
	root := k.CreateProcess(nil, "root", nil)
	child := k.CreateProcess(root, "child", nil)

	assert.Zero(t, root.Getppid())
	assert.Equal(t, root.Pid, child.Getppid())
}

func TestSetsidMakesProcessItsOwnSessionAndGroupLeader(t *testing.T) {
	k := newTestRuntime(t)
	root := k.CreateProcess(nil, "root", nil)
	p := k.CreateProcess(root, "p", nil)
	k.CreateKernelThread(p, func() {}, sched.Waiting, 5)

	sid := k.Setsid(p)
	assert.Equal(t, p.Pid, sid)
	assert.Equal(t, p.Pid, p.Sid)
	assert.Equal(t, p.Pid, p.Gid)
}

func TestSetpgidMovesTargetIntoGroup(t *testing.T) {
	k := newTestRuntime(t)
	root := k.CreateProcess(nil, "root", nil)
	leader := k.CreateProcess(root, "leader", nil)
	member := k.CreateProcess(root, "member", nil)

	a := assert.New(t)
	a.Equal(defs.Err_t(0), k.Setpgid(leader, 0, 0))
	a.Equal(leader.Pid, leader.Gid)

	a.Equal(defs.Err_t(0), k.Setpgid(member, member.Pid, leader.Gid))
	a.Equal(leader.Gid, member.Gid)
}

func TestSetpgidNoSuchProcessIsESRCH(t *testing.T) {
	k := newTestRuntime(t)
	root := k.CreateProcess(nil, "root", nil)

	assert.Equal(t, defs.ESRCH, k.Setpgid(root, 999, 0))
}
