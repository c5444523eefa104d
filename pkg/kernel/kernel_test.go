package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxmxr/mos/pkg/bootcfg"
	"github.com/sxmxr/mos/pkg/defs"
)

func testConfig() bootcfg.Config {
	cfg := bootcfg.Default()
	cfg.FramePages = 512
	return cfg
}

func TestBootCreatesInit(t *testing.T) {
	k := Boot(testConfig())
	require.NotNil(t, k.Init)
	assert.Equal(t, defs.InitPid, k.Init.Pid)
}

func TestForkAndKillIntegration(t *testing.T) {
	k := Boot(testConfig())
	child := k.Fork(k.Init)

	assert.Equal(t, defs.Err_t(0), k.Kill(k.Init, child.Pid, defs.SIGTERM))
	assert.True(t, child.Thread.Pending.Has(defs.SIGTERM))

	procs := k.Processes()
	assert.Len(t, procs, 2)
}

func TestRunDrainsReadyQueue(t *testing.T) {
	k := Boot(testConfig())
	// Boot already queues init's kernel thread; Run must drain it without
	// blocking forever.
	k.Run()
}
