package mousedev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/sched"
	"github.com/sxmxr/mos/pkg/trapframe"
)

// TestNotifyTailDivisionDefect documents (not fixes) the preserved
// mouse_notify_readers bug: tail advance uses division instead of modulo,
// so after the very first packet the tail collapses back to 0 instead of
// incrementing to 1, and every subsequent packet silently overwrites slot 0
// rather than advancing through the ring.
func TestNotifyTailDivisionDefect(t *testing.T) {
	s := sched.NewScheduler()
	d := NewDevice(s)
	mi := d.Open()

	d.Notify(Event{X: 1})
	require.Equal(t, 0, mi.tail, "tail+1 == 1, and 1/%d == 0 under the preserved division bug", PacketQueueLen)

	d.Notify(Event{X: 2})
	assert.Equal(t, 0, mi.tail, "tail never advances past 0 because (0+1)/%d == 0", PacketQueueLen)
	assert.Equal(t, Event{X: 2}, mi.packets[0], "every notification overwrites slot 0")
}

func TestReadBlocksThenDeliversPacket(t *testing.T) {
	s := sched.NewScheduler()
	d := NewDevice(s)
	mi := d.Open()

	var got Event
	var self *sched.Thread
	self = s.NewThread(1, &trapframe.TrapFrame{}, func(frame *trapframe.TrapFrame) {
		ev, err := d.Read(self, mi)
		require.Equal(t, defs.Err_t(0), err)
		got = ev
	}, nil)
	s.Queue(self)

	s.Schedule() // the reader blocks immediately since nothing is ready

	d.Notify(Event{X: 7, Y: 9, Buttons: 1})
	s.Run()

	assert.Equal(t, Event{X: 7, Y: 9, Buttons: 1}, got)
}

// TestReleaseRemovesInode checks Open/Release bookkeeping: once released, a
// reader no longer receives fanned-out notifications.
func TestReleaseRemovesInode(t *testing.T) {
	s := sched.NewScheduler()
	d := NewDevice(s)
	mi := d.Open()
	d.Release(mi)

	d.Notify(Event{X: 1})
	assert.False(t, mi.ready, "a released inode must not be updated by Notify")
}
