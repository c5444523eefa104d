// Package mousedev is a minimal PS/2-mouse-style packet queue, grounded on
// original_source/src/kernel/devices/mouse.c. It exists to exercise the
// scheduler's wait-queue contract (pkg/sched) end to end against a real
// char-device-shaped producer/consumer, not just as an interface promise.
//
// PacketQueueLen's concrete value is not present in the retrieved headers
// (MOUSE_PACKET_QUEUE_LEN is defined in mouse.h, which was filtered out of
// the source pack); 16 is chosen as a plausible small ring size and is not
// load-bearing for the defect below.
package mousedev

import (
	"sync"

	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/sched"
)

const PacketQueueLen = 16

// Event is one decoded mouse movement/button packet.
type Event struct {
	X, Y    int
	Buttons uint8
}

// Inode is one open reader's per-fd ring buffer, mirroring struct
// mouse_inode.
type Inode struct {
	mu      sync.Mutex
	packets [PacketQueueLen]Event
	head    int
	tail    int
	ready   bool
}

// Device fans packets out to every open Inode and wakes blocked readers,
// mirroring the single global nodelist/hwait pair in mouse.c.
type Device struct {
	mu     sync.Mutex
	inodes []*Inode
	wq     *sched.WaitQueue
	sched  *sched.Scheduler
}

// NewDevice returns an empty mouse device driven by s.
func NewDevice(s *sched.Scheduler) *Device {
	return &Device{wq: sched.NewWaitQueue(), sched: s}
}

// Open registers a new reader, mirroring mouse_open.
func (d *Device) Open() *Inode {
	mi := &Inode{}
	d.mu.Lock()
	d.inodes = append(d.inodes, mi)
	d.mu.Unlock()
	return mi
}

// Release unregisters mi, mirroring mouse_release.
func (d *Device) Release(mi *Inode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cand := range d.inodes {
		if cand == mi {
			d.inodes = append(d.inodes[:i], d.inodes[i+1:]...)
			return
		}
	}
}

// Notify fans ev out to every open reader and wakes anyone blocked in
// Read, mirroring mouse_notify_readers.
//
// Preserved defect (documented Open Question, kept verbatim): the tail
// advance below is `(tail + 1) / PacketQueueLen`, a division where modulo
// was clearly intended. Starting from tail 0, (0+1)/PacketQueueLen is 0,
// so the tail never advances: it stays at index 0 and every packet lands
// in slot 0, overwriting the previous one. See mousedev_test.go for the
// regression that documents the resulting behavior instead of fixing it.
func (d *Device) Notify(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, mi := range d.inodes {
		mi.mu.Lock()
		mi.tail = (mi.tail + 1) / PacketQueueLen
		mi.packets[mi.tail] = ev
		mi.ready = true
		mi.mu.Unlock()
	}
	d.sched.WakeUp(d.wq)
}

// Read implements mouse_read: block until a packet is ready, then pop the
// oldest one. Unlike Notify's tail advance, the head advance here uses the
// correct modulo arithmetic, exactly as in the original. Readiness (not a
// head/tail comparison) is what distinguishes an empty queue from a full
// one, since the preserved tail-advance defect above means head and tail
// are frequently equal even with an unread packet sitting at index 0.
func (d *Device) Read(t *sched.Thread, mi *Inode) (Event, defs.Err_t) {
	d.sched.WaitEvent(t, d.wq, func() bool {
		mi.mu.Lock()
		r := mi.ready
		mi.mu.Unlock()
		return r
	})

	mi.mu.Lock()
	defer mi.mu.Unlock()
	if !mi.ready {
		return Event{}, defs.EINVAL
	}
	ev := mi.packets[mi.head]
	mi.head = (mi.head + 1) % PacketQueueLen
	if mi.head == mi.tail {
		mi.ready = false
	}
	return ev, 0
}
