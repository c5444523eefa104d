// Package sched is the kernel's scheduler: a priority run queue, recursive
// scheduler lock, and non-sticky wait queues, grounded on the
// lock_scheduler/update_thread/schedule/thread_sleep family of functions in
// original_source/src/kernel/proc/task.c. Since there is no real hardware
// stack to context-switch, each schedulable Thread is backed by one
// persistent goroutine; the scheduler hands it a baton (an unbuffered resume
// channel) and waits to hear back that it has parked or terminated before
// dispatching anyone else, so at most one thread's Go code ever runs at a
// time — the same single-CPU invariant the original assumes.
package sched

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sxmxr/mos/pkg/trapframe"
)

// State is a thread's scheduling state.
type State int32

const (
	Running State = iota
	Ready
	Waiting
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Waiting:
		return "waiting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type event int

const (
	evParked event = iota
	evDone
)

// Thread is the schedulable unit. Owner is an opaque back-reference to the
// owning process, set and read by pkg/proc; sched never inspects it, which
// keeps this package free of an import cycle back to proc.
type Thread struct {
	Tid   int32
	Prio  int
	Owner interface{}
	Frame *trapframe.TrapFrame
	Entry trapframe.Entry

	mu      sync.Mutex
	state   State
	heapIdx int

	resumeCh chan struct{}
	eventCh  chan event
	started  bool
}

// State reports the thread's current scheduling state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// schedLock is a depth-counted recursive lock. It is only safe because the
// scheduler's baton-passing design guarantees exactly one goroutine ever
// touches it at a time: the dispatcher between handoffs, and whichever
// thread currently holds the baton while it runs.
type schedLock struct {
	mu    sync.Mutex
	depth int
}

func (l *schedLock) Lock() {
	if l.depth == 0 {
		l.mu.Lock()
	}
	l.depth++
}

func (l *schedLock) Unlock() {
	l.depth--
	if l.depth == 0 {
		l.mu.Unlock()
	}
}

// readyHeap is a container/heap priority queue over ready threads. Lower
// Prio values run first, matching the teacher's nice-style priority sense.
type readyHeap []*Thread

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool  { return h[i].Prio < h[j].Prio }
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *readyHeap) Push(x interface{}) {
	t := x.(*Thread)
	t.heapIdx = len(*h)
	*h = append(*h, t)
}
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIdx = -1
	*h = old[:n-1]
	return t
}

// WaitQueue is an unordered list of parked threads, woken in one batch by
// WakeUp. Wake-ups are not sticky: a thread that arrives after a wake-up
// was already delivered must wait for the next one.
type WaitQueue struct {
	mu      sync.Mutex
	waiters []*Thread
}

// NewWaitQueue returns an empty wait queue.
func NewWaitQueue() *WaitQueue { return &WaitQueue{} }

func (w *WaitQueue) add(t *Thread) {
	w.mu.Lock()
	w.waiters = append(w.waiters, t)
	w.mu.Unlock()
}

func (w *WaitQueue) drain() []*Thread {
	w.mu.Lock()
	out := w.waiters
	w.waiters = nil
	w.mu.Unlock()
	return out
}

// Scheduler owns the run queue and the recursive scheduler lock.
type Scheduler struct {
	lock schedLock

	mu      sync.Mutex
	ready   readyHeap
	threads map[int32]*Thread
	nextTid int32

	current *Thread // only read/written from the dispatch goroutine
}

// NewScheduler returns an empty scheduler with no threads queued.
func NewScheduler() *Scheduler {
	s := &Scheduler{threads: make(map[int32]*Thread)}
	heap.Init(&s.ready)
	return s
}

// LockScheduler acquires the scheduler's big lock. Safe to call reentrantly
// from the thread currently holding the baton.
func (s *Scheduler) LockScheduler() { s.lock.Lock() }

// UnlockScheduler releases one level of the scheduler lock.
func (s *Scheduler) UnlockScheduler() { s.lock.Unlock() }

// NewThread allocates a new thread in state Waiting (not yet queued), seeded
// with frame and backed by entry. owner is handed back verbatim to the
// caller and otherwise untouched.
func (s *Scheduler) NewThread(prio int, frame *trapframe.TrapFrame, entry trapframe.Entry, owner interface{}) *Thread {
	s.LockScheduler()
	defer s.UnlockScheduler()
	s.nextTid++
	t := &Thread{
		Tid:      s.nextTid,
		Prio:     prio,
		Owner:    owner,
		Frame:    frame,
		Entry:    entry,
		state:    Waiting,
		resumeCh: make(chan struct{}),
		eventCh:  make(chan event, 1),
	}
	s.threads[t.Tid] = t
	return t
}

// Queue places t on the ready run queue, as queue_thread does.
func (s *Scheduler) Queue(t *Thread) {
	s.LockScheduler()
	defer s.UnlockScheduler()
	t.setState(Ready)
	s.mu.Lock()
	heap.Push(&s.ready, t)
	s.mu.Unlock()
}

// UpdateThread changes t's state, pushing it onto the run queue if the
// transition newly makes it Ready.
func (s *Scheduler) UpdateThread(t *Thread, newState State) {
	s.LockScheduler()
	defer s.UnlockScheduler()
	old := t.State()
	t.setState(newState)
	if newState == Ready && old != Ready {
		s.mu.Lock()
		heap.Push(&s.ready, t)
		s.mu.Unlock()
	}
}

// Lookup returns the thread with the given tid, if any.
func (s *Scheduler) Lookup(tid int32) (*Thread, bool) {
	s.LockScheduler()
	defer s.UnlockScheduler()
	t, ok := s.threads[tid]
	return t, ok
}

func (s *Scheduler) popReady() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil
	}
	return heap.Pop(&s.ready).(*Thread)
}

// Current returns the thread presently holding the baton, or nil if the CPU
// is idle. Only meaningful when called from the dispatch goroutine.
func (s *Scheduler) Current() *Thread { return s.current }

func (s *Scheduler) runThread(t *Thread) {
	<-t.resumeCh
	t.Entry(t.Frame)
	t.eventCh <- evDone
}

// Schedule picks the highest-priority ready thread and runs it until it
// either blocks (via WaitEvent/Sleep) or terminates, then returns. Call it
// in a loop to drive the single simulated CPU; it is a no-op when the run
// queue is empty.
func (s *Scheduler) Schedule() {
	s.LockScheduler()
	next := s.popReady()
	if next == nil {
		s.UnlockScheduler()
		return
	}
	s.current = next
	next.setState(Running)
	if !next.started {
		next.started = true
		go s.runThread(next)
	}
	s.UnlockScheduler()

	next.resumeCh <- struct{}{}
	ev := <-next.eventCh
	if ev == evDone {
		next.setState(Terminated)
	}
	if s.current == next {
		s.current = nil
	}
}

// Run drives Schedule in a loop until the run queue is empty, for tests and
// the CLI demo driver.
func (s *Scheduler) Run() {
	for {
		s.mu.Lock()
		empty := len(s.ready) == 0
		s.mu.Unlock()
		if empty {
			return
		}
		s.Schedule()
	}
}

// WaitEvent parks t on wq until cond reports true, dropping the scheduler
// lock while blocked. It must be called from code running as t (i.e. from
// inside t's Entry, directly or transitively).
func (s *Scheduler) WaitEvent(t *Thread, wq *WaitQueue, cond func() bool) {
	for {
		s.LockScheduler()
		if cond() {
			s.UnlockScheduler()
			return
		}
		wq.add(t)
		t.setState(Waiting)
		s.UnlockScheduler()

		t.eventCh <- evParked
		<-t.resumeCh
	}
}

// WakeUp moves every thread parked on wq back onto the run queue. Not
// sticky: threads that park on wq after this call are unaffected.
func (s *Scheduler) WakeUp(wq *WaitQueue) {
	for _, t := range wq.drain() {
		s.UpdateThread(t, Ready)
	}
}

// Sleep parks t for d, matching thread_sleep/thread_sleep_timer.
func (s *Scheduler) Sleep(t *Thread, d time.Duration) {
	s.LockScheduler()
	t.setState(Waiting)
	s.UnlockScheduler()

	timer := time.AfterFunc(d, func() { s.UpdateThread(t, Ready) })
	t.eventCh <- evParked
	<-t.resumeCh
	timer.Stop()
}
