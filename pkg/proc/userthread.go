package proc

import (
	"github.com/sxmxr/mos/pkg/sched"
	"github.com/sxmxr/mos/pkg/trapframe"
)

// CreateUserThread spawns a thread that loads and enters an ELF image,
// matching create_user_thread/user_thread_elf_entry.
//
// The original's user_thread_elf_entry calls unlock_scheduler()
// unconditionally as its very first action, before touching the filesystem
// or building the user stack — confirmed by reading task.c directly, and
// notably different from kernel_thread_entry, which never unlocks at all.
// To give that an honest mechanical meaning instead of a cosmetic comment,
// this function takes the scheduler lock one extra, unpaired time right
// after building the thread; that extra level is released by the
// trampoline itself, the first time it runs, not by this function.
func (k *Runtime) CreateUserThread(parent *Process, elfImage []byte, initial sched.State, prio int, setup func(*ElfLayout)) *Thread {
	k.Sched.LockScheduler()
	defer k.Sched.UnlockScheduler()

	t := &Thread{Owner: parent, SigWait: sched.NewWaitQueue()}

	k.Sched.LockScheduler() // released by the trampoline below, not here

	entry := trapframe.UserThreadElfEntry(k.Sched.UnlockScheduler, func() {
		layout, err := loadElf(t.Owner.AS, elfImage)
		if err != 0 {
			log.Warnf("exec failed for pid %d: %v", parent.Pid, err)
			k.Exit(parent, int(err))
			return
		}
		if setup != nil {
			setup(layout)
		}
		log.Debugf("user thread entered pid=%d eip=%#x esp=%#x", parent.Pid, layout.Entry, layout.Stack)
	})

	frame := trapframe.NewUserElfFrame(0, 0, 0)
	t.Sched = k.Sched.NewThread(prio, frame, entry, t)
	if initial == sched.Ready {
		k.Sched.Queue(t.Sched)
	} else {
		k.Sched.UpdateThread(t.Sched, initial)
	}
	parent.Thread = t
	return t
}
