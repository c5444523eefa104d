// Command koncli drives the simulated kernel (pkg/kernel) from the command
// line: boot a runtime, fork and spawn processes, deliver signals, and
// inspect the process table. The command/flag layout follows
// github.com/ja7ad/consumption's cmd/consumption/main.go, the one example in
// the retrieval pack that builds a cobra-based operator CLI over a live
// in-process runtime rather than a one-shot tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sxmxr/mos/pkg/bootcfg"
	"github.com/sxmxr/mos/pkg/defs"
	"github.com/sxmxr/mos/pkg/klog"
	"github.com/sxmxr/mos/pkg/kernel"
	"github.com/sxmxr/mos/pkg/proc"
)

func main() {
	var (
		cfgPath string
		debug   bool
	)

	var k *kernel.Kernel

	root := &cobra.Command{
		Use:   "koncli",
		Short: "Operate a simulated process/thread kernel runtime",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			klog.SetDebug(debug)
			cfg := bootcfg.Default()
			if cfgPath != "" {
				loaded, err := bootcfg.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load boot config: %w", err)
				}
				cfg = loaded
			}
			k = kernel.Boot(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML boot manifest")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable verbose kernel logging")

	root.AddCommand(newSpawnCmd(&k))
	root.AddCommand(newForkCmd(&k))
	root.AddCommand(newKillCmd(&k))
	root.AddCommand(newPsCmd(&k))
	root.AddCommand(newRunCmd(&k))
	root.AddCommand(newWaitCmd(&k))
	root.AddCommand(newSetsidCmd(&k))
	root.AddCommand(newSetpgidCmd(&k))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSpawnCmd(k **kernel.Kernel) *cobra.Command {
	var elfPath string
	cmd := &cobra.Command{
		Use:   "spawn NAME",
		Short: "Create a process and load an ELF image into it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var image []byte
			if elfPath != "" {
				b, err := os.ReadFile(elfPath)
				if err != nil {
					return err
				}
				image = b
			}
			p := (*k).Spawn(nil, args[0], image)
			fmt.Printf("spawned pid=%d name=%s\n", p.Pid, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&elfPath, "elf", "", "path to an ELF image to load into the new process")
	return cmd
}

func newForkCmd(k **kernel.Kernel) *cobra.Command {
	var pid int32
	cmd := &cobra.Command{
		Use:   "fork",
		Short: "Fork an existing process",
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, ok := (*k).Runtime.Lookup(defs.Pid_t(pid))
			if !ok {
				return fmt.Errorf("no such process: %d", pid)
			}
			child := (*k).Fork(parent)
			fmt.Printf("forked pid=%d -> pid=%d\n", parent.Pid, child.Pid)
			return nil
		},
	}
	cmd.Flags().Int32Var(&pid, "pid", 0, "pid of the process to fork")
	return cmd
}

func newKillCmd(k **kernel.Kernel) *cobra.Command {
	var pid int32
	var sig int32
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Send a signal to a pid (or process group / broadcast, per pid sign)",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller := (*k).Init
			if err := (*k).Kill(caller, defs.Pid_t(pid), defs.Sig_t(sig)); err != 0 {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&pid, "pid", 0, "target pid (0/-1/<-1 per kill(2) semantics)")
	cmd.Flags().Int32Var(&sig, "signal", int32(defs.SIGTERM), "signal number to send")
	return cmd
}

func newPsCmd(k **kernel.Kernel) *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List live processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range (*k).Processes() {
				parent := defs.Pid_t(0)
				if p.Parent != nil {
					parent = p.Parent.Pid
				}
				fmt.Printf("%6d  %6d  %-16s  gid=%d\n", p.Pid, parent, p.Name, p.Gid)
			}
			return nil
		},
	}
}

func newWaitCmd(k **kernel.Kernel) *cobra.Command {
	var parentPid int32
	var childPid int32
	var nohang bool
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for a child of --parent (or any child) to change state",
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, ok := (*k).Runtime.Lookup(defs.Pid_t(parentPid))
			if !ok {
				return fmt.Errorf("no such process: %d", parentPid)
			}
			var options proc.WaitOptions
			if nohang {
				options |= proc.WNOHANG
			}
			pid, status, err := (*k).Wait(parent, defs.Pid_t(childPid), options)
			if err != 0 {
				return err
			}
			fmt.Printf("pid=%d status=%d\n", pid, status)
			return nil
		},
	}
	cmd.Flags().Int32Var(&parentPid, "parent", int32(defs.InitPid), "pid of the waiting process")
	cmd.Flags().Int32Var(&childPid, "pid", -1, "child pid to wait for (-1 waits for any child)")
	cmd.Flags().BoolVar(&nohang, "nohang", false, "return immediately if no child has changed state")
	return cmd
}

func newSetsidCmd(k **kernel.Kernel) *cobra.Command {
	var pid int32
	cmd := &cobra.Command{
		Use:   "setsid",
		Short: "Make a process the leader of a new session and process group",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok := (*k).Runtime.Lookup(defs.Pid_t(pid))
			if !ok {
				return fmt.Errorf("no such process: %d", pid)
			}
			sid := (*k).Setsid(p)
			fmt.Printf("pid=%d sid=%d\n", p.Pid, sid)
			return nil
		},
	}
	cmd.Flags().Int32Var(&pid, "pid", 0, "pid of the process to call setsid for")
	return cmd
}

func newSetpgidCmd(k **kernel.Kernel) *cobra.Command {
	var callerPid int32
	var pid int32
	var pgid int32
	cmd := &cobra.Command{
		Use:   "setpgid",
		Short: "Move a process into a process group",
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, ok := (*k).Runtime.Lookup(defs.Pid_t(callerPid))
			if !ok {
				return fmt.Errorf("no such process: %d", callerPid)
			}
			if err := (*k).Setpgid(caller, defs.Pid_t(pid), defs.Pid_t(pgid)); err != 0 {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Int32Var(&callerPid, "caller", int32(defs.InitPid), "pid of the calling process")
	cmd.Flags().Int32Var(&pid, "pid", 0, "pid to move (0 means caller)")
	cmd.Flags().Int32Var(&pgid, "pgid", 0, "target group id (0 means become its own leader)")
	return cmd
}

func newRunCmd(k **kernel.Kernel) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drain the ready queue, running every schedulable thread to completion or block",
		RunE: func(cmd *cobra.Command, args []string) error {
			(*k).Run()
			return nil
		},
	}
}
