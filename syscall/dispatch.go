package syscall

import (
	"fmt"

	"rvos/proc"
)

// ConsoleWriter is the out-of-scope console's in-scope write contract: the
// syscall layer only needs fd 1/2 -> UART, per spec §4.F.
type ConsoleWriter interface {
	WriteConsole(fd int, data []byte) (int, Errno)
}

// KlogDevice is implemented by the klog package: draining the log ring for
// the klog syscall, and serializing a pprof profile for profread
// (SPEC_FULL.md §B/§C).
type KlogDevice interface {
	Drain(buf []byte) int
	ProfileBytes() ([]byte, Errno)
}

// Handler is a registered syscall implementation: given the calling
// process (whose trap frame carries the arguments) and the Syscall table
// for shared kernel state, it returns the value to store in a0.
type Handler func(sc *Syscall, p *proc.Proc) (int64, Errno)

// Syscall bundles the process table and the device collaborators syscall
// handlers need, and owns the dispatch table itself.
type Syscall struct {
	Table   *proc.Table
	Console ConsoleWriter
	Klog    KlogDevice

	handlers map[int64]Handler
}

// New constructs a Syscall dispatcher with the core handler set installed
// (spec §4.F: write/getpid/exit/fork/wait, plus SPEC_FULL.md §C's
// klog/profread).
func New(table *proc.Table, console ConsoleWriter, klog KlogDevice) *Syscall {
	sc := &Syscall{Table: table, Console: console, Klog: klog, handlers: map[int64]Handler{}}
	sc.handlers[SysWrite] = sysWrite
	sc.handlers[SysGetpid] = sysGetpid
	sc.handlers[SysExit] = sysExit
	sc.handlers[SysFork] = sysFork
	sc.handlers[SysWait] = sysWait
	sc.handlers[SysKlog] = sysKlog
	sc.handlers[SysProfread] = sysProfread
	return sc
}

// Dispatch reads a7 from p's trap frame, calls the registered handler if
// any, and stores the result in a0, following spec §4.F's syscall(): a
// registered handler's return value (or its failure Errno) goes to a0; an
// unregistered number is logged and gets ErrNoSys (-2) in a0. Per
// SPEC_FULL.md §C, argument-fetch
// failures (a handler's own argN/argstr calls) are indistinguishable from
// handler failures at this layer — both simply become the handler's
// returned Errno in a0 — but a completely unregistered or malformed
// syscall number is reported through a distinct path (ErrNoSys, logged)
// before any handler runs, matching the original's two-tier error
// semantics.
func (sc *Syscall) Dispatch(p *proc.Proc) {
	tf := p.TrapFrame()
	num := int64(tf.A7)
	h, ok := sc.handlers[num]
	if !ok {
		fmt.Printf("syscall: pid %d: unknown syscall %d\n", p.Pid(), num)
		tf.A0 = uint64(ErrNoSys)
		return
	}
	ret, errno := h(sc, p)
	if errno != ErrNone {
		tf.A0 = uint64(errno)
		return
	}
	tf.A0 = uint64(ret)
}

func sysWrite(sc *Syscall, p *proc.Proc) (int64, Errno) {
	tf := p.TrapFrame()
	fd, errno := argint(tf, 0)
	if errno != ErrNone {
		return 0, errno
	}
	bufVA, errno := argaddr(tf, 1)
	if errno != ErrNone {
		return 0, errno
	}
	n, errno := argint(tf, 2)
	if errno != ErrNone {
		return 0, errno
	}
	if fd != 1 && fd != 2 {
		return 0, ErrBadFd
	}
	if n < 0 || n > maxWriteLen {
		return 0, ErrFault
	}
	buf := make([]byte, n)
	if errno := copyinUser(p.AddrSpace(), buf, bufVA); errno != ErrNone {
		return 0, errno
	}
	if sc.Console == nil {
		return n, ErrNone
	}
	written, errno := sc.Console.WriteConsole(int(fd), buf)
	return int64(written), errno
}

// maxWriteLen bounds a single write() so a malicious n can't force an
// unbounded host allocation; a real kernel would chunk instead, but this
// kernel's UART has no DMA ring to chunk into.
const maxWriteLen = 1 << 16

func sysGetpid(sc *Syscall, p *proc.Proc) (int64, Errno) {
	return int64(p.Pid()), ErrNone
}

func sysExit(sc *Syscall, p *proc.Proc) (int64, Errno) {
	tf := p.TrapFrame()
	status, errno := argint(tf, 0)
	if errno != ErrNone {
		status = -1
	}
	p.Exit(int(status))
	panic("syscall.sysExit: Exit returned")
}

// sysFork approximates a real fork() by re-running the parent's own entry
// function as the child's continuation — see proc.Table.Fork's doc comment
// for why a syscall-level fork cannot replay a suspended user PC in this
// simulation.
func sysFork(sc *Syscall, p *proc.Proc) (int64, Errno) {
	pid, errno := sc.Table.Fork(p, p.Entry())
	if errno != proc.ErrNone {
		return 0, ErrNoMem
	}
	return int64(pid), ErrNone
}

func sysWait(sc *Syscall, p *proc.Proc) (int64, Errno) {
	tf := p.TrapFrame()
	statusVA, errno := argaddr(tf, 0)
	if errno != ErrNone {
		return 0, errno
	}
	var status int
	pid, perrno := sc.Table.Wait(p, &status)
	if perrno != proc.ErrNone {
		return 0, ErrNoProc
	}
	if statusVA != 0 {
		var buf [8]byte
		buf[0] = byte(status)
		buf[1] = byte(status >> 8)
		buf[2] = byte(status >> 16)
		buf[3] = byte(status >> 24)
		if errno := copyoutUser(p.AddrSpace(), statusVA, buf[:4]); errno != ErrNone {
			return 0, errno
		}
	}
	return int64(pid), ErrNone
}

func sysKlog(sc *Syscall, p *proc.Proc) (int64, Errno) {
	tf := p.TrapFrame()
	bufVA, errno := argaddr(tf, 0)
	if errno != ErrNone {
		return 0, errno
	}
	n, errno := argint(tf, 1)
	if errno != ErrNone {
		return 0, errno
	}
	if n < 0 || n > maxWriteLen || sc.Klog == nil {
		return 0, ErrFault
	}
	buf := make([]byte, n)
	got := sc.Klog.Drain(buf)
	if got == 0 {
		return 0, ErrNone
	}
	if errno := copyoutUser(p.AddrSpace(), bufVA, buf[:got]); errno != ErrNone {
		return 0, errno
	}
	return int64(got), ErrNone
}

func sysProfread(sc *Syscall, p *proc.Proc) (int64, Errno) {
	tf := p.TrapFrame()
	bufVA, errno := argaddr(tf, 0)
	if errno != ErrNone {
		return 0, errno
	}
	max, errno := argint(tf, 1)
	if errno != ErrNone {
		return 0, errno
	}
	if sc.Klog == nil {
		return 0, ErrFault
	}
	data, perrno := sc.Klog.ProfileBytes()
	if perrno != ErrNone {
		return 0, perrno
	}
	if int64(len(data)) > max {
		data = data[:max]
	}
	if err := copyoutUser(p.AddrSpace(), bufVA, data); err != ErrNone {
		return 0, err
	}
	return int64(len(data)), ErrNone
}
