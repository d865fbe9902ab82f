// Package proc implements the process table, context switch, cooperative
// and preemptive scheduler, sleep/wakeup rendezvous, and fork/exit/wait
// lifecycle (spec §4.E).
//
// Grounded on the teacher's accnt/accnt.go for per-process accounting
// (Userns/Sysns nanosecond counters, the Add/Fetch/To_rusage shape) and
// original_source/kernel/proc.c for the allocproc/scheduler/sched/exit/wait
// control flow this package's Go analogues follow function-for-function.
//
// The real kernel's swtch is an assembly routine that saves/restores
// callee-saved registers on a raw kernel stack (spec §1: "specified by
// contract, not by code"). This package keeps the Context record for data-
// model fidelity (spec §3: "saved scheduler context (callee-saved
// registers)") but backs the actual suspend/resume mechanics with a channel
// handoff between goroutines — each process is one goroutine, and
// sched()/the scheduler's dispatch loop exchange a single token over two
// unbuffered channels exactly where swtch would save/restore registers.
// This preserves every locking and scheduling invariant spec §5 describes
// (swtch only called with the target/caller lock held; the baton passes
// lock ownership exactly once per direction) while remaining portable Go.
package proc

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"rvos/config"
	"rvos/pmem"
	"rvos/spinlock"
	"rvos/trap"
	"rvos/vm"
)

// State is a process's scheduling state, per spec §3.
type State int

const (
	Unused State = iota
	Used
	Sleeping
	Runnable
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Used:
		return "used"
	case Sleeping:
		return "sleeping"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "?"
	}
}

// Errno is the negative-on-failure error type for this package's syscall-
// adjacent operations, per SPEC_FULL.md §A.1.
type Errno int

func (e Errno) Error() string { return fmt.Sprintf("proc error %d", int(e)) }

const (
	ErrNone      Errno = 0
	ErrNoProc    Errno = -1
	ErrNoMem     Errno = -2
	ErrNoChild   Errno = -3
	ErrInitExits Errno = -4
)

// Context is the saved scheduler context: callee-saved registers a real
// swtch would spill to the kernel stack. Kept for data-model fidelity; see
// the package doc comment.
type Context struct {
	Ra, Sp                                            uint64
	S0, S1, S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
}

// Accnt accumulates per-process accounting information, grounded directly
// on the teacher's accnt/accnt.go (Userns/Sysns in nanoseconds).
type Accnt struct {
	Userns int64
	Sysns  int64
}

func (a *Accnt) utadd(delta int64)   { atomic.AddInt64(&a.Userns, delta) }
func (a *Accnt) systadd(delta int64) { atomic.AddInt64(&a.Sysns, delta) }

// Add merges n's counters into a.
func (a *Accnt) Add(n *Accnt) {
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
}

// Entry is the body of a kernel thread or simulated user program: a plain
// Go function run on the process's goroutine, given a handle to its own
// Proc so it can call Yield/Sleep/Exit/Fork.
type Entry func(p *Proc)

// Proc is one process-table slot, per spec §3.
type Proc struct {
	mu    spinlock.Lock
	table *Table

	pid    int
	name   string
	state  State
	as     *vm.AddrSpace
	sz     uint64
	kstack pmem.PA
	tf     *trap.TrapFrame
	ctx    Context
	parent *Proc

	chanAddr uintptr
	xstate   int
	killed   bool

	accnt Accnt

	entry    Entry
	resumeCh chan struct{}
	schedCh  chan struct{}
}

// Pid returns the process's pid. Safe to read without the process's own
// lock, per spec §3 ("a process may be inspected under the global
// process-table lock without its own lock if only its pid is read").
func (p *Proc) Pid() int { return p.pid }

// Name returns the process's name.
func (p *Proc) Name() string { return p.name }

// State returns the process's current state (for tests/diagnostics; racy
// without p.mu held, acceptable for observation-only use).
func (p *Proc) State() State { return p.state }

// Killed reports whether the kill flag is set.
func (p *Proc) Killed() bool { return p.killed }

// TrapFrame exposes the process's saved register image.
func (p *Proc) TrapFrame() *trap.TrapFrame { return p.tf }

// AddrSpace exposes the process's address space.
func (p *Proc) AddrSpace() *vm.AddrSpace { return p.as }

// Size returns the process's user-memory size in bytes.
func (p *Proc) Size() uint64 { return p.sz }

// Accounting returns a pointer to the process's accounting counters.
func (p *Proc) Accounting() *Accnt { return &p.accnt }

// Table returns the process table p belongs to, so collaborators holding
// only a *Proc can reach the shared Wakeup/Kill surface without threading a *Table
// alongside every *Proc argument.
func (p *Proc) Table() *Table { return p.table }

// Snapshot is one row of the process-table snapshot spec §6 lists as an
// observable counter: (pid, state, name), plus the accounting totals a
// profiling consumer (klog's profread, SPEC_FULL.md §B) needs.
type Snapshot struct {
	Pid    int
	State  State
	Name   string
	Userns int64
	Sysns  int64
}

// Snapshot returns one row per non-Unused process slot, per spec §6.
func (t *Table) Snapshot() []Snapshot {
	rows := make([]Snapshot, 0, len(t.procs))
	for _, p := range t.procs {
		p.mu.Acquire()
		if p.state != Unused {
			rows = append(rows, Snapshot{
				Pid:    p.pid,
				State:  p.state,
				Name:   p.name,
				Userns: p.accnt.Userns,
				Sysns:  p.accnt.Sysns,
			})
		}
		p.mu.Release()
	}
	return rows
}

// Entry returns the function this process's goroutine was (or will be)
// launched with. Exposed so a syscall-level fork can approximate "the
// child resumes the same program" by re-running the parent's own entry in
// the child — see proc.Table.Fork's doc comment for why this is the best
// available approximation without a real suspended user PC.
func (p *Proc) Entry() Entry { return p.entry }

// Table is the fixed-size process table plus the global locks guarding it,
// per spec §4.E / §5.
type Table struct {
	waitLock spinlock.Lock // serializes parent/child exit-wait rendezvous
	pidLock  spinlock.Lock
	nextPid  int

	procs [config.NPROC]*Proc
	mem   *pmem.Allocator
	ticks *trap.Ticks

	// current is read by spinlock.ExecutorID on every lock acquisition
	// anywhere in the kernel (see spinlock.Lock.Acquire's owner stamp), so
	// it must never itself be read or written under a spinlock.Lock: doing
	// so would make the first Acquire of that lock re-enter Acquire through
	// ExecutorID -> Current and spin forever against itself. An
	// atomic.Pointer gives Current()/Run() a lock-free, allocation-free
	// way to publish and observe the dispatched process.
	current  atomic.Pointer[Proc]
	initProc *Proc

	stop chan struct{}
}

// NewTable constructs an empty process table over the given physical
// allocator, wiring spinlock.ExecutorID and trap.WakeupFunc so the rest of
// the kernel's locking/timer machinery observes this table's notion of
// "current process" and "wake sleepers on &ticks".
func NewTable(mem *pmem.Allocator, ticks *trap.Ticks) *Table {
	t := &Table{mem: mem, ticks: ticks}
	spinlock.Init(&t.waitLock, "wait_lock")
	spinlock.Init(&t.pidLock, "pid_lock")
	for i := range t.procs {
		p := &Proc{table: t}
		spinlock.Init(&p.mu, "proc")
		p.resumeCh = make(chan struct{})
		p.schedCh = make(chan struct{})
		t.procs[i] = p
	}
	spinlock.ExecutorID = func() uint64 {
		p := t.Current()
		if p == nil {
			return 0
		}
		return uint64(p.pid)
	}
	trap.WakeupFunc = func(chanAddr uintptr) { t.Wakeup(chanAddr) }
	return t
}

// Current returns the process presently dispatched on the (single) hart,
// or nil if the scheduler itself is running. Lock-free: see the Table.current
// field comment for why this must never acquire a spinlock.Lock.
func (t *Table) Current() *Proc {
	return t.current.Load()
}

func (t *Table) allocPid() int {
	t.pidLock.Acquire()
	defer t.pidLock.Release()
	t.nextPid++
	return t.nextPid
}

// chanOf returns the opaque sleep-channel key for a kernel-side datum,
// matching the "address of the datum" design note in spec §9.
func chanOf(p unsafe.Pointer) uintptr { return uintptr(p) }
