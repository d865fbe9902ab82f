// Package trap implements trap/interrupt classification, the machine-mode
// timer trampoline contract, and the supervisor tick counter. The real
// kernvec/timervec/swtch/userret assembly trampolines are out of scope
// (spec §1): this package specifies their machine-mode/supervisor-mode
// contract and the pure-Go classification and bookkeeping logic that sits
// behind them, grounded on original_source/kernel/trap.c (two variants, the
// richer carrying the full cause switch) for the classification shape, and
// on other_examples' b5fe67cd_tinyrange-cc riscv/sbi.go and
// 0bd36084_smoynes-elsie internal/cpu/mem.go for RISC-V-in-Go naming idiom
// (scause/sepc/stval register names, doc-comment density).
package trap

import (
	"sync"
	"unsafe"

	"rvos/spinlock"
)

// TrapFrame is the saved user register image written when crossing into
// kernel mode, a fixed layout shared with the (out-of-scope) userret/
// kernelvec trampolines. Field names follow the standard RISC-V ABI
// register names.
type TrapFrame struct {
	Ra, Sp, Gp, Tp                         uint64
	T0, T1, T2                             uint64
	S0, S1                                 uint64
	A0, A1, A2, A3, A4, A5, A6, A7          uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6                         uint64

	// Epc is the saved sepc: the user PC to resume at (or, on ECALL, the
	// address of the ecall instruction itself until advanced past it).
	Epc uint64
	// Satp is the user address space's translation-control register
	// value, restored by userret on return to user mode.
	Satp uint64
	// KernelSP/KernelHartID/KernelTrap are scratch fields kernelvec uses
	// to find the kernel stack and trap handler; modeled here only so the
	// struct layout documents the full contract.
	KernelSP  uint64
	KernelTrap uint64
	KernelHartID uint64
}

// Cause is a raw scause-style value: the interrupt bit in the high bit,
// the cause code in the low bits.
type Cause uint64

const interruptBit Cause = 1 << 63

// Exception causes, per the RISC-V privileged spec subset spec §4.D names.
const (
	ExcInstrPageFault  Cause = 12
	ExcLoadPageFault   Cause = 13
	ExcStorePageFault  Cause = 15
	ExcIllegalInstr    Cause = 2
	ExcBreakpoint      Cause = 3
	ExcEcallFromUser   Cause = 8
	ExcEcallFromSuper  Cause = 9
)

// Interrupt causes (cause code with the interrupt bit set).
const (
	IntSupervisorSoftware Cause = 1
	IntSupervisorTimer    Cause = 5
	IntSupervisorExternal Cause = 9
)

// IsInterrupt reports whether the cause's interrupt bit is set.
func (c Cause) IsInterrupt() bool { return c&interruptBit != 0 }

// Code returns the cause code with the interrupt bit masked off.
func (c Cause) Code() Cause { return c &^ interruptBit }

// MkInterruptCause builds a Cause value for interrupt code `code`.
func MkInterruptCause(code Cause) Cause { return code | interruptBit }

// Kind is the trap classification spec §4.D assigns before dispatch.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimer
	KindSyscall
	KindIllegal
	KindPageFault
	KindBreakpoint
)

// Classify maps a raw cause to a Kind, the Go analogue of the cause-switch
// in original_source/kernel/trap.c.
func Classify(c Cause) Kind {
	if c.IsInterrupt() {
		switch c.Code() {
		case IntSupervisorTimer, IntSupervisorSoftware:
			return KindTimer
		default:
			return KindUnknown
		}
	}
	switch c.Code() {
	case ExcEcallFromUser, ExcEcallFromSuper:
		return KindSyscall
	case ExcIllegalInstr:
		return KindIllegal
	case ExcInstrPageFault, ExcLoadPageFault, ExcStorePageFault:
		return KindPageFault
	case ExcBreakpoint:
		return KindBreakpoint
	default:
		return KindUnknown
	}
}

// Delegation records which causes are forwarded from machine to supervisor
// mode (the medeleg/mideleg CSRs). Setup() installs the exact set spec
// §4.D names; this is a documentation/testing aid since there is no real
// CSR in this simulation.
type Delegation struct {
	Exceptions map[Cause]bool
	Interrupts map[Cause]bool
}

// Setup delegates user-mode ECALL, breakpoint, illegal-instruction, page
// faults, and the supervisor timer/software/external interrupts from
// machine to supervisor mode, per spec §4.D.
func Setup() *Delegation {
	d := &Delegation{
		Exceptions: map[Cause]bool{
			ExcEcallFromUser:  true,
			ExcBreakpoint:     true,
			ExcIllegalInstr:   true,
			ExcInstrPageFault: true,
			ExcLoadPageFault:  true,
			ExcStorePageFault: true,
		},
		Interrupts: map[Cause]bool{
			IntSupervisorTimer:    true,
			IntSupervisorSoftware: true,
			IntSupervisorExternal: true,
		},
	}
	return d
}

// Delegated reports whether cause c is forwarded to supervisor mode.
func (d *Delegation) Delegated(c Cause) bool {
	if c.IsInterrupt() {
		return d.Interrupts[c.Code()]
	}
	return d.Exceptions[c.Code()]
}

// MachineScratch is the machine-mode scratch area timervec reads: the
// timer interval and the MMIO address of the comparator register, per
// spec §4.D.
type MachineScratch struct {
	Interval      uint64
	MtimecmpAddr  uint64
	MtimeAddr     uint64
}

// Clock abstracts the CLINT mtime/mtimecmp pair so timer logic is testable
// without real MMIO.
type Clock struct {
	mtime    uint64
	mtimecmp uint64
}

// NewClock constructs a Clock starting at time 0 with no comparator set.
func NewClock() *Clock { return &Clock{} }

// Now returns the current simulated mtime.
func (c *Clock) Now() uint64 { return c.mtime }

// Advance moves mtime forward by delta, the Go analogue of the emulator
// advancing its free-running counter.
func (c *Clock) Advance(delta uint64) { c.mtime += delta }

// Fired reports whether mtime has reached or passed mtimecmp.
func (c *Clock) Fired() bool { return c.mtime >= c.mtimecmp }

// ProgramNext sets the comparator to now+interval, per spec §4.D's "each
// machine-mode firing updates the comparator (current_time + interval)".
func (c *Clock) ProgramNext(interval uint64) {
	c.mtimecmp = c.mtime + interval
}

// MachineTimerTrampoline simulates one firing of the machine-mode timervec
// trampoline: it reprograms the comparator and reports that a supervisor
// software interrupt should now be pending, matching spec §4.D ("sets a
// pending supervisor-software interrupt ... and returns").
func MachineTimerTrampoline(clk *Clock, scratch *MachineScratch) (pendingSSIP bool) {
	if !clk.Fired() {
		return false
	}
	clk.ProgramNext(scratch.Interval)
	return true
}

// Ticks is the supervisor tick counter, guarded by its own lock per spec
// §5's shared-resource list ("the tick counter (tickslock)").
type Ticks struct {
	lk    spinlock.Lock
	mu    sync.Mutex // not used by any method; lk is the real gate
	count uint64
}

// NewTicks constructs an initialized Ticks counter.
func NewTicks() *Ticks {
	t := &Ticks{}
	spinlock.Init(&t.lk, "ticks")
	return t
}

// WakeupFunc is invoked with the address of the tick counter whenever it is
// bumped, so sleepers waiting on &ticks are woken. proc.NewTable wires this;
// left nil it is simply not called (useful in tests that only check the
// counter).
var WakeupFunc func(chan_ uintptr)

// TimerInterruptHandler increments ticks and wakes sleepers on its address,
// then returns interval unchanged, the distance to the next deadline for
// the caller to program, per spec §4.D's
// timer_interrupt_handler.
func (t *Ticks) TimerInterruptHandler(interval uint64) uint64 {
	t.lk.Acquire()
	t.count++
	chanAddr := t.chanAddr()
	t.lk.Release()
	if WakeupFunc != nil {
		WakeupFunc(chanAddr)
	}
	return interval
}

// Count returns the current tick count.
func (t *Ticks) Count() uint64 {
	t.lk.Acquire()
	defer t.lk.Release()
	return t.count
}

// ChanAddr returns the opaque sleep-channel key sleepers should use to wait
// for the next tick, per spec's "opaque 64-bit key" design note.
func (t *Ticks) ChanAddr() uintptr { return t.chanAddr() }

func (t *Ticks) chanAddr() uintptr {
	return uintptr(unsafe.Pointer(t))
}
