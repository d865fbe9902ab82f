// Package spinlock implements mutual exclusion with per-hart nested
// interrupt-disable counting, grounded on the locking discipline documented
// throughout the teacher's vm/as.go and fs/blk.go ("lock for vmregion,
// pmpages, pmap, and p_pmap") and on caller/caller.go for owner tracking via
// runtime.Caller.
//
// The target machine is single-hart (spec Non-goals), so there is exactly
// one Hart singleton in this package; a multi-hart rework would index Hart
// by mhartid instead.
package spinlock

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Hart models the per-CPU state spec §3 calls for: nested interrupt-disable
// depth and the interrupt-enable flag saved across the outermost push_off.
type Hart struct {
	noff   int32
	intena bool
}

// machine is the single simulated hart. Real hardware reads/writes the
// SSTATUS.SIE bit directly; here that bit is modeled explicitly since Go
// has no such register.
var machine Hart

// Lock is a test-and-set spinlock with owner tracking, the Go analogue of
// the teacher's acquire/release pair. The zero value is not usable; call
// Init first, matching initlock(lk, name).
type Lock struct {
	locked   uint32
	name     string
	owner    string // file:line recorded by Acquire, for diagnostics
	ownerID  uint64
	hasOwner bool
}

// ExecutorID identifies whatever unit of execution is currently running
// kernel code on the hart (in this single-hart simulation, the dispatched
// process's goroutine). proc.NewTable wires this so Acquire can detect the same
// reentrant-acquisition bug real xv6 catches via holding(lk) before
// spinning. Nil means "no tracking", used before the scheduler exists.
var ExecutorID func() uint64

// Init zeroes the lock state and records its name for panic messages.
func Init(lk *Lock, name string) {
	lk.locked = 0
	lk.name = name
	lk.owner = ""
}

// New is a convenience constructor mirroring Init.
func New(name string) *Lock {
	lk := &Lock{}
	Init(lk, name)
	return lk
}

// Holding reports whether the lock is currently held by anyone. It does not
// distinguish self from another would-be holder; callers needing that must
// track ownership themselves (see proc.Proc's own lock discipline).
func (lk *Lock) Holding() bool {
	return atomic.LoadUint32(&lk.locked) == 1
}

// Acquire spins until the lock is free, then takes it. Interrupts are
// disabled for the duration via PushOff, mirroring spec §4.C: "because
// acquiring a lock may happen in an interrupt handler, interrupts must be
// disabled for the duration of any acquired lock."
func (lk *Lock) Acquire() {
	PushOff()
	if ExecutorID != nil && lk.Holding() && lk.hasOwner && lk.ownerID == ExecutorID() {
		panic(fmt.Sprintf("acquire: reentrant acquisition of lock %q", lk.name))
	}
	for !atomic.CompareAndSwapUint32(&lk.locked, 0, 1) {
		// busy wait; interrupts are already disabled by PushOff above
	}
	// acquire-ordered: CompareAndSwap on this platform already implies a
	// full fence, so no extra barrier is required beyond the atomic op.
	lk.owner = caller(2)
	if ExecutorID != nil {
		lk.ownerID = ExecutorID()
		lk.hasOwner = true
	}
}

// Release clears the lock. It panics if the caller does not appear to hold
// it, matching the teacher's fatal-on-misuse idiom.
func (lk *Lock) Release() {
	if !lk.Holding() {
		panic(fmt.Sprintf("release of unlocked lock %q", lk.name))
	}
	lk.owner = ""
	lk.hasOwner = false
	atomic.StoreUint32(&lk.locked, 0)
	PopOff()
}

func caller(skip int) string {
	_, f, l, ok := runtime.Caller(skip)
	if !ok {
		return "?"
	}
	return fmt.Sprintf("%s:%d", f, l)
}

// PushOff disables interrupts, saving the previous enable state only on the
// 0->1 transition of the nesting count so that nested Acquire calls compose
// correctly.
func PushOff() {
	old := intrEnabled()
	setIntr(false)
	if machine.noff == 0 {
		machine.intena = old
	}
	machine.noff++
}

// PopOff reverses one PushOff, restoring the saved interrupt-enable state
// once the nesting count returns to zero. It panics if called with
// interrupts already enabled (a push_off must always precede it) or with no
// outstanding PushOff, matching spec §4.C exactly.
func PopOff() {
	if intrEnabled() {
		panic("pop_off: interrupts enabled")
	}
	if machine.noff < 1 {
		panic("pop_off: noff underflow")
	}
	machine.noff--
	if machine.noff == 0 && machine.intena {
		setIntr(true)
	}
}

// intrEnabled and setIntr model reading/writing SSTATUS.SIE. There is no
// real register in this simulation; IntrEnabled/SetIntrEnabled below
// expose the same bit to other packages.
var simIntrEnabled atomic.Bool

func intrEnabled() bool { return simIntrEnabled.Load() }
func setIntr(v bool)    { simIntrEnabled.Store(v) }

// IntrEnabled exposes the simulated interrupt-enable flag to other kernel
// packages (trap, proc) that need to read or restore it directly, e.g. when
// first bringing up the hart.
func IntrEnabled() bool { return intrEnabled() }

// SetIntrEnabled sets the simulated interrupt-enable flag directly. Only
// this package's tests call it, to start from a known interrupt state.
func SetIntrEnabled(v bool) { setIntr(v) }

// NestDepth reports the current push_off nesting depth, exposed for tests
// asserting sched() invariants (spec: "noff == 1").
func NestDepth() int32 { return machine.noff }
