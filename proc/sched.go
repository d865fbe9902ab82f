package proc

import (
	"runtime"
	"time"

	"rvos/spinlock"
)

// Run is the scheduler loop a hart runs forever after boot, per spec §4.E /
// §1 ("Single scheduler loop per hart: iterate the process table; for any
// Runnable slot, switch into it"). It returns when stop is closed, which
// real hardware never does but tests need in order to shut a table down
// cleanly.
func (t *Table) Run(stop <-chan struct{}) {
	t.stop = make(chan struct{})
	for {
		select {
		case <-stop:
			return
		default:
		}
		ran := false
		for _, p := range t.procs {
			p.mu.Acquire()
			if p.state == Runnable {
				p.state = Running
				t.current.Store(p)
				p.resumeCh <- struct{}{}
				<-p.schedCh
				t.current.Store(nil)
				ran = true
			}
			p.mu.Release()
		}
		if !ran {
			// Idle: a real hart would wfi; spin gently so Go tests don't
			// peg a core while waiting for work.
			time.Sleep(50 * time.Microsecond)
			runtime.Gosched()
		}
	}
}

// sched hands control back to the scheduler and parks until redispatched,
// the Go analogue of swtch(&p->context, &cpu->context) called from sched().
// Callers must hold p.mu, must have already changed p.state away from
// Running, and must be running with interrupts disabled at nesting depth 1
// (spec §4.E's four sched() assertions), matching original_source's
// sched().
func (p *Proc) sched() {
	if !p.mu.Holding() {
		panic("proc.sched: called without holding own lock")
	}
	if spinlock.NestDepth() != 1 {
		panic("proc.sched: locks held across sched (noff != 1)")
	}
	if p.state == Running {
		panic("proc.sched: still Running")
	}
	if spinlock.IntrEnabled() {
		panic("proc.sched: interrupts enabled")
	}
	p.schedCh <- struct{}{}
	<-p.resumeCh
}

// Yield gives up the hart voluntarily, per spec §4.E.
func (p *Proc) Yield() {
	p.mu.Acquire()
	p.state = Runnable
	p.sched()
	p.mu.Release()
}

// Sleep atomically releases lk and blocks p until Wakeup(chanAddr) is
// called, per spec §4.E. It returns true if the process's kill flag was set
// by the time it woke — the decision recorded for every Sleep call site
// (see DESIGN.md): callers that can observe a killed process must check
// this and propagate an error rather than pretend the wait succeeded.
func (p *Proc) Sleep(chanAddr uintptr, lk *spinlock.Lock) (killed bool) {
	// Must hold p.mu before releasing lk, and lk before chanAddr/state are
	// set, to avoid missing a concurrent wakeup — mirroring sleep()'s
	// careful lock hand-off.
	if lk != &p.mu {
		p.mu.Acquire()
		lk.Release()
	}
	p.chanAddr = chanAddr
	p.state = Sleeping
	p.sched()
	p.chanAddr = 0
	killed = p.killed
	if lk != &p.mu {
		p.mu.Release()
		lk.Acquire()
	}
	return killed
}

// wakeupOne moves p to Runnable if it is Sleeping on chanAddr.
func wakeupOne(p *Proc, chanAddr uintptr) {
	p.mu.Acquire()
	if p.state == Sleeping && p.chanAddr == chanAddr {
		p.state = Runnable
	}
	p.mu.Release()
}

// Wakeup wakes every process sleeping on chanAddr, per spec §4.E: "iterate
// all processes (excluding current), acquire each lock, and if Sleeping with
// the matching channel, set Runnable." t.procs is a fixed array built once
// in NewTable, and the currently-dispatched process is read via the
// lock-free Table.current rather than under a table-wide lock (see that
// field's comment), so no outer lock is needed to iterate safely here.
func (t *Table) Wakeup(chanAddr uintptr) {
	cur := t.current.Load()
	for _, p := range t.procs {
		if p == cur {
			continue
		}
		wakeupOne(p, chanAddr)
	}
}

// Kill sets pid's kill flag and, if it is Sleeping, makes it Runnable so it
// observes the flag promptly, per spec §4.E ("Kill only sets a flag and, if
// Sleeping, makes Runnable; it never frees state out from under a possibly
// running process").
func (t *Table) Kill(pid int) Errno {
	for _, p := range t.procs {
		p.mu.Acquire()
		if p.pid == pid && p.state != Unused {
			p.killed = true
			if p.state == Sleeping {
				p.state = Runnable
			}
			p.mu.Release()
			return ErrNone
		}
		p.mu.Release()
	}
	return ErrNoProc
}
