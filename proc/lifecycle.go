package proc

import (
	"unsafe"

	"rvos/config"
	"rvos/trap"
	"rvos/vm"
)

// allocproc linearly scans for an Unused slot, acquires its lock, assigns a
// pid, builds a fresh address space and trap frame, and returns it with the
// lock still held — the caller finishes initializing the slot and either
// releases the lock (on failure, after resetting to Unused) or leaves it
// Runnable and releases, per spec §4.E / original_source's allocproc().
func (t *Table) allocproc() (*Proc, Errno) {
	for _, p := range t.procs {
		p.mu.Acquire()
		if p.state == Unused {
			p.pid = t.allocPid()
			p.state = Used
			p.killed = false
			p.xstate = 0
			p.parent = nil
			p.chanAddr = 0
			p.accnt = Accnt{}

			as, err := vm.CreatePageTable(t.mem)
			if err != vm.ErrNone {
				p.state = Unused
				p.mu.Release()
				return nil, ErrNoMem
			}
			p.as = as
			p.sz = 0
			p.tf = &trap.TrapFrame{}
			p.ctx = Context{}
			return p, ErrNone
		}
		p.mu.Release()
	}
	return nil, ErrNoProc
}

// freeProc resets p to Unused, releasing its address space and any user
// pages mapped under it, per spec §4.B's proc_freepagetable: "for each user
// VA step of PGSIZE from 0 to sz, look up the leaf PTE; if valid, free the
// physical page and clear the PTE, then destroy the page-table tree
// itself." Caller must hold p.mu.
func (t *Table) freeProc(p *Proc) {
	if p.as != nil {
		for va := uint64(0); va < p.sz; va += config.PGSIZE {
			pte, err := p.as.Walk(va, false)
			if err == vm.ErrNone && pte != nil && pte.Valid() {
				t.mem.FreePage(pte.PA())
				_ = p.as.UnmapPage(va)
			}
		}
		p.as.Destroy()
	}
	p.as = nil
	p.sz = 0
	p.pid = 0
	p.name = ""
	p.parent = nil
	p.tf = nil
	p.ctx = Context{}
	p.chanAddr = 0
	p.killed = false
	p.xstate = 0
	p.entry = nil
	p.state = Unused
}

// CreateProcess builds the first kernel thread(s): a process whose context
// is rigged so its first dispatch runs a trampoline that releases the
// process lock (the Go analogue of forkret — real forkret releases p->lock
// because allocproc returns with it held and the scheduler's dispatch
// acquired it again), then calls entry, then exits with status 0 if entry
// returns. Matches spec §4.E's create_process(entry).
func (t *Table) CreateProcess(name string, entry Entry) (*Proc, Errno) {
	p, errno := t.allocproc()
	if errno != ErrNone {
		return nil, errno
	}
	p.name = name
	p.entry = entry
	p.parent = t.initProc
	if t.initProc == nil {
		t.initProc = p
	}
	p.state = Runnable
	pid := p.pid
	p.mu.Release()

	go func(pid int) {
		<-p.resumeCh // first dispatch: forkret trampoline
		p.mu.Release()
		p.entry(p)
		p.Exit(0)
	}(pid)
	return p, ErrNone
}

// deepCopyUserMem copies every mapped user page from src to dst over
// [0, sz), installing each copy with the source page's original
// permissions (including Write), per the fork Open Question decision
// recorded in DESIGN.md: this kernel performs a full deep copy at fork
// instead of implementing a copy-on-write fault handler, so a child never
// aliases a writable page with its parent.
// copied reports how much of [0, sz) was successfully mapped into dst
// before a failure, if any, so the caller can free exactly that much.
func deepCopyUserMem(t *Table, src, dst *vm.AddrSpace, sz uint64) (copied uint64, errno Errno) {
	for va := uint64(0); va < sz; va += config.PGSIZE {
		spte, err := src.Walk(va, false)
		if err != vm.ErrNone || spte == nil || !spte.Valid() {
			return copied, ErrNoMem
		}
		childPage := t.mem.AllocPage()
		if childPage == 0 {
			return copied, ErrNoMem
		}
		copy(t.mem.Read(childPage), t.mem.Read(spte.PA()))
		if err := dst.MapPages(va, config.PGSIZE, childPage, spte.Perm()); err != vm.ErrNone {
			t.mem.FreePage(childPage)
			return copied, ErrNoMem
		}
		copied += config.PGSIZE
	}
	return sz, ErrNone
}

// Fork creates a child process that is a deep copy of parent's user memory
// and trap-frame register image, per spec §4.E. Because there is no real
// user instruction stream to resume transparently at the fork() call site
// (spec's Non-goals exclude real user-mode execution), the caller supplies
// childEntry explicitly: the function the child goroutine runs in place of
// "resuming where fork() returned, with A0==0". Any test or syscall handler
// driving this through the trap-frame ABI still observes the correct ABI
// values (parent's trap frame A0 set to the child pid, child's trap frame
// A0 set to 0) even though childEntry — not a replayed parent PC — is what
// actually executes.
func (t *Table) Fork(parent *Proc, childEntry Entry) (childPid int, errno Errno) {
	child, errno := t.allocproc()
	if errno != ErrNone {
		return 0, errno
	}
	copied, err := deepCopyUserMem(t, parent.as, child.as, parent.sz)
	if err != ErrNone {
		child.sz = copied
		t.freeProc(child)
		child.mu.Release()
		return 0, ErrNoMem
	}
	child.sz = parent.sz
	*child.tf = *parent.tf
	child.tf.A0 = 0
	child.name = parent.name
	child.parent = parent
	child.entry = childEntry
	child.state = Runnable
	childPid = child.pid
	child.mu.Release()

	if parent.tf != nil {
		parent.tf.A0 = uint64(childPid)
	}

	go func(pid int) {
		<-child.resumeCh
		child.mu.Release()
		child.entry(child)
		child.Exit(0)
	}(childPid)
	return childPid, ErrNone
}

// parentChan returns the sleep-channel key a process's children wake it on:
// the process's own Proc pointer, matching spec's "channel = parent
// pointer" / Wait's "sleep(self, wait_lock)" (same address from both
// sides).
func parentChan(p *Proc) uintptr { return uintptr(unsafe.Pointer(p)) }

// Exit finalizes p: records its exit status, becomes a Zombie, wakes a
// parent that may be waiting, and calls sched() one final time — which
// never returns, since a Zombie is never redispatched. Forbidden for the
// table's very first process, per spec §4.E ("Exit. Forbidden for the init
// process"). Lock order here (wait_lock outer, own lock inner, matching
// Wait's wait_lock-outer/child-lock-inner order) is load-bearing: reversing
// it would deadlock against a concurrent Wait.
func (p *Proc) Exit(status int) {
	if p == p.table.initProc {
		panic("proc.Exit: init process exiting")
	}
	p.table.waitLock.Acquire()
	if p.parent != nil {
		wakeupOne(p.parent, parentChan(p.parent))
	}
	p.mu.Acquire()
	p.xstate = status
	p.state = Zombie
	p.table.waitLock.Release()
	p.sched()
	panic("proc.Exit: zombie process resumed")
}

// Wait blocks p until a child exits, reaps the first zombie child found,
// and reports its pid and exit status, per spec §4.E. It returns
// ErrNoChild if p has no children or its own kill flag becomes set while
// waiting — the Open Question decision to re-check Killed on every loop
// iteration of Wait's sleep (see DESIGN.md).
func (t *Table) Wait(p *Proc, status *int) (int, Errno) {
	t.waitLock.Acquire()
	for {
		haveKids := false
		for _, child := range t.procs {
			if child == p {
				continue
			}
			child.mu.Acquire()
			if child.parent == p {
				haveKids = true
				if child.state == Zombie {
					pid := child.pid
					xstate := child.xstate
					t.freeProc(child)
					child.mu.Release()
					t.waitLock.Release()
					if status != nil {
						*status = xstate
					}
					return pid, ErrNone
				}
			}
			child.mu.Release()
		}
		if !haveKids || p.Killed() {
			t.waitLock.Release()
			return 0, ErrNoChild
		}
		// Sleep releases t.waitLock for the duration of the wait and
		// reacquires it before returning, so the loop re-enters already
		// holding it.
		if killed := p.Sleep(parentChan(p), &t.waitLock); killed {
			t.waitLock.Release()
			return 0, ErrNoChild
		}
	}
}
