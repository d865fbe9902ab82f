package proc

import (
	"testing"
	"time"

	"rvos/pmem"
	"rvos/trap"
)

func newTable(t *testing.T) *Table {
	t.Helper()
	mem := pmem.New(0x80000000, 512)
	ticks := trap.NewTicks()
	tbl := NewTable(mem, ticks)
	// The table's first process is init, which may never exit; park one
	// here so the processes each test creates can exit normally.
	if _, errno := tbl.CreateProcess("init", func(p *Proc) {
		p.table.waitLock.Acquire()
		for {
			p.Sleep(parentChan(p), &p.table.waitLock)
		}
	}); errno != ErrNone {
		t.Fatalf("CreateProcess(init): %v", errno)
	}
	return tbl
}

func runTable(t *testing.T, tbl *Table) (stop chan struct{}) {
	t.Helper()
	stop = make(chan struct{})
	go tbl.Run(stop)
	return stop
}

// waitForState polls p's state until it matches want or the deadline passes.
func waitForState(p *Proc, want State, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return p.State() == want
}

func TestCreateProcessRunsAndExits(t *testing.T) {
	tbl := newTable(t)
	stop := runTable(t, tbl)
	defer close(stop)

	done := make(chan struct{})
	p, errno := tbl.CreateProcess("worker", func(p *Proc) {
		close(done)
	})
	if errno != ErrNone {
		t.Fatalf("CreateProcess: %v", errno)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("entry never ran")
	}
	if !waitForState(p, Zombie, time.Second) {
		t.Fatalf("expected process to become Zombie, got %v", p.State())
	}
}

// TestForkExitWait is the literal scenario 5 from the spec: parent fork()s,
// child exit(42)s, parent wait()s and observes the child's pid and status.
func TestForkExitWait(t *testing.T) {
	tbl := newTable(t)
	stop := runTable(t, tbl)
	defer close(stop)

	result := make(chan [2]int, 1) // [childPid, waitedPid]
	parentEntry := func(p *Proc) {
		childEntry := func(c *Proc) {
			c.Exit(42)
		}
		childPid, errno := tbl.Fork(p, childEntry)
		if errno != ErrNone {
			t.Errorf("Fork: %v", errno)
			result <- [2]int{-1, -1}
			return
		}
		var status int
		waited, errno := tbl.Wait(p, &status)
		if errno != ErrNone {
			t.Errorf("Wait: %v", errno)
		}
		if status != 42 {
			t.Errorf("expected exit status 42, got %d", status)
		}
		result <- [2]int{childPid, waited}
	}
	if _, errno := tbl.CreateProcess("parent", parentEntry); errno != ErrNone {
		t.Fatalf("CreateProcess: %v", errno)
	}

	select {
	case r := <-result:
		if r[0] != r[1] {
			t.Fatalf("forked pid %d but waited pid %d", r[0], r[1])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("fork/exit/wait never completed")
	}
}

func TestWaitWithNoChildrenFails(t *testing.T) {
	tbl := newTable(t)
	stop := runTable(t, tbl)
	defer close(stop)

	done := make(chan Errno, 1)
	entry := func(p *Proc) {
		_, errno := tbl.Wait(p, nil)
		done <- errno
	}
	if _, errno := tbl.CreateProcess("lonely", entry); errno != ErrNone {
		t.Fatalf("CreateProcess: %v", errno)
	}
	select {
	case errno := <-done:
		if errno != ErrNoChild {
			t.Fatalf("expected ErrNoChild, got %v", errno)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait never returned")
	}
}

func TestYieldAllowsOtherProcessToRun(t *testing.T) {
	tbl := newTable(t)
	stop := runTable(t, tbl)
	defer close(stop)

	var order []string
	orderCh := make(chan string, 4)
	first := func(p *Proc) {
		orderCh <- "first-start"
		p.Yield()
		orderCh <- "first-end"
	}
	second := func(p *Proc) {
		orderCh <- "second-start"
		orderCh <- "second-end"
	}
	tbl.CreateProcess("first", first)
	time.Sleep(10 * time.Millisecond)
	tbl.CreateProcess("second", second)

	for i := 0; i < 4; i++ {
		select {
		case s := <-orderCh:
			order = append(order, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out collecting order, got %v so far", order)
		}
	}
	if len(order) != 4 {
		t.Fatalf("expected 4 events, got %v", order)
	}
}

func TestSleepWakeup(t *testing.T) {
	tbl := newTable(t)
	stop := runTable(t, tbl)
	defer close(stop)

	var chanAddr uintptr
	woken := make(chan struct{})
	entry := func(p *Proc) {
		chanAddr = parentChan(p)
		p.table.waitLock.Acquire()
		p.Sleep(chanAddr, &p.table.waitLock)
		p.table.waitLock.Release()
		close(woken)
	}
	_, errno := tbl.CreateProcess("sleeper", entry)
	if errno != ErrNone {
		t.Fatalf("CreateProcess: %v", errno)
	}
	time.Sleep(20 * time.Millisecond)
	tbl.Wakeup(chanAddr)
	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("sleeper never woke")
	}
}

func TestKillWakesSleeper(t *testing.T) {
	tbl := newTable(t)
	stop := runTable(t, tbl)
	defer close(stop)

	killedObserved := make(chan bool, 1)
	var pid int
	pidCh := make(chan int, 1)
	entry := func(p *Proc) {
		pidCh <- p.Pid()
		p.table.waitLock.Acquire()
		killed := p.Sleep(0xdead, &p.table.waitLock)
		p.table.waitLock.Release()
		killedObserved <- killed
	}
	tbl.CreateProcess("victim", entry)

	select {
	case pid = <-pidCh:
	case <-time.After(2 * time.Second):
		t.Fatal("never got pid")
	}
	time.Sleep(10 * time.Millisecond)
	if errno := tbl.Kill(pid); errno != ErrNone {
		t.Fatalf("Kill: %v", errno)
	}
	select {
	case killed := <-killedObserved:
		if !killed {
			t.Fatal("expected Sleep to report killed==true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("victim never observed kill")
	}
}

func TestKillUnknownPidFails(t *testing.T) {
	tbl := newTable(t)
	if errno := tbl.Kill(99999); errno != ErrNoProc {
		t.Fatalf("expected ErrNoProc, got %v", errno)
	}
}
