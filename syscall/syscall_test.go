package syscall

import (
	"sync/atomic"
	"testing"
	"time"

	"rvos/pmem"
	"rvos/proc"
	"rvos/spinlock"
	"rvos/trap"
	"rvos/vm"
)

// newTable builds a process table whose first process, init, parks
// forever: init may never exit, so the process each test creates runs
// after it and can exit normally.
func newTable(t *testing.T, mem *pmem.Allocator) *proc.Table {
	t.Helper()
	ticks := trap.NewTicks()
	tbl := proc.NewTable(mem, ticks)
	lk := spinlock.New("init")
	if _, errno := tbl.CreateProcess("init", func(p *proc.Proc) {
		lk.Acquire()
		for {
			p.Sleep(ticks.ChanAddr(), lk)
		}
	}); errno != proc.ErrNone {
		t.Fatalf("CreateProcess(init): %v", errno)
	}
	return tbl
}

type fakeConsole struct {
	written []byte
	fd      int
}

func (c *fakeConsole) WriteConsole(fd int, data []byte) (int, Errno) {
	c.fd = fd
	c.written = append(c.written, data...)
	return len(data), ErrNone
}

type fakeKlog struct{ data []byte }

func (k *fakeKlog) Drain(buf []byte) int {
	n := copy(buf, k.data)
	k.data = k.data[n:]
	return n
}
func (k *fakeKlog) ProfileBytes() ([]byte, Errno) { return []byte("profile-bytes"), ErrNone }

func mapUserPage(t *testing.T, mem *pmem.Allocator, as *vm.AddrSpace, va uint64) []byte {
	t.Helper()
	pa := mem.AllocPage()
	if pa == 0 {
		t.Fatal("AllocPage failed")
	}
	if err := as.MapPages(va, 4096, pa, vm.FlagRead|vm.FlagWrite|vm.FlagUser); err != vm.ErrNone {
		t.Fatalf("MapPages: %v", err)
	}
	return mem.Read(pa)
}

func TestSysWrite(t *testing.T) {
	mem := pmem.New(0x80000000, 256)
	tbl := newTable(t, mem)
	console := &fakeConsole{}
	sc := New(tbl, console, nil)

	done := make(chan struct{})
	entry := func(p *proc.Proc) {
		const va = 0x1000
		page := mapUserPage(t, mem, p.AddrSpace(), va)
		msg := "hello kernel"
		copy(page, msg)
		tf := p.TrapFrame()
		tf.A0, tf.A1, tf.A2, tf.A7 = 1, va, uint64(len(msg)), uint64(SysWrite)
		sc.Dispatch(p)
		if int64(tf.A0) != int64(len(msg)) {
			t.Errorf("expected write to return %d, got %d", len(msg), int64(tf.A0))
		}
		close(done)
	}
	stop := make(chan struct{})
	go tbl.Run(stop)
	defer close(stop)
	if _, errno := tbl.CreateProcess("writer", entry); errno != proc.ErrNone {
		t.Fatalf("CreateProcess: %v", errno)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write syscall never completed")
	}
	if string(console.written) != "hello kernel" {
		t.Fatalf("console got %q", console.written)
	}
	if console.fd != 1 {
		t.Fatalf("expected fd 1, got %d", console.fd)
	}
}

func TestSysWriteBadFd(t *testing.T) {
	mem := pmem.New(0x80000000, 256)
	tbl := newTable(t, mem)
	sc := New(tbl, &fakeConsole{}, nil)

	done := make(chan int64)
	entry := func(p *proc.Proc) {
		const va = 0x2000
		mapUserPage(t, mem, p.AddrSpace(), va)
		tf := p.TrapFrame()
		tf.A0, tf.A1, tf.A2, tf.A7 = 9, va, 0, uint64(SysWrite)
		sc.Dispatch(p)
		done <- int64(tf.A0)
	}
	stop := make(chan struct{})
	go tbl.Run(stop)
	defer close(stop)
	tbl.CreateProcess("badfd", entry)
	select {
	case ret := <-done:
		if Errno(ret) != ErrBadFd {
			t.Fatalf("expected ErrBadFd, got %d", ret)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("syscall never completed")
	}
}

// TestSysGetpidAndForkWait drives getpid/fork/wait entirely through the
// syscall ABI. Because sysFork approximates a real fork() by re-running
// the parent's own entry function as the child's continuation (see
// proc.Table.Fork's doc comment), the shared entry closure here uses a
// CompareAndSwap flag to tell the one-time "parent" path (fork then wait)
// apart from the re-entered "child" path (just exit) — without it the
// child would immediately fork again itself, recursing forever.
func TestSysGetpidAndForkWait(t *testing.T) {
	mem := pmem.New(0x80000000, 256)
	tbl := newTable(t, mem)
	sc := New(tbl, &fakeConsole{}, nil)

	type outcome struct{ gotPid, childPid, waitedPid int64 }
	result := make(chan outcome, 1)
	var forkedOnce int32

	parentEntry := func(p *proc.Proc) {
		tf := p.TrapFrame()
		tf.A7 = uint64(SysGetpid)
		sc.Dispatch(p)
		gotPid := int64(tf.A0)

		if !atomic.CompareAndSwapInt32(&forkedOnce, 0, 1) {
			return // re-entered as the child: just exit(0) via the trampoline
		}

		tf.A7 = uint64(SysFork)
		sc.Dispatch(p)
		childPid := int64(tf.A0)

		tf.A0, tf.A7 = 0, uint64(SysWait)
		sc.Dispatch(p)
		waitedPid := int64(tf.A0)

		result <- outcome{gotPid, childPid, waitedPid}
	}
	stop := make(chan struct{})
	go tbl.Run(stop)
	defer close(stop)

	p, errno := tbl.CreateProcess("parent", parentEntry)
	if errno != proc.ErrNone {
		t.Fatalf("CreateProcess: %v", errno)
	}
	select {
	case out := <-result:
		if out.gotPid != int64(p.Pid()) {
			t.Errorf("getpid returned %d, want %d", out.gotPid, p.Pid())
		}
		if out.childPid != out.waitedPid {
			t.Errorf("forked pid %d but waited pid %d", out.childPid, out.waitedPid)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("fork/wait via syscalls never completed")
	}
}

func TestSysKlogAndProfread(t *testing.T) {
	mem := pmem.New(0x80000000, 256)
	tbl := newTable(t, mem)
	klog := &fakeKlog{data: []byte("ring contents")}
	sc := New(tbl, &fakeConsole{}, klog)

	done := make(chan struct{})
	entry := func(p *proc.Proc) {
		const va = 0x3000
		mapUserPage(t, mem, p.AddrSpace(), va)
		tf := p.TrapFrame()
		tf.A0, tf.A1, tf.A7 = va, 64, uint64(SysKlog)
		sc.Dispatch(p)
		if int64(tf.A0) != int64(len("ring contents")) {
			t.Errorf("klog returned %d", int64(tf.A0))
		}

		tf.A0, tf.A1, tf.A7 = va, 64, uint64(SysProfread)
		sc.Dispatch(p)
		if int64(tf.A0) != int64(len("profile-bytes")) {
			t.Errorf("profread returned %d", int64(tf.A0))
		}
		close(done)
	}
	stop := make(chan struct{})
	go tbl.Run(stop)
	defer close(stop)
	tbl.CreateProcess("klogger", entry)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("klog/profread syscalls never completed")
	}
}

func TestDispatchUnknownSyscall(t *testing.T) {
	mem := pmem.New(0x80000000, 256)
	tbl := newTable(t, mem)
	sc := New(tbl, &fakeConsole{}, nil)

	done := make(chan int64)
	entry := func(p *proc.Proc) {
		tf := p.TrapFrame()
		tf.A7 = 999
		sc.Dispatch(p)
		done <- int64(tf.A0)
	}
	stop := make(chan struct{})
	go tbl.Run(stop)
	defer close(stop)
	tbl.CreateProcess("unknown", entry)
	select {
	case ret := <-done:
		if Errno(ret) != ErrNoSys {
			t.Fatalf("expected ErrNoSys, got %d", ret)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("syscall never completed")
	}
}
