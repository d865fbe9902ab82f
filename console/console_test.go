package console

import (
	"testing"

	"rvos/syscall"
)

func TestFakeRecordsWrites(t *testing.T) {
	f := NewFake()
	n, errno := f.WriteConsole(1, []byte("hi"))
	if errno != syscall.ErrNone {
		t.Fatalf("WriteConsole: %v", errno)
	}
	if n != 2 {
		t.Fatalf("WriteConsole returned %d, want 2", n)
	}
	if string(f.Bytes()) != "hi" {
		t.Fatalf("Bytes() = %q, want %q", f.Bytes(), "hi")
	}
}

func TestFakeRejectsBadFd(t *testing.T) {
	f := NewFake()
	if _, errno := f.WriteConsole(3, []byte("x")); errno != syscall.ErrBadFd {
		t.Fatalf("WriteConsole(fd=3) errno = %v, want ErrBadFd", errno)
	}
}
