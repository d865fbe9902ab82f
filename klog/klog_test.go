package klog

import (
	"bytes"
	"testing"

	"rvos/config"
	"rvos/pmem"
	"rvos/proc"
	"rvos/syscall"
	"rvos/trap"
)

func newTestTable(t *testing.T) *proc.Table {
	t.Helper()
	mem := pmem.New(config.KERNBASE, 64)
	ticks := trap.NewTicks()
	return proc.NewTable(mem, ticks)
}

func TestWriteAndDrainRoundTrip(t *testing.T) {
	var out bytes.Buffer
	dev := New(newTestTable(t), &out)

	n, errno := dev.WriteConsole(1, []byte("hello\n"))
	if errno != syscall.ErrNone {
		t.Fatalf("WriteConsole: %v", errno)
	}
	if n != len("hello\n") {
		t.Fatalf("WriteConsole returned %d, want %d", n, len("hello\n"))
	}

	buf := make([]byte, 64)
	got := dev.Drain(buf)
	if string(buf[:got]) != "hello\n" {
		t.Fatalf("Drain = %q, want %q", buf[:got], "hello\n")
	}
	if out.Len() == 0 {
		t.Fatal("expected WriteConsole to also mirror to the host logger")
	}
}

func TestSanitizeDropsControlBytes(t *testing.T) {
	r := NewRing()
	if _, err := r.Write([]byte("ok\x01bad\x02")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 64)
	n := r.Drain(buf)
	if string(buf[:n]) != "okbad" {
		t.Fatalf("Drain = %q, want %q", buf[:n], "okbad")
	}
}

func TestRingWrapsOnOverflow(t *testing.T) {
	r := NewRing()
	big := bytes.Repeat([]byte{'x'}, ringSize+10)
	if _, err := r.Write(big); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, ringSize)
	n := r.Drain(buf)
	if n != ringSize {
		t.Fatalf("Drain = %d, want %d (ring should cap at capacity)", n, ringSize)
	}
}

func TestProfileBytesProducesNonEmptyProfile(t *testing.T) {
	table := newTestTable(t)
	dev := New(table, &bytes.Buffer{})

	data, errno := dev.ProfileBytes()
	if errno != syscall.ErrNone {
		t.Fatalf("ProfileBytes: %v", errno)
	}
	if len(data) == 0 {
		t.Fatal("ProfileBytes returned empty gzip-encoded profile")
	}
}
