// Package console is the contract-only boundary for the UART collaborator
// spec §1/§6 explicitly put out of scope ("no real NS16550 register
// programming"). It exists so the syscall layer has something concrete
// to call for write(fd=1/2,...), per the teacher's defs/device.go
// D_CONSOLE identifier and spec §4.F's "fd 1/2 -> the console device".
//
// Grounded on the teacher's ufs/driver.go Driver_t contract shape
// (an interface the rest of the kernel calls without caring which real
// device backs it), adapted from that package's filesystem-driver
// indirection to this kernel's single write-only console.
package console

import "rvos/syscall"

// Device is the console's syscall-facing contract: write bytes destined
// for fd 1 (stdout) or fd 2 (stderr) to the UART. The real kernel maps
// config.UART0's UARTWINDOW-sized MMIO region and pokes the NS16550
// transmit-holding register one byte at a time under interrupt masking;
// this package never does that itself (spec §1 "specified by contract,
// not by code") but Device is the seam a real implementation plugs into.
type Device interface {
	WriteConsole(fd int, data []byte) (int, syscall.Errno)
}

// Fake is a host-side stand-in for the real UART: it appends every
// write to an in-memory log instead of programming MMIO registers, so
// tests and the klog-backed demo harness have something to run against.
// Grounded on the same "record instead of poke hardware" idiom the
// teacher's stat/stats.go counters use for instrumentation that has no
// physical backing in a hosted test run.
type Fake struct {
	Lines [][]byte
}

// NewFake constructs an empty Fake.
func NewFake() *Fake { return &Fake{} }

// WriteConsole implements Device (and syscall.ConsoleWriter) by recording
// a copy of data and reporting every byte written, matching spec §4.F's
// "console writes never partially fail once fd and length are validated".
func (f *Fake) WriteConsole(fd int, data []byte) (int, syscall.Errno) {
	if fd != 1 && fd != 2 {
		return 0, syscall.ErrBadFd
	}
	line := make([]byte, len(data))
	copy(line, data)
	f.Lines = append(f.Lines, line)
	return len(data), syscall.ErrNone
}

// Bytes concatenates every recorded write, for test assertions against
// the cumulative console transcript.
func (f *Fake) Bytes() []byte {
	var out []byte
	for _, l := range f.Lines {
		out = append(out, l...)
	}
	return out
}
