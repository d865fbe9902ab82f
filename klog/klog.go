// Package klog implements the kernel log ring buffer (SPEC_FULL.md §A.2):
// a fixed-capacity circular buffer fed by write(fd=1/2,...) and the
// kernel's own diagnostic logging, drained by user space through the
// klog syscall, plus a profread sibling that exports a pprof-format
// snapshot of per-process accounting (SPEC_FULL.md §B).
//
// Grounded on the teacher's circbuf/circbuf.go (Circbuf_t's head/tail
// ring-index shape) generalized from circbuf's single-daemon, not-safe-
// for-concurrent-use design to a spinlock-guarded singleton shared by
// every syscall caller.
package klog

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"unicode"

	"github.com/google/pprof/profile"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"rvos/proc"
	"rvos/spinlock"
	"rvos/syscall"
)

// ringSize matches the teacher's circbuf page-backed capacity (one
// PGSIZE), generalized here to a plain byte slice since this kernel
// models RAM as host memory rather than a direct-mapped physical page.
const ringSize = 4096

// sanitize strips non-printable, non-whitespace bytes from data before it
// enters the ring, per SPEC_FULL.md §B: "a malformed user buffer can't
// corrupt the text later read back via klog/profread."
var sanitize = transform.Chain(runes.Remove(runes.Predicate(func(r rune) bool {
	return r != '\n' && r != '\t' && !unicode.IsPrint(r)
})))

// Ring is a fixed-capacity circular byte buffer, the Go analogue of
// Circbuf_t, guarded by its own spinlock so concurrent write(2) callers
// and a draining klog(2) caller don't race.
type Ring struct {
	lk   spinlock.Lock
	buf  [ringSize]byte
	head int // next write position
	tail int // next read position
	full bool
}

// NewRing constructs an empty Ring.
func NewRing() *Ring {
	r := &Ring{}
	spinlock.Init(&r.lk, "klog_ring")
	return r
}

// Write appends sanitized bytes to the ring, overwriting the oldest bytes
// once full — the classic dmesg-style ring discipline, matching the
// teacher's own "lazily allocated, simplest thing that works" circbuf
// philosophy (circbuf/circbuf.go's Cb_init comment).
func (r *Ring) Write(p []byte) (int, error) {
	clean, _, err := transform.Bytes(sanitize, p)
	if err != nil {
		return 0, err
	}
	r.lk.Acquire()
	defer r.lk.Release()
	for _, b := range clean {
		r.buf[r.head] = b
		r.head = (r.head + 1) % ringSize
		if r.full {
			r.tail = (r.tail + 1) % ringSize
		}
		if r.head == r.tail {
			r.full = true
		}
	}
	return len(p), nil
}

// Drain copies up to len(dst) unread bytes out of the ring (oldest
// first), advancing the read position, and returns the count copied — the
// klog syscall's kernel-side half, per spec §4.F.
func (r *Ring) Drain(dst []byte) int {
	r.lk.Acquire()
	defer r.lk.Release()
	n := 0
	for n < len(dst) && (r.full || r.tail != r.head) {
		dst[n] = r.buf[r.tail]
		r.tail = (r.tail + 1) % ringSize
		r.full = false
		n++
	}
	return n
}

// Device implements syscall.KlogDevice: draining the ring for the klog
// syscall, and serializing a pprof profile of per-process CPU accounting
// for profread.
type Device struct {
	Ring   *Ring
	Table  *proc.Table
	Logger *log.Logger // mirrors the ring to the host test process (SPEC_FULL.md §A.2)
}

// New constructs a Device backed by a fresh Ring, logging a copy of every
// write to out (typically the test harness's stdout).
func New(table *proc.Table, out io.Writer) *Device {
	return &Device{Ring: NewRing(), Table: table, Logger: log.New(out, "klog: ", 0)}
}

// WriteConsole implements syscall.ConsoleWriter by feeding write(fd=1/2,...)
// bytes into the ring (and the host logger), the ambient-logging path
// SPEC_FULL.md §A.2/§B describes alongside the real UART collaborator.
func (d *Device) WriteConsole(fd int, data []byte) (int, syscall.Errno) {
	n, err := d.Ring.Write(data)
	if err != nil {
		return 0, syscall.ErrFault
	}
	d.Logger.Print(string(bytes.TrimRight(data, "\x00")))
	return n, syscall.ErrNone
}

// Drain satisfies syscall.KlogDevice.
func (d *Device) Drain(buf []byte) int { return d.Ring.Drain(buf) }

// ProfileBytes serializes a pprof profile.Profile whose samples are each
// process's accumulated user/system nanoseconds — the sample type is
// "cpu"/"nanoseconds" — per SPEC_FULL.md §B's profread wiring of
// google/pprof/profile, the teacher's unused-in-pack pprof dependency.
func (d *Device) ProfileBytes() ([]byte, syscall.Errno) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cpu", Unit: "nanoseconds"}},
		Function:   []*profile.Function{},
		Location:   []*profile.Location{},
	}
	rows := d.Table.Snapshot()
	for i, row := range rows {
		fn := &profile.Function{ID: uint64(i + 1), Name: fmt.Sprintf("pid%d:%s", row.Pid, row.Name)}
		loc := &profile.Location{ID: uint64(i + 1), Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{row.Userns + row.Sysns},
		})
	}
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, syscall.ErrFault
	}
	return buf.Bytes(), syscall.ErrNone
}
