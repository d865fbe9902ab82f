// Package pmem implements the physical-page allocator: a free list threaded
// through the first word of each free page over the RAM region
// [end-of-kernel-image, PHYSTOP). Grounded on the teacher's mem/mem.go
// (Physmem_t, Pa_t, Pg_t, the PGSHIFT/PGSIZE/PGOFFSET constant family) and
// mem/dmap.go (the direct-map window used to turn a physical address into a
// byte slice), adapted from the teacher's refcounted-page-with-direct-map
// design down to the simpler bare free-list spec §4.A calls for.
package pmem

import (
	"fmt"

	"rvos/config"
	"rvos/spinlock"
)

// PA is a physical address. Matches the teacher's mem.Pa_t in spirit: an
// address into the simulated RAM arena, not a host process address.
type PA uint64

// page is the fixed-size chunk the allocator hands out.
type page [config.PGSIZE]byte

// poison is written into every freshly allocated page, and zero is written
// into every freed page, matching spec §3 ("poisoned ... on allocation",
// "wiped on free").
const poison = 0x5a

// Allocator owns the simulated RAM arena and the free list threaded through
// it. A real kernel has exactly one; tests may construct private instances
// over smaller arenas.
type Allocator struct {
	lk       spinlock.Lock
	base     PA
	top      PA
	ram      []byte // arena backing [base, top)
	freelist PA     // 0 means empty; otherwise points into ram
	free     int
	allocated int
}

// freeNode is the layout threaded through the first bytes of a free page.
type freeNode struct {
	next PA
}

const nodeSize = 8 // one 64-bit "next" pointer

// New constructs an Allocator managing count pages of simulated RAM
// starting at config.KERNBASE-equivalent "end of kernel image" base. Pages
// are freed eagerly, mirroring pmem_init() in spec §4.A ("walk from
// page-aligned end-of-kernel to PHYSTOP, freeing each page").
func New(base PA, count int) *Allocator {
	if uint64(base)%config.PGSIZE != 0 {
		panic("pmem.New: base not page-aligned")
	}
	a := &Allocator{
		base: base,
		top:  base + PA(count*config.PGSIZE),
	}
	spinlock.Init(&a.lk, "pmem")
	a.ram = make([]byte, count*config.PGSIZE)
	for pa := a.top - config.PGSIZE; ; pa -= config.PGSIZE {
		a.freePageLocked(pa)
		if pa == a.base {
			break
		}
	}
	return a
}

// Default constructs the Allocator matching config's compile-time RAM
// layout: [config.KERNBASE, config.PHYSTOP).
func Default() *Allocator {
	count := (config.PHYSTOP - config.KERNBASE) / config.PGSIZE
	return New(config.KERNBASE, count)
}

func (a *Allocator) slice(pa PA) []byte {
	off := int(pa - a.base)
	return a.ram[off : off+config.PGSIZE]
}

// AllocPage pops the free-list head, poisons the page, and returns its
// physical address, or 0 if the allocator is exhausted.
func (a *Allocator) AllocPage() PA {
	a.lk.Acquire()
	defer a.lk.Release()
	return a.allocPageLocked()
}

func (a *Allocator) allocPageLocked() PA {
	if a.freelist == 0 {
		return 0
	}
	pa := a.freelist
	b := a.slice(pa)
	a.freelist = readNext(b)
	for i := range b {
		b[i] = poison
	}
	a.allocated++
	a.free--
	return pa
}

// FreePage pushes pa back onto the free list after wiping it to zero (anti
// information-leak, matching spec §4.A). It panics — matching the fatal
// policy for programmer errors in spec §7 — if pa is null, unaligned, below
// the managed region, or at/above PHYSTOP.
func (a *Allocator) FreePage(pa PA) {
	a.lk.Acquire()
	defer a.lk.Release()
	a.freePageLocked(pa)
}

func (a *Allocator) freePageLocked(pa PA) {
	if pa == 0 {
		panic("pmem.FreePage: null page")
	}
	if uint64(pa)%config.PGSIZE != 0 {
		panic(fmt.Sprintf("pmem.FreePage: %#x not page-aligned", pa))
	}
	if pa < a.base || pa >= a.top {
		panic(fmt.Sprintf("pmem.FreePage: %#x out of managed range [%#x,%#x)", pa, a.base, a.top))
	}
	b := a.slice(pa)
	for i := range b {
		b[i] = 0
	}
	writeNext(b, a.freelist)
	a.freelist = pa
	a.free++
	if a.allocated > 0 {
		a.allocated--
	}
}

// AllocPages makes a best-effort attempt at returning n physically
// contiguous pages. It is a simple, bounded retry over the free list: since
// the free list is typically close to address-ordered early in the
// allocator's life (pmem_init frees high-to-low) but becomes fragmented
// with use, this is best-effort only and returns 0 when no contiguous run
// of n pages is currently free, matching spec §4.A exactly.
func (a *Allocator) AllocPages(n int) PA {
	if n <= 0 {
		panic("pmem.AllocPages: n <= 0")
	}
	const maxAttempts = 64
	a.lk.Acquire()
	defer a.lk.Release()
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if start, ok := a.findContiguousLocked(n); ok {
			for i := 0; i < n; i++ {
				a.removeFromFreelistLocked(start + PA(i*config.PGSIZE))
			}
			for i := 0; i < n; i++ {
				b := a.slice(start + PA(i*config.PGSIZE))
				for j := range b {
					b[j] = poison
				}
			}
			a.allocated += n
			a.free -= n
			return start
		}
	}
	return 0
}

// findContiguousLocked scans the managed range for n consecutive free
// pages by checking free-list membership of each candidate page. This is
// O(n * freelist length) but the allocator is a teaching artifact over a
// modest RAM region, and the spec only requires best-effort behavior.
func (a *Allocator) findContiguousLocked(n int) (PA, bool) {
	free := a.freeSetLocked()
	run := 0
	var start PA
	for pa := a.base; pa < a.top; pa += config.PGSIZE {
		if free[pa] {
			if run == 0 {
				start = pa
			}
			run++
			if run == n {
				return start, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

func (a *Allocator) freeSetLocked() map[PA]bool {
	set := make(map[PA]bool)
	for pa := a.freelist; pa != 0; pa = readNext(a.slice(pa)) {
		if set[pa] {
			panic("pmem: free list cycle detected")
		}
		set[pa] = true
	}
	return set
}

func (a *Allocator) removeFromFreelistLocked(target PA) {
	if a.freelist == target {
		a.freelist = readNext(a.slice(target))
		return
	}
	for pa := a.freelist; pa != 0; {
		next := readNext(a.slice(pa))
		if next == target {
			writeNext(a.slice(pa), readNext(a.slice(target)))
			return
		}
		pa = next
	}
	panic("pmem: target not on free list")
}

// Read returns a byte slice view of the page at pa, the direct-map
// equivalent of the teacher's Dmaplen.
func (a *Allocator) Read(pa PA) []byte {
	return a.slice(pa)
}

// Free returns the number of currently free pages.
func (a *Allocator) Free() int {
	a.lk.Acquire()
	defer a.lk.Release()
	return a.free
}

// Allocated returns the number of currently allocated pages.
func (a *Allocator) Allocated() int {
	a.lk.Acquire()
	defer a.lk.Release()
	return a.allocated
}

func readNext(b []byte) PA {
	var n freeNode
	n.next = PA(b[0]) | PA(b[1])<<8 | PA(b[2])<<16 | PA(b[3])<<24 |
		PA(b[4])<<32 | PA(b[5])<<40 | PA(b[6])<<48 | PA(b[7])<<56
	return n.next
}

func writeNext(b []byte, pa PA) {
	v := uint64(pa)
	for i := 0; i < nodeSize; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
