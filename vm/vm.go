// Package vm implements the three-level Sv39-style page-table manager:
// walk/map/unmap/translate primitives operating on a per-address-space root
// page-table page, plus the kernel's own address space setup.
//
// Grounded on the teacher's vm/as.go (Vm_t, Lock_pmap/Unlock_pmap,
// Userdmap8_inner's PTE-permission-bit handling) and mem/dmap.go (pgbits,
// the recursive-shift VPN extraction idiom: shl(c) = 12+9*c), adapted from
// the teacher's four-level x86 scheme down to the three-level Sv39 layout
// spec §3/§4.B actually specifies, and from the teacher's PTE_P/PTE_W/PTE_U
// bit names to the spec's Valid/Read/Write/Exec/User bit positions.
package vm

import (
	"fmt"

	"rvos/config"
	"rvos/pmem"
)

// PTE is a page-table entry: a 64-bit word with flag bits in the low 10
// bits and a physical page number in bits 10..53, per spec §6.
type PTE uint64

// Flag bit positions, per spec §6 ("Bits: Valid=0, Read=1, Write=2, Exec=3,
// User=4").
const (
	FlagValid PTE = 1 << 0
	FlagRead  PTE = 1 << 1
	FlagWrite PTE = 1 << 2
	FlagExec  PTE = 1 << 3
	FlagUser  PTE = 1 << 4
)

const ppnShift = 10

// Err is the package's negative-on-failure error type, matching the
// teacher's defs.Err_t convention (and the ambient-stack decision in
// SPEC_FULL.md §A.1).
type Err int

func (e Err) Error() string { return fmt.Sprintf("vm error %d", int(e)) }

const (
	ErrNone   Err = 0
	ErrRemap  Err = -1
	ErrNoMem  Err = -2
	ErrFault  Err = -3
	ErrAlign  Err = -4
)

// MkPTE encodes a physical page number and flag bits into a PTE, the Go
// analogue of the teacher's pte<->(pa,flags) encoding functions.
func MkPTE(pa pmem.PA, flags PTE) PTE {
	return PTE(uint64(pa)>>config.PGSHIFT<<ppnShift) | flags
}

// PA extracts the physical page address named by a PTE.
func (p PTE) PA() pmem.PA {
	return pmem.PA((uint64(p) >> ppnShift) << config.PGSHIFT)
}

// Valid reports whether the Valid bit is set.
func (p PTE) Valid() bool { return p&FlagValid != 0 }

// Leaf reports whether any of R/W/X is set — a leaf PTE, per spec §3
// ("Leaf when any of R/W/X is set; interior otherwise").
func (p PTE) Leaf() bool { return p&(FlagRead|FlagWrite|FlagExec) != 0 }

// Perm returns just the permission bits (R/W/X/U), discarding Valid and the
// physical page number.
func (p PTE) Perm() PTE { return p & (FlagRead | FlagWrite | FlagExec | FlagUser) }

// pageTable is 512 page-table entries, one Sv39 level.
type pageTable [512]PTE

// AddrSpace is a Sv39 address space: a root page-table page plus the
// transitive closure of interior pages reached through Valid interior
// entries, per spec §3.
type AddrSpace struct {
	mem  *pmem.Allocator
	Root pmem.PA
}

// vpn extracts the three 9-bit virtual-page-number fields of a Sv39
// virtual address, highest level first, mirroring mem/dmap.go's pgbits
// (adapted from four levels down to Sv39's three).
func vpn(va uint64) (l2, l1, l0 uint64) {
	l2 = (va >> (12 + 9 + 9)) & 0x1ff
	l1 = (va >> (12 + 9)) & 0x1ff
	l0 = (va >> 12) & 0x1ff
	return
}

// Mem exposes the physical allocator backing this address space, so
// higher-level packages (syscall's copyin/copyout) can read page bytes
// once WalkAddr has resolved a translation.
func (as *AddrSpace) Mem() *pmem.Allocator { return as.mem }

func (as *AddrSpace) table(pa pmem.PA) *pageTable {
	return (*pageTable)(rawPointer(as.mem.Read(pa)))
}

// CreatePageTable allocates a zeroed root page-table page and returns a new
// AddrSpace over it, the Go analogue of create_pagetable.
func CreatePageTable(mem *pmem.Allocator) (*AddrSpace, Err) {
	pa := mem.AllocPage()
	if pa == 0 {
		return nil, ErrNoMem
	}
	b := mem.Read(pa)
	for i := range b {
		b[i] = 0
	}
	return &AddrSpace{mem: mem, Root: pa}, ErrNone
}

// Walk descends Sv39 levels 2->1->0 and returns a pointer to the level-0
// PTE for va. When the walk finds a cleared interior entry, it either
// returns nil (alloc==false) or allocates and installs a zeroed interior
// page (alloc==true), per spec §4.B.
func (as *AddrSpace) Walk(va uint64, alloc bool) (*PTE, Err) {
	if va >= config.MAXVA {
		return nil, ErrFault
	}
	l2, l1, l0 := vpn(va)
	levels := []uint64{l2, l1}
	pa := as.Root
	for _, idx := range levels {
		pt := as.table(pa)
		pte := &pt[idx]
		if !pte.Valid() {
			if !alloc {
				return nil, ErrNone
			}
			child := as.mem.AllocPage()
			if child == 0 {
				return nil, ErrNoMem
			}
			cb := as.mem.Read(child)
			for i := range cb {
				cb[i] = 0
			}
			*pte = MkPTE(child, FlagValid)
		}
		pa = pte.PA()
	}
	pt := as.table(pa)
	return &pt[l0], ErrNone
}

// MapPages installs a mapping for each page in
// [PGROUNDDOWN(va), PGROUNDDOWN(va+size-1)] to the corresponding
// physically contiguous pages starting at pa, with permission bits perm.
// Fails with ErrRemap if any covered leaf PTE is already valid, ErrNoMem if
// an interior page can't be allocated, per spec §4.B.
func (as *AddrSpace) MapPages(va uint64, size uint64, pa pmem.PA, perm PTE) Err {
	if size == 0 {
		panic("vm.MapPages: zero size")
	}
	start := pgRoundDown(va)
	last := pgRoundDown(va + size - 1)
	for a, p := start, pa; ; a, p = a+config.PGSIZE, p+config.PGSIZE {
		pte, err := as.Walk(a, true)
		if err != ErrNone {
			return err
		}
		if pte.Valid() {
			return ErrRemap
		}
		*pte = MkPTE(p, perm|FlagValid)
		if a == last {
			break
		}
	}
	return ErrNone
}

// UnmapPage clears the leaf PTE for va without freeing its physical page
// (caller's responsibility, per spec §4.B).
func (as *AddrSpace) UnmapPage(va uint64) Err {
	pte, err := as.Walk(va, false)
	if err != ErrNone {
		return err
	}
	if pte == nil || !pte.Valid() {
		return ErrFault
	}
	*pte = 0
	return ErrNone
}

// WalkAddr translates va to a physical address, including the page offset,
// returning 0 if no valid mapping exists.
func (as *AddrSpace) WalkAddr(va uint64) pmem.PA {
	if va >= config.MAXVA {
		return 0
	}
	pte, _ := as.Walk(va, false)
	if pte == nil || !pte.Valid() {
		return 0
	}
	return pte.PA() + pmem.PA(va&config.PGOFFSET)
}

// CopyMapping installs the same physical mappings from src into dst over
// [va, va+size) with the source's permissions minus the write bit — the
// first half of copy-on-write, per spec §4.B and §4.E's Fork. There is no
// fault handler backing these read-only aliases in this kernel (see Fork's
// decision to deep-copy instead; this primitive is kept for callers that
// genuinely want a CoW-style read-only alias, e.g. tests).
func CopyMapping(src, dst *AddrSpace, va, size uint64) Err {
	start := pgRoundDown(va)
	last := pgRoundDown(va + size - 1)
	for a := start; ; a += config.PGSIZE {
		spte, err := src.Walk(a, false)
		if err != ErrNone {
			return err
		}
		if spte == nil || !spte.Valid() {
			return ErrFault
		}
		perm := spte.Perm() &^ FlagWrite
		if err := dst.MapPages(a, config.PGSIZE, spte.PA(), perm); err != ErrNone {
			return err
		}
		if a == last {
			break
		}
	}
	return ErrNone
}

// Destroy frees every interior page reached through Valid interior PTEs in
// post-order. Leaves must already have been unmapped and their physical
// pages freed by the caller, per spec §4.B.
func (as *AddrSpace) Destroy() {
	as.destroy(as.Root, 2)
}

func (as *AddrSpace) destroy(pa pmem.PA, level int) {
	pt := as.table(pa)
	if level > 0 {
		for i := range pt {
			pte := pt[i]
			if pte.Valid() && !pte.Leaf() {
				as.destroy(pte.PA(), level-1)
			} else if pte.Valid() && pte.Leaf() {
				panic("vm.Destroy: live leaf mapping still installed")
			}
		}
	}
	as.mem.FreePage(pa)
}

func pgRoundDown(va uint64) uint64 {
	return va &^ uint64(config.PGOFFSET)
}

// PGRoundUp rounds va up to the next page boundary.
func PGRoundUp(va uint64) uint64 {
	return (va + config.PGOFFSET) &^ uint64(config.PGOFFSET)
}
