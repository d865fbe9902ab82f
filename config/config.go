// Package config holds the compile-time memory layout and tuning constants
// shared by every kernel package. The teacher repo keeps these as plain
// const blocks local to the package that needs them (mem.PGSHIFT,
// fs.BSIZE); here they are centralized since several packages (pmem, vm,
// bio, fs) all need to agree on the same RAM/disk geometry.
package config

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET = PGSIZE - 1

// KERNBASE is the virtual/physical base address of the loaded kernel image.
// The simulated machine identity-maps kernel text/data, so KERNBASE doubles
// as the physical base of the managed RAM region.
const KERNBASE = 0x80000000

// PHYSTOP is the physical address one past the end of managed RAM.
const PHYSTOP = KERNBASE + 128*1024*1024

// MAXVA is one past the highest virtual address this kernel accepts (2^38,
// per spec). A Sv39 three-level walk names 39 bits (9+9+9 bits of VPN plus
// 12 bits of offset); addresses at or above 2^38 would need the top bit
// sign-extended, so this kernel rejects them rather than implementing the
// canonical sign-extension hole.
const MAXVA = 1 << 38

// NPROC is the size of the fixed process table.
const NPROC = 64

// NDIRECT is the number of direct block pointers stored in an inode.
const NDIRECT = 12

// BSIZE is the size of a disk block in bytes.
const BSIZE = 4096

// NBLOCKS is the number of blocks on the simulated disk.
const NBLOCKS = 1024

// DIRSIZ is the maximum length of a path component / directory entry name.
const DIRSIZ = 14

// NINDIRECT is the number of block numbers that fit in one indirect block.
const NINDIRECT = BSIZE / 4

// MAXFILE is the largest block-count a file can reach (direct + indirect).
const MAXFILE = NDIRECT + NINDIRECT

// UART0 is the base MMIO address of the UART (external collaborator; the
// core only ever calls PutC/GetC through the console.Device interface, but
// kvminit still needs this address to map the MMIO window).
const UART0 = 0x10000000

// UARTWINDOW is the size, in bytes, of the mapped UART MMIO window.
const UARTWINDOW = PGSIZE

// CLINT is the base MMIO address of the core-local interruptor.
const CLINT = 0x02000000

// CLINTMTIMECMP is the address of the hart-0 mtimecmp register (offset
// 0x4000 within CLINT).
const CLINTMTIMECMP = CLINT + 0x4000

// CLINTMTIME is the address of the free-running mtime counter (offset
// 0xbff8 within CLINT).
const CLINTMTIME = CLINT + 0xbff8

// TIMERINTERVAL is the number of mtime ticks between supervisor timer
// interrupts, an arbitrary teaching-friendly cadence (~ every 100k cycles
// on the reference emulator's clock).
const TIMERINTERVAL = 100_000

// RAMProfile groups the handful of geometry values a test harness may want
// to vary without touching the package-level constants above (e.g. a
// smaller disk for a faster test run). Zero value means "use the package
// constants".
type RAMProfile struct {
	PhysTop uint64
	NBlocks int
	NProc   int
}

// Default returns the RAMProfile matching the package-level constants.
func Default() RAMProfile {
	return RAMProfile{PhysTop: PHYSTOP, NBlocks: NBLOCKS, NProc: NPROC}
}
