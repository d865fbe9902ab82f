package vm

import (
	"testing"

	"rvos/config"
	"rvos/pmem"
)

func newMem(t *testing.T) *pmem.Allocator {
	t.Helper()
	return pmem.New(0x80000000, 256)
}

// TestMapTranslate is the literal scenario 2 from the spec.
func TestMapTranslate(t *testing.T) {
	mem := newMem(t)
	as, err := CreatePageTable(mem)
	if err != ErrNone {
		t.Fatalf("CreatePageTable: %v", err)
	}
	pa := mem.AllocPage()
	if pa == 0 {
		t.Fatal("AllocPage failed")
	}
	const va = 0x1000000
	if err := as.MapPages(va, config.PGSIZE, pa, FlagRead|FlagWrite); err != ErrNone {
		t.Fatalf("MapPages: %v", err)
	}
	if got := as.WalkAddr(va); got != pa {
		t.Fatalf("WalkAddr = %#x, want %#x", got, pa)
	}
	pte, _ := as.Walk(va, false)
	if pte == nil || !pte.Valid() {
		t.Fatal("expected valid leaf PTE")
	}
	if pte.Perm()&FlagRead == 0 || pte.Perm()&FlagWrite == 0 {
		t.Fatal("expected R and W set")
	}
	if pte.Perm()&FlagExec != 0 {
		t.Fatal("expected X clear")
	}
}

func TestRemapFails(t *testing.T) {
	mem := newMem(t)
	as, _ := CreatePageTable(mem)
	pa := mem.AllocPage()
	if err := as.MapPages(0x2000000, config.PGSIZE, pa, FlagRead); err != ErrNone {
		t.Fatalf("first map: %v", err)
	}
	pa2 := mem.AllocPage()
	if err := as.MapPages(0x2000000, config.PGSIZE, pa2, FlagRead); err != ErrRemap {
		t.Fatalf("expected ErrRemap, got %v", err)
	}
}

func TestUnmapThenWalkAddr(t *testing.T) {
	mem := newMem(t)
	as, _ := CreatePageTable(mem)
	pa := mem.AllocPage()
	as.MapPages(0x3000000, config.PGSIZE, pa, FlagRead|FlagWrite)
	if err := as.UnmapPage(0x3000000); err != ErrNone {
		t.Fatalf("UnmapPage: %v", err)
	}
	if got := as.WalkAddr(0x3000000); got != 0 {
		t.Fatalf("expected 0 after unmap, got %#x", got)
	}
}

func TestRejectsAboveMaxVA(t *testing.T) {
	mem := newMem(t)
	as, _ := CreatePageTable(mem)
	if got := as.WalkAddr(config.MAXVA); got != 0 {
		t.Fatalf("expected 0 for VA >= MAXVA, got %#x", got)
	}
}

// TestAddrSpaceIsTree verifies that following Valid interior PTEs never
// revisits a page, i.e. the reached set of pages forms a tree (spec §8).
func TestAddrSpaceIsTree(t *testing.T) {
	mem := newMem(t)
	as, _ := CreatePageTable(mem)
	for i := 0; i < 8; i++ {
		pa := mem.AllocPage()
		va := uint64(0x4000000 + i*config.PGSIZE)
		if err := as.MapPages(va, config.PGSIZE, pa, FlagRead); err != ErrNone {
			t.Fatalf("map %d: %v", i, err)
		}
	}
	seen := map[pmem.PA]bool{}
	var walk func(pa pmem.PA, level int)
	walk = func(pa pmem.PA, level int) {
		if seen[pa] {
			t.Fatalf("page %#x reached twice", pa)
		}
		seen[pa] = true
		if level == 0 {
			return
		}
		pt := as.table(pa)
		for _, pte := range pt {
			if pte.Valid() && !pte.Leaf() {
				walk(pte.PA(), level-1)
			}
		}
	}
	walk(as.Root, 2)
}

func TestCopyMappingStripsWrite(t *testing.T) {
	mem := newMem(t)
	src, _ := CreatePageTable(mem)
	dst, _ := CreatePageTable(mem)
	pa := mem.AllocPage()
	src.MapPages(0x5000000, config.PGSIZE, pa, FlagRead|FlagWrite)
	if err := CopyMapping(src, dst, 0x5000000, config.PGSIZE); err != ErrNone {
		t.Fatalf("CopyMapping: %v", err)
	}
	pte, _ := dst.Walk(0x5000000, false)
	if pte == nil || !pte.Valid() {
		t.Fatal("expected mapping installed in dst")
	}
	if pte.Perm()&FlagWrite != 0 {
		t.Fatal("expected write bit cleared")
	}
	if pte.PA() != pa {
		t.Fatal("expected same physical page")
	}
}

func TestKVMInitAndHart(t *testing.T) {
	mem := pmem.Default()
	as, err := KVMInit(mem, config.KERNBASE+2*config.PGSIZE)
	if err != ErrNone {
		t.Fatalf("KVMInit: %v", err)
	}
	var h Hart
	KVMInitHart(&h, as)
	if h.TLBFlushes() == 0 {
		t.Fatal("expected a TLB flush on hart install")
	}
	if as.WalkAddr(config.UART0) != config.UART0 {
		t.Fatal("expected identity mapping for UART MMIO window")
	}
}
