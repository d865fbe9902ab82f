package bio

import "testing"

// TestBufferCacheHit is scenario 3 from spec §8: a fresh cache miss, then a
// release and a re-read that must hit.
func TestBufferCacheHit(t *testing.T) {
	disk := NewDisk(16)
	cache := NewCache(disk, 4)

	b1 := cache.Bread(0, 7)
	if cache.Misses() != 1 || cache.Hits() != 0 {
		t.Fatalf("after first read: misses=%d hits=%d, want 1,0", cache.Misses(), cache.Hits())
	}
	cache.Brelse(b1)

	b2 := cache.Bread(0, 7)
	if cache.Misses() != 1 || cache.Hits() != 1 {
		t.Fatalf("after second read: misses=%d hits=%d, want 1,1", cache.Misses(), cache.Hits())
	}
	cache.Brelse(b2)
}

// TestWriteReadRoundTrip covers the disk round-trip testable property:
// write through Bwrite, evict, and re-read via Bread observes the bytes.
func TestWriteReadRoundTrip(t *testing.T) {
	disk := NewDisk(4)
	cache := NewCache(disk, 1) // single slot forces eviction between reads

	b := cache.Bread(0, 2)
	copy(b.Data[:], "hello disk")
	cache.Bwrite(b)
	cache.Brelse(b)

	// Reading another block through the single slot evicts block 2.
	other := cache.Bread(0, 3)
	cache.Brelse(other)

	b2 := cache.Bread(0, 2)
	defer cache.Brelse(b2)
	if got := string(b2.Data[:10]); got != "hello disk" {
		t.Fatalf("round trip: got %q, want %q", got, "hello disk")
	}
}

func TestBrelseUnderflowPanics(t *testing.T) {
	disk := NewDisk(4)
	cache := NewCache(disk, 1)
	b := cache.Bread(0, 0)
	cache.Brelse(b)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double brelse")
		}
	}()
	cache.Brelse(b)
}

func TestBreadOutOfRangePanics(t *testing.T) {
	disk := NewDisk(4)
	cache := NewCache(disk, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-range block")
		}
	}()
	cache.Bread(0, 99)
}

func TestNoFreeBuffersPanics(t *testing.T) {
	disk := NewDisk(4)
	cache := NewCache(disk, 1)
	b := cache.Bread(0, 0)
	_ = b
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when cache is exhausted")
		}
	}()
	cache.Bread(0, 1)
}
