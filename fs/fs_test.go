package fs

import (
	"bytes"
	"testing"

	"rvos/bio"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	disk := bio.NewDisk(256)
	cache := bio.NewCache(disk, 32)
	Format(cache, disk, 0, 256, 16)
	return Init(nil, cache, disk, 0)
}

// TestInodeWriteRead is scenario 4 from spec §8.
func TestInodeWriteRead(t *testing.T) {
	fsys := newTestFS(t)

	fsys.Log.BeginOp(nil)
	ip := fsys.Ialloc(fsys.Dev, TypeFile)
	msg := "Hello, filesystem!"
	n := ip.Writei(fsys.Log, []byte(msg), 0, uint32(len(msg)))
	fsys.Log.EndOp(nil)
	if n != len(msg) {
		t.Fatalf("Writei returned %d, want %d", n, len(msg))
	}

	buf := make([]byte, 64)
	got := ip.Readi(buf, 0, 64)
	if got != len(msg) {
		t.Fatalf("Readi returned %d bytes, want %d", got, len(msg))
	}
	if !bytes.Equal(buf[:got], []byte(msg)) {
		t.Fatalf("Readi = %q, want %q", buf[:got], msg)
	}
	ip.Iunlock()
}

// TestWriteSpansDirectAndIndirectBlocks exercises bmap's direct+indirect
// path with a 14-block write read back whole.
func TestWriteSpansDirectAndIndirectBlocks(t *testing.T) {
	fsys := newTestFS(t)

	fsys.Log.BeginOp(nil)
	ip := fsys.Ialloc(fsys.Dev, TypeFile)
	big := bytes.Repeat([]byte{0x42}, 4096*14) // spans direct + indirect blocks
	n := ip.Writei(fsys.Log, big, 0, uint32(len(big)))
	fsys.Log.EndOp(nil)
	if n != len(big) {
		t.Fatalf("Writei returned %d, want %d", n, len(big))
	}

	readBack := make([]byte, len(big))
	got := ip.Readi(readBack, 0, uint32(len(big)))
	if got != len(big) || !bytes.Equal(readBack, big) {
		t.Fatalf("multi-block round trip mismatch (got %d bytes)", got)
	}
	ip.Iunlock()
}

// TestCreateOfExistingFileReturnsIt covers the directory component of spec
// §4.H: creating a regular file under a name that already holds one
// returns the existing file instead of failing.
func TestCreateOfExistingFileReturnsIt(t *testing.T) {
	fsys := newTestFS(t)

	ip, errno := fsys.Create(nil, "/foo.txt", TypeFile)
	if errno != ErrNone {
		t.Fatalf("Create: %v", errno)
	}
	ip.Iunlock()
	ip.Iput(nil)

	_, errno = fsys.Create(nil, "/foo.txt", TypeFile)
	if errno != ErrNone {
		t.Fatalf("re-Create of existing regular file should succeed, got %v", errno)
	}
}

// TestNameiResolvesNestedPath exercises path resolution through a
// freshly-created subdirectory.
func TestNameiResolvesNestedPath(t *testing.T) {
	fsys := newTestFS(t)

	dir, errno := fsys.Create(nil, "/sub", TypeDir)
	if errno != ErrNone {
		t.Fatalf("mkdir: %v", errno)
	}
	dir.Iunlock()
	dir.Iput(nil)

	file, errno := fsys.Create(nil, "/sub/leaf.txt", TypeFile)
	if errno != ErrNone {
		t.Fatalf("create nested file: %v", errno)
	}
	file.Iunlock()
	file.Iput(nil)

	found := fsys.Namei(nil, "/sub/leaf.txt")
	if found == nil {
		t.Fatal("Namei: nested file not found")
	}
	if found.Inum != file.Inum {
		t.Fatalf("Namei resolved inum %d, want %d", found.Inum, file.Inum)
	}
}

// TestBalanceFreeBlocksRoundTrip exercises the free-block counter through
// an allocate/free cycle.
func TestBalanceFreeBlocksRoundTrip(t *testing.T) {
	fsys := newTestFS(t)
	before := fsys.CountFreeBlocks()

	blockno := fsys.Balloc()
	if fsys.CountFreeBlocks() != before-1 {
		t.Fatalf("CountFreeBlocks after Balloc = %d, want %d", fsys.CountFreeBlocks(), before-1)
	}
	fsys.Bfree(blockno)
	if fsys.CountFreeBlocks() != before {
		t.Fatalf("CountFreeBlocks after Bfree = %d, want %d", fsys.CountFreeBlocks(), before)
	}
}
