// Package fs implements the inode-based file system: superblock, inode
// allocation, direct/indirect block maps, directories, path resolution,
// and a file table, backed by package bio's buffer cache, plus the redo
// log that makes multi-block updates crash-atomic (spec §4.H).
//
// Grounded on the teacher's fs/super.go (Superblock_t's field-record
// layout idiom, fieldr/fieldw) and ufs/ufs.go (Ufs_t's Fs_open/Fs_mkdir
// shape for the path-resolution and file-table operations), cross-checked
// against original_source/lab6..lab8's kernel/fs.c and kernel/log.c for
// the exact bmap/log commit protocol spec §4.H distills.
package fs

import (
	"encoding/binary"
	"fmt"

	"rvos/bio"
	"rvos/config"
)

// Errno is the negative-on-failure error type for this package, per
// SPEC_FULL.md §A.1.
type Errno int

func (e Errno) Error() string { return fmt.Sprintf("fs error %d", int(e)) }

const (
	ErrNone    Errno = 0
	ErrNoSpace Errno = -1
	ErrExist   Errno = -2
	ErrNotDir  Errno = -3
	ErrIsDir   Errno = -4
	ErrNoEnt   Errno = -5
	ErrNotEmpty Errno = -6
	ErrInval   Errno = -7
	ErrPath    Errno = -8
)

const magic = 0x10203040

// dinodeSize is the on-disk size of one inode record: Type(2) + Nlink(2) +
// Size(4) + Addrs[NDIRECT+1]*4.
const dinodeSize = 2 + 2 + 4 + (config.NDIRECT+1)*4

// NINODES is the fixed number of inodes the on-disk filesystem image
// carries, the Go analogue of the teacher's Superblock_t.Inodelen() region
// sized for a small teaching disk.
const NINODES = 200

// NINODE is the size of the in-memory inode cache, mirroring bio.Cache's
// fixed-slot design for the same reason (spec §3: "in-memory mirror adds
// (dev, inum, refcount, valid, lock)").
const NINODE = 50

// Superblock is the in-memory superblock, constructed at Init, per spec
// §4.H. Unlike the teacher's field-accessor-over-bytes Superblock_t, this
// is a plain Go struct — the same data, read once from block 0 and kept
// resident, since the spec only ever requires it to be "constructed at
// iinit", never mutated after mkfs lays it down.
type Superblock struct {
	Magic      uint32
	Size       uint32 // total blocks on disk
	NBlocks    uint32 // data blocks available to bmap
	NInodes    uint32
	LogStart   uint32
	NLog       uint32 // log region length in blocks, including the header
	InodeStart uint32
	BmapStart  uint32
}

// computeLayout derives the on-disk layout for an nblocks-block disk, the
// Go analogue of the teacher's mkfs geometry computation (mkfs/mkfs.go).
func computeLayout(nblocks int, nlog int) Superblock {
	ninodeblocks := (NINODES*dinodeSize + config.BSIZE - 1) / config.BSIZE
	logStart := 1 // block 0 holds the superblock itself
	inodeStart := logStart + nlog
	bmapStart := inodeStart + ninodeblocks
	return Superblock{
		Magic:      magic,
		Size:       uint32(nblocks),
		NBlocks:    uint32(nblocks - bmapStart - 1),
		NInodes:    NINODES,
		LogStart:   uint32(logStart),
		NLog:       uint32(nlog),
		InodeStart: uint32(inodeStart),
		BmapStart:  uint32(bmapStart),
	}
}

func (sb *Superblock) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], sb.Magic)
	binary.LittleEndian.PutUint32(b[4:], sb.Size)
	binary.LittleEndian.PutUint32(b[8:], sb.NBlocks)
	binary.LittleEndian.PutUint32(b[12:], sb.NInodes)
	binary.LittleEndian.PutUint32(b[16:], sb.LogStart)
	binary.LittleEndian.PutUint32(b[20:], sb.NLog)
	binary.LittleEndian.PutUint32(b[24:], sb.InodeStart)
	binary.LittleEndian.PutUint32(b[28:], sb.BmapStart)
}

func decodeSuperblock(b []byte) Superblock {
	return Superblock{
		Magic:      binary.LittleEndian.Uint32(b[0:]),
		Size:       binary.LittleEndian.Uint32(b[4:]),
		NBlocks:    binary.LittleEndian.Uint32(b[8:]),
		NInodes:    binary.LittleEndian.Uint32(b[12:]),
		LogStart:   binary.LittleEndian.Uint32(b[16:]),
		NLog:       binary.LittleEndian.Uint32(b[20:]),
		InodeStart: binary.LittleEndian.Uint32(b[24:]),
		BmapStart:  binary.LittleEndian.Uint32(b[28:]),
	}
}

// WriteSuperblock persists sb to block 0, used by mkfs (cmd/mkfs) and by
// tests that build a fresh image in-process instead of via the tool.
func WriteSuperblock(cache *bio.Cache, dev int, sb Superblock) {
	b := cache.Bread(dev, 0)
	defer cache.Brelse(b)
	sb.encode(b.Data[:32])
	cache.Bwrite(b)
}

// ReadSuperblock reads and decodes the superblock from block 0.
func ReadSuperblock(cache *bio.Cache, dev int) Superblock {
	b := cache.Bread(dev, 0)
	defer cache.Brelse(b)
	return decodeSuperblock(b.Data[:32])
}
