// Command mkfs builds an offline filesystem image: a flat file containing
// a superblock, redo log, inode blocks, and data blocks laid out exactly
// as fs.Format describes, with a root directory ready to mount.
//
// Grounded on the teacher's mkfs/mkfs.go entry-point shape (flag parsing,
// a single output path; no root-inode check is made after formatting)
// adapted from that tool's ufs.MkDisk/BootFS/ShutdownFS host-file-backed
// disk idiom to mmap the image directly via golang.org/x/sys/unix, per
// SPEC_FULL.md §B (the teacher's own unused-in-pack unix dependency,
// given a first home here instead of a real disk driver).
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"rvos/bio"
	"rvos/config"
	"rvos/fs"
)

func main() {
	out := flag.String("o", "fs.img", "output image path")
	nblocks := flag.Int("blocks", 4096, "total blocks in the image")
	nlog := flag.Int("log", 32, "log blocks reserved for the redo log")
	flag.Parse()

	if *nblocks <= *nlog+4 {
		fmt.Fprintln(os.Stderr, "mkfs: -blocks must leave room for superblock, log, and inodes")
		os.Exit(1)
	}

	if err := build(*out, *nblocks, *nlog); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
}

// build formats a fresh image in host memory via the same bio.Disk/Cache
// the kernel uses at runtime, then mmaps the output file and copies the
// formatted blocks across — mirroring the teacher's "build the fs in a
// buffer, then persist it" two-phase mkfs shape.
func build(path string, nblocks, nlog int) error {
	disk := bio.NewDisk(nblocks)
	cache := bio.NewCache(disk, 64)
	sb := fs.Format(cache, disk, 0, nblocks, nlog)
	fmt.Printf("mkfs: %d total blocks, %d log blocks, %d inode blocks, %d data blocks\n",
		sb.Size, sb.NLog, sb.BmapStart-sb.InodeStart, sb.NBlocks)

	size := int64(nblocks) * config.BSIZE
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return err
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	defer unix.Munmap(mapped)

	for b := 0; b < nblocks; b++ {
		buf := cache.Bread(0, b)
		copy(mapped[b*config.BSIZE:(b+1)*config.BSIZE], buf.Data[:])
		cache.Brelse(buf)
	}

	return unix.Msync(mapped, unix.MS_SYNC)
}
