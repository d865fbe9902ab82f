package fs

import (
	"rvos/bio"
	"rvos/config"
)

// Format lays down a fresh filesystem image on disk: superblock, a zeroed
// log header, zeroed inode blocks, and a root directory inode (inum 1)
// containing "." and ".." entries pointing at itself. The superblock, log
// header, inode blocks and root inode are written directly through the
// buffer cache; the root's "." and ".." entries are then added in one
// logged transaction on the freshly initialized FS. Grounded on the teacher's mkfs/mkfs.go offline image-builder idiom,
// adapted from the teacher's on-the-fly-transferred-file-tree approach to
// this kernel's single-superblock, single-root-directory layout.
func Format(cache *bio.Cache, disk *bio.Disk, dev int, nblocks, nlog int) Superblock {
	sb := computeLayout(nblocks, nlog)
	WriteSuperblock(cache, dev, sb)

	hdr := cache.Bread(dev, int(sb.LogStart))
	for i := range hdr.Data {
		hdr.Data[i] = 0
	}
	cache.Bwrite(hdr)
	cache.Brelse(hdr)

	ninodeblocks := (int(sb.NInodes)*dinodeSize + config.BSIZE - 1) / config.BSIZE
	for i := 0; i < ninodeblocks; i++ {
		b := cache.Bread(dev, int(sb.InodeStart)+i)
		for j := range b.Data {
			b.Data[j] = 0
		}
		cache.Bwrite(b)
		cache.Brelse(b)
	}

	rootBlock, rootOff := formatInodeLoc(sb, rootInum)
	rb := cache.Bread(dev, rootBlock)
	root := dinode{Type: TypeDir, Nlink: 2}
	root.encode(rb.Data[rootOff : rootOff+dinodeSize])
	cache.Bwrite(rb)
	cache.Brelse(rb)

	fsys := Init(nil, cache, disk, dev)
	ip := fsys.Iget(dev, rootInum)
	ip.Ilock()
	fsys.Log.BeginOp(nil)
	fsys.Dirlink(nil, fsys.Log, ip, ".", rootInum)
	fsys.Dirlink(nil, fsys.Log, ip, "..", rootInum)
	ip.Iupdate(fsys.Log)
	fsys.Log.EndOp(nil)
	ip.Iunlock()

	return sb
}

func formatInodeLoc(sb Superblock, inum uint32) (blockno, off int) {
	perBlock := config.BSIZE / dinodeSize
	blockno = int(sb.InodeStart) + int(inum)/perBlock
	off = (int(inum) % perBlock) * dinodeSize
	return
}
