package fs

import (
	"unsafe"

	"rvos/bio"
	"rvos/config"
	"rvos/proc"
	"rvos/spinlock"
)

// Inode types, per spec §3 (on-disk inode "type" field). 0 means free.
const (
	TypeFree    int16 = 0
	TypeFile    int16 = 1
	TypeDir     int16 = 2
	TypeDevice  int16 = 3
)

// dinode is the fixed-layout on-disk inode record: type, link count, size,
// NDIRECT direct block numbers plus one indirect, per spec §3.
type dinode struct {
	Type  int16
	Nlink int16
	Size  uint32
	Addrs [config.NDIRECT + 1]uint32
}

func decodeDinode(b []byte) dinode {
	var d dinode
	d.Type = int16(le16(b[0:]))
	d.Nlink = int16(le16(b[2:]))
	d.Size = le32(b[4:])
	for i := range d.Addrs {
		d.Addrs[i] = le32(b[8+4*i:])
	}
	return d
}

func (d dinode) encode(b []byte) {
	putLE16(b[0:], uint16(d.Type))
	putLE16(b[2:], uint16(d.Nlink))
	putLE32(b[4:], d.Size)
	for i, a := range d.Addrs {
		putLE32(b[8+4*i:], a)
	}
}

func le16(b []byte) uint16     { return uint16(b[0]) | uint16(b[1])<<8 }
func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }

// Inode is the in-memory mirror of a dinode, per spec §3: adds (dev, inum,
// refcount, valid, lock) over the on-disk fields.
type Inode struct {
	lk spinlock.Lock

	fs   *FS
	Dev  int
	Inum uint32

	ref   int
	valid bool

	dinode
}

// Ilock locks ip, reading its on-disk contents in on first lock (spec §4.H:
// "in-memory mirror adds ... valid").
func (ip *Inode) Ilock() {
	ip.lk.Acquire()
	if !ip.valid {
		blockno, off := ip.fs.inodeBlock(ip.Inum)
		b := ip.fs.cache.Bread(ip.Dev, blockno)
		ip.dinode = decodeDinode(b.Data[off : off+dinodeSize])
		ip.fs.cache.Brelse(b)
		ip.valid = true
		if ip.Type == TypeFree {
			panic("fs.Ilock: inode has no type")
		}
	}
}

// Iunlock releases ip's lock.
func (ip *Inode) Iunlock() { ip.lk.Release() }

// Iupdate writes ip's in-memory fields back to its on-disk record through
// the log, so the update is part of the caller's transaction.
func (ip *Inode) Iupdate(log *Log) {
	blockno, off := ip.fs.inodeBlock(ip.Inum)
	b := ip.fs.cache.Bread(ip.Dev, blockno)
	ip.dinode.encode(b.Data[off : off+dinodeSize])
	log.LogWrite(b)
	ip.fs.cache.Brelse(b)
}

// Idup increments ip's reference count and returns it, for callers handing
// out an additional reference (e.g. a directory entry lookup that also
// keeps its own copy).
func (ip *Inode) Idup() *Inode {
	ip.fs.icacheLock.Acquire()
	ip.ref++
	ip.fs.icacheLock.Release()
	return ip
}

// Iput drops a reference to ip. When the last reference drops and the link
// count has reached zero, the inode's blocks are truncated and the inode
// is marked free — run inside its own transaction, per spec §4.H.
func (ip *Inode) Iput(p *proc.Proc) {
	ip.lk.Acquire()
	if ip.valid && ip.Nlink == 0 {
		ip.fs.icacheLock.Acquire()
		freeNow := ip.ref == 1
		ip.fs.icacheLock.Release()
		if freeNow {
			ip.fs.Log.BeginOp(p)
			ip.itrunc()
			ip.Type = TypeFree
			ip.Iupdate(ip.fs.Log)
			ip.valid = false
			ip.fs.Log.EndOp(p)
		}
	}
	ip.lk.Release()

	ip.fs.icacheLock.Acquire()
	ip.ref--
	ip.fs.icacheLock.Release()
}

// FS bundles the superblock, buffer cache, simulated disk, redo log, inode
// cache, and the allocator bitmap that backs bmap's block assignment —
// the singleton the rest of the package's operations hang off of.
type FS struct {
	Dev   int
	Sb    Superblock
	cache *bio.Cache
	disk  *bio.Disk
	Log   *Log

	icacheLock spinlock.Lock
	icache     [NINODE]Inode

	balloc spinlock.Lock
	bitmap []bool // one entry per data block, indexed from Sb.BmapStart+1
}

// Init constructs an FS singleton over an already-formatted disk (block 0
// holds the superblock, written by mkfs or WriteSuperblock), performing
// log recovery, per spec §4.H ("Superblock (in-memory, constructed at
// iinit)"). table may be nil only for the offline mkfs formatting path,
// before any process table exists.
func Init(table *proc.Table, cache *bio.Cache, disk *bio.Disk, dev int) *FS {
	sb := ReadSuperblock(cache, dev)
	if sb.Magic != magic {
		panic("fs.Init: bad superblock magic")
	}
	fs := &FS{Dev: dev, Sb: sb, cache: cache, disk: disk}
	spinlock.Init(&fs.icacheLock, "icache")
	spinlock.Init(&fs.balloc, "balloc")
	for i := range fs.icache {
		spinlock.Init(&fs.icache[i].lk, "inode")
		fs.icache[i].fs = fs
	}
	fs.Log = InitLog(table, cache, dev, int(sb.LogStart), int(sb.NLog))
	fs.bitmap = make([]bool, sb.NBlocks)
	fs.scanBitmapFromDisk()
	return fs
}

// scanBitmapFromDisk seeds the in-memory allocation bitmap from whatever
// the disk image already holds (mkfs may have pre-populated the root
// directory's blocks). Per SPEC_FULL.md's Design Notes substitution
// (spec §9 "Naive bitmap-by-zero-scan" explicitly permits backing the
// zero-scan semantics with a real bitmap for correctness/performance
// while preserving the count_free_blocks observation), a block is seeded
// as allocated if it is reachable from any non-free inode's address list;
// everything else starts free. A fresh mkfs image has no inodes besides
// the root directory, so this is a short walk.
func (fs *FS) scanBitmapFromDisk() {
	for inum := uint32(1); inum < fs.Sb.NInodes; inum++ {
		blockno, off := fs.inodeBlock(inum)
		b := fs.cache.Bread(fs.Dev, blockno)
		d := decodeDinode(b.Data[off : off+dinodeSize])
		fs.cache.Brelse(b)
		if d.Type == TypeFree {
			continue
		}
		for _, a := range d.Addrs[:config.NDIRECT] {
			fs.markAllocated(a)
		}
		if ind := d.Addrs[config.NDIRECT]; ind != 0 {
			fs.markAllocated(ind)
			ib := fs.cache.Bread(fs.Dev, int(ind))
			for i := 0; i < config.NINDIRECT; i++ {
				fs.markAllocated(le32(ib.Data[4*i:]))
			}
			fs.cache.Brelse(ib)
		}
	}
}

func (fs *FS) markAllocated(blockno uint32) {
	if blockno == 0 {
		return
	}
	idx := int(blockno) - int(fs.Sb.BmapStart) - 1
	if idx >= 0 && idx < len(fs.bitmap) {
		fs.bitmap[idx] = true
	}
}

// inodeBlock returns the block number and in-block byte offset of inum's
// on-disk record.
func (fs *FS) inodeBlock(inum uint32) (blockno int, off int) {
	perBlock := config.BSIZE / dinodeSize
	blockno = int(fs.Sb.InodeStart) + int(inum)/perBlock
	off = (int(inum) % perBlock) * dinodeSize
	return
}

// Balloc allocates a free data block, zeroing it, per spec §4.H's
// scan-for-free-block policy (backed here by the bitmap per the Design
// Notes substitution described on FS.scanBitmapFromDisk). Fatal (panic)
// if the disk is full, per spec §7's resource-exhaustion policy.
func (fs *FS) Balloc() uint32 {
	fs.balloc.Acquire()
	defer fs.balloc.Release()
	for i, used := range fs.bitmap {
		if !used {
			fs.bitmap[i] = true
			blockno := int(fs.Sb.BmapStart) + 1 + i
			b := fs.cache.Bread(fs.Dev, blockno)
			for j := range b.Data {
				b.Data[j] = 0
			}
			fs.cache.Bwrite(b)
			fs.cache.Brelse(b)
			return uint32(blockno)
		}
	}
	panic("fs.Balloc: disk full")
}

// Bfree returns a block to the free pool by clearing its bitmap bit. The
// block's contents are left as they are; Balloc zeroes a block when it
// hands it out again.
func (fs *FS) Bfree(blockno uint32) {
	if blockno == 0 {
		return
	}
	fs.balloc.Acquire()
	idx := int(blockno) - int(fs.Sb.BmapStart) - 1
	if idx < 0 || idx >= len(fs.bitmap) {
		fs.balloc.Release()
		panic("fs.Bfree: block number out of range")
	}
	fs.bitmap[idx] = false
	fs.balloc.Release()
}

// CountFreeBlocks is the observable free-block counter spec §6/§8 calls
// for.
func (fs *FS) CountFreeBlocks() int {
	fs.balloc.Acquire()
	defer fs.balloc.Release()
	n := 0
	for _, used := range fs.bitmap {
		if !used {
			n++
		}
	}
	return n
}

// CountFreeInodes is the matching observable for inodes.
func (fs *FS) CountFreeInodes() int {
	n := 0
	for inum := uint32(1); inum < fs.Sb.NInodes; inum++ {
		blockno, off := fs.inodeBlock(inum)
		b := fs.cache.Bread(fs.Dev, blockno)
		d := decodeDinode(b.Data[off : off+dinodeSize])
		fs.cache.Brelse(b)
		if d.Type == TypeFree {
			n++
		}
	}
	return n
}

// Ialloc finds an invalid (free) on-disk inode, initializes it, and
// returns a locked in-memory Inode for it, per spec §4.H ("linearly finds
// an invalid entry with inum >= 1").
func (fs *FS) Ialloc(dev int, typ int16) *Inode {
	for inum := uint32(1); inum < fs.Sb.NInodes; inum++ {
		blockno, off := fs.inodeBlock(inum)
		b := fs.cache.Bread(dev, blockno)
		d := decodeDinode(b.Data[off : off+dinodeSize])
		if d.Type == TypeFree {
			d = dinode{Type: typ, Nlink: 1}
			d.encode(b.Data[off : off+dinodeSize])
			fs.Log.LogWrite(b)
			fs.cache.Brelse(b)
			ip := fs.Iget(dev, inum)
			ip.Ilock()
			return ip
		}
		fs.cache.Brelse(b)
	}
	panic("fs.Ialloc: no free inodes")
}

// Iget returns the in-memory Inode for (dev, inum), from the fixed-size
// inode cache: a linear scan for a live match, else a free slot, per spec
// §3's "at most one buffer object per (dev,blockno) is live" analogue
// applied to inodes.
func (fs *FS) Iget(dev int, inum uint32) *Inode {
	fs.icacheLock.Acquire()
	defer fs.icacheLock.Release()
	var empty *Inode
	for i := range fs.icache {
		ip := &fs.icache[i]
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.ref++
			return ip
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}
	if empty == nil {
		panic("fs.Iget: no inode cache slots")
	}
	empty.Dev = dev
	empty.Inum = inum
	empty.ref = 1
	empty.valid = false
	return empty
}

// Bmap converts a logical block number within ip to a physical block
// number, allocating on demand, per spec §4.H. ip must be locked. Panics
// on an out-of-range logical block number (spec: "Out-of-space conditions
// are fatal").
func (ip *Inode) Bmap(bn uint32) uint32 {
	if bn < config.NDIRECT {
		if ip.Addrs[bn] == 0 {
			ip.Addrs[bn] = ip.fs.Balloc()
		}
		return ip.Addrs[bn]
	}
	bn -= config.NDIRECT
	if bn >= config.NINDIRECT {
		panic("fs.Bmap: logical block out of range")
	}
	if ip.Addrs[config.NDIRECT] == 0 {
		ip.Addrs[config.NDIRECT] = ip.fs.Balloc()
	}
	ib := ip.fs.cache.Bread(ip.Dev, int(ip.Addrs[config.NDIRECT]))
	addr := le32(ib.Data[4*bn:])
	if addr == 0 {
		addr = ip.fs.Balloc()
		putLE32(ib.Data[4*bn:], addr)
		ip.fs.Log.LogWrite(ib)
	}
	ip.fs.cache.Brelse(ib)
	return addr
}

// itrunc frees every block reachable from ip (direct, indirect, and the
// indirect block itself) and resets size to 0. ip must be locked.
func (ip *Inode) itrunc() {
	for i := 0; i < config.NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			ip.fs.Bfree(ip.Addrs[i])
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[config.NDIRECT] != 0 {
		ib := ip.fs.cache.Bread(ip.Dev, int(ip.Addrs[config.NDIRECT]))
		for i := 0; i < config.NINDIRECT; i++ {
			a := le32(ib.Data[4*i:])
			if a != 0 {
				ip.fs.Bfree(a)
			}
		}
		ip.fs.cache.Brelse(ib)
		ip.fs.Bfree(ip.Addrs[config.NDIRECT])
		ip.Addrs[config.NDIRECT] = 0
	}
	ip.Size = 0
}

// Readi reads up to n bytes starting at off into dst, per spec §4.H: offset
// past size returns 0; otherwise clamps to size and walks logical blocks,
// producing zero bytes for sparse (unallocated) holes. ip must be locked.
func (ip *Inode) Readi(dst []byte, off, n uint32) int {
	if off > ip.Size {
		return 0
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}
	total := uint32(0)
	for total < n {
		bn := (off + total) / config.BSIZE
		boff := (off + total) % config.BSIZE
		m := config.BSIZE - boff
		if m > n-total {
			m = n - total
		}
		direct := ip.directAddr(bn)
		if direct == 0 {
			for i := uint32(0); i < m; i++ {
				dst[total+i] = 0
			}
		} else {
			b := ip.fs.cache.Bread(ip.Dev, int(direct))
			copy(dst[total:total+m], b.Data[boff:boff+m])
			ip.fs.cache.Brelse(b)
		}
		total += m
	}
	return int(total)
}

// directAddr reads a logical block's physical address without allocating,
// returning 0 for a sparse hole (used by Readi, which must never allocate
// per spec §4.H: "if slot is zero, produce zero bytes").
func (ip *Inode) directAddr(bn uint32) uint32 {
	if bn < config.NDIRECT {
		return ip.Addrs[bn]
	}
	bn -= config.NDIRECT
	if bn >= config.NINDIRECT || ip.Addrs[config.NDIRECT] == 0 {
		return 0
	}
	ib := ip.fs.cache.Bread(ip.Dev, int(ip.Addrs[config.NDIRECT]))
	addr := le32(ib.Data[4*bn:])
	ip.fs.cache.Brelse(ib)
	return addr
}

// Writei writes n bytes from src at offset off, allocating blocks via Bmap
// as needed, updating Size, and logging every touched block through log,
// per spec §4.H. Offset must be <= Size (no gaps); returns -1 on an
// attempted append-past-hole. ip must be locked and the caller must be
// inside a transaction (BeginOp/EndOp).
func (ip *Inode) Writei(log *Log, src []byte, off, n uint32) int {
	if off > ip.Size {
		return -1
	}
	total := uint32(0)
	for total < n {
		bn := (off + total) / config.BSIZE
		boff := (off + total) % config.BSIZE
		m := config.BSIZE - boff
		if m > n-total {
			m = n - total
		}
		addr := ip.Bmap(bn)
		b := ip.fs.cache.Bread(ip.Dev, int(addr))
		copy(b.Data[boff:boff+m], src[total:total+m])
		log.LogWrite(b)
		ip.fs.cache.Brelse(b)
		total += m
	}
	if off+total > ip.Size {
		ip.Size = off + total
	}
	return int(total)
}

func chanOfInode(ip *Inode) uintptr { return uintptr(unsafe.Pointer(ip)) }
