package fs

import (
	"rvos/config"
	"rvos/proc"
)

// direntNameLen mirrors config.DIRSIZ; direntSize is the fixed record
// size of one directory entry: a 2-byte inode number plus a DIRSIZ-byte
// name field, matching the classic xv6-lineage layout
// original_source's lab4/kernel/fs.c uses (struct dirent{ushort inum;
// char name[DIRSIZ];}), per spec §3 ("Fixed-size record of (inum, name
// padded to DIRSIZ). An entry with inum=0 is free.").
const direntNameLen = config.DIRSIZ
const direntSize = 2 + direntNameLen

func encodeDirent(inum uint16, name string) [direntSize]byte {
	var b [direntSize]byte
	putLE16(b[0:2], inum)
	copy(b[2:], name)
	return b
}

func decodeDirent(b []byte) (inum uint16, name string) {
	inum = le16(b[0:2])
	end := 2
	for end < len(b) && b[end] != 0 {
		end++
	}
	name = string(b[2:end])
	return
}

// Dirlookup scans dp's directory entries linearly for name, returning the
// matching Inode (with its reference incremented) and the byte offset of
// its entry, or (nil, 0) if absent. dp must be locked and be a directory.
func (fs *FS) Dirlookup(dp *Inode, name string) (*Inode, uint32) {
	if dp.Type != TypeDir {
		panic("fs.Dirlookup: not a directory")
	}
	var buf [direntSize]byte
	for off := uint32(0); off < dp.Size; off += direntSize {
		if dp.Readi(buf[:], off, direntSize) != direntSize {
			panic("fs.Dirlookup: short directory read")
		}
		inum, entryName := decodeDirent(buf[:])
		if inum == 0 {
			continue
		}
		if entryName == name {
			return fs.Iget(dp.Dev, uint32(inum)), off
		}
	}
	return nil, 0
}

// Dirlink appends a (name -> inum) entry to directory dp, reusing a free
// (inum==0) slot if one exists. Rejects a duplicate name, per spec §4.H.
// dp must be locked and the caller inside a transaction (p is needed only
// to release the reference Dirlookup's duplicate check acquires).
func (fs *FS) Dirlink(p *proc.Proc, log *Log, dp *Inode, name string, inum uint32) Errno {
	if existing, _ := fs.Dirlookup(dp, name); existing != nil {
		existing.Iput(p)
		return ErrExist
	}
	if len(name) > direntNameLen {
		return ErrInval
	}

	var buf [direntSize]byte
	var off uint32
	for off = 0; off < dp.Size; off += direntSize {
		if dp.Readi(buf[:], off, direntSize) != direntSize {
			panic("fs.Dirlink: short directory read")
		}
		if inum16, _ := decodeDirent(buf[:]); inum16 == 0 {
			break
		}
	}
	entry := encodeDirent(uint16(inum), name)
	if dp.Writei(log, entry[:], off, direntSize) != direntSize {
		return ErrNoSpace
	}
	return ErrNone
}
