package fs

import (
	"strings"

	"rvos/proc"
)

const rootInum = 1

// RootInode returns a fresh reference to the filesystem's root directory
// inode (inum 1 by convention, laid down by mkfs).
func (fs *FS) RootInode() *Inode {
	return fs.Iget(fs.Dev, rootInum)
}

// splitPath splits an absolute path into components, consuming up to
// DIRSIZ bytes per component (spec §4.H: "consume up to DIRSIZ bytes per
// component"); components are dropped empty (consecutive slashes collapse,
// as in every xv6-lineage namei).
func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	comps := make([]string, 0, len(raw))
	for _, c := range raw {
		if c == "" {
			continue
		}
		if len(c) > direntNameLen {
			c = c[:direntNameLen]
		}
		comps = append(comps, c)
	}
	return comps
}

// Namei resolves an absolute path to its inode, per spec §4.H: "Only
// absolute paths ... descend via dirlookup. Returns the located inode with
// refcount incremented, or 0 [nil]." p is needed to release intermediate
// directory references held only transiently during the walk.
func (fs *FS) Namei(p *proc.Proc, path string) *Inode {
	ip, _, _ := fs.namex(p, path, false)
	return ip
}

// NameiParent resolves path's parent directory, returning it unlocked with
// a reference held (caller must Iput) along with the final path component, for callers
// that need to create or unlink an entry in that directory (mkdir,
// create, unlink). Returns nil if any but the last component is missing.
func (fs *FS) NameiParent(p *proc.Proc, path string) (dir *Inode, name string) {
	_, dir, name = fs.namex(p, path, true)
	return
}

func (fs *FS) namex(p *proc.Proc, path string, wantParent bool) (leaf, parent *Inode, lastName string) {
	if !strings.HasPrefix(path, "/") {
		return nil, nil, ""
	}
	comps := splitPath(path)
	if len(comps) == 0 {
		if wantParent {
			return nil, nil, ""
		}
		return fs.RootInode(), nil, ""
	}

	ip := fs.RootInode()
	for i, comp := range comps {
		last := i == len(comps)-1
		if wantParent && last {
			return nil, ip, comp
		}
		ip.Ilock()
		if ip.Type != TypeDir {
			ip.Iunlock()
			ip.Iput(p)
			return nil, nil, ""
		}
		next, _ := fs.Dirlookup(ip, comp)
		ip.Iunlock()
		if next == nil {
			ip.Iput(p)
			return nil, nil, ""
		}
		ip.Iput(p)
		ip = next
	}
	return ip, nil, ""
}

// Create resolves path's parent directory, allocates a new inode of type
// typ, links it into the parent under the final component, and returns it
// locked. If the name is already taken and both it and typ are regular
// files, the existing file is returned locked instead; any other existing
// entry fails with ErrExist, per spec §4.H's dirlink. Runs inside its own
// transaction.
func (fs *FS) Create(p *proc.Proc, path string, typ int16) (*Inode, Errno) {
	killed := fs.Log.BeginOp(p)
	if killed {
		return nil, ErrInval
	}
	defer fs.Log.EndOp(p)

	dp, _, name := fs.namex(p, path, true)
	if dp == nil {
		return nil, ErrNoEnt
	}
	dp.Ilock()
	if existing, _ := fs.Dirlookup(dp, name); existing != nil {
		dp.Iunlock()
		dp.Iput(p)
		existing.Ilock()
		if typ == TypeFile && existing.Type == TypeFile {
			return existing, ErrNone
		}
		existing.Iunlock()
		existing.Iput(p)
		return nil, ErrExist
	}

	ip := fs.Ialloc(fs.Dev, typ)
	if typ == TypeDir {
		ip.Nlink = 2 // itself, plus its own "." entry
	} else {
		ip.Nlink = 1
	}
	ip.Iupdate(fs.Log)

	if errno := fs.Dirlink(p, fs.Log, dp, name, ip.Inum); errno != ErrNone {
		ip.Nlink = 0
		ip.Iupdate(fs.Log)
		ip.Iunlock()
		ip.Iput(p)
		dp.Iunlock()
		dp.Iput(p)
		return nil, errno
	}

	if typ == TypeDir {
		fs.Dirlink(p, fs.Log, ip, ".", ip.Inum)
		fs.Dirlink(p, fs.Log, ip, "..", dp.Inum)
		dp.Nlink++
		dp.Iupdate(fs.Log)
	}

	dp.Iunlock()
	dp.Iput(p)
	return ip, ErrNone
}
