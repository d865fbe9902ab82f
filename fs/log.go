package fs

import (
	"unsafe"

	"rvos/bio"
	"rvos/proc"
	"rvos/spinlock"
)

// The largest number of distinct blocks a single transaction may register
// (spec §3's MAXLOG) is Log.maxlog(): one slot of the log region is the
// header itself, so it is NLog-1.
//
// Log is the in-memory redo-log state, per spec §3/§4.H: start, size,
// outstanding operations, a committing flag, and the array of registered
// buffers. Grounded on original_source's lab8/kernel/log.c commit
// protocol (write log blocks, write header, install, clear header). The
// log region holds only the header block and plain payload blocks; lab8's
// revoke-block typing is not carried over (SPEC_FULL.md §C).
type Log struct {
	lk spinlock.Lock

	cache *bio.Cache
	dev   int
	table *proc.Table // for Wakeup only; nil during offline mkfs formatting

	start int // LogStart: the header block
	size  int // NLog: header + payload blocks

	outstanding int
	committing  bool

	// bufs holds the buffers registered this transaction, deduplicated by
	// blockno (spec §4.H: "log_write ... deduplicates by blockno").
	bufs []*bio.Buf
}

func (l *Log) maxlog() int { return l.size - 1 }

func chanOfLog(l *Log) uintptr { return uintptr(unsafe.Pointer(l)) }

// header block layout: count (4 bytes) followed by up to maxlog() block
// numbers (4 bytes each).
func (l *Log) readHeader() (count int, blocks []int) {
	b := l.cache.Bread(l.dev, l.start)
	defer l.cache.Brelse(b)
	n := int(le32(b.Data[0:4]))
	blocks = make([]int, n)
	for i := 0; i < n; i++ {
		blocks[i] = int(le32(b.Data[4+4*i:]))
	}
	return n, blocks
}

func (l *Log) writeHeader() {
	b := l.cache.Bread(l.dev, l.start)
	defer l.cache.Brelse(b)
	putLE32(b.Data[0:4], uint32(len(l.bufs)))
	for i, buf := range l.bufs {
		putLE32(b.Data[4+4*i:], uint32(buf.Blockno))
	}
	l.cache.Bwrite(b)
}

func (l *Log) clearHeader() {
	b := l.cache.Bread(l.dev, l.start)
	defer l.cache.Brelse(b)
	putLE32(b.Data[0:4], 0)
	l.cache.Bwrite(b)
}

// InitLog constructs the in-memory Log over [start, start+size) and
// performs crash recovery, per spec §4.H ("Crash recovery at log_init
// reads the header and reinstalls if n > 0"). table is nil during offline
// mkfs formatting, before any process table exists; BeginOp/EndOp never
// reach the Sleep/Wakeup paths in that mode since there is never
// contention on a single-threaded format.
func InitLog(table *proc.Table, cache *bio.Cache, dev, start, size int) *Log {
	l := &Log{table: table, cache: cache, dev: dev, start: start, size: size}
	spinlock.Init(&l.lk, "log")
	n, blocks := l.readHeader()
	if n > 0 {
		for i, home := range blocks {
			lb := cache.Bread(dev, start+1+i)
			hb := cache.Bread(dev, home)
			hb.Data = lb.Data
			cache.Bwrite(hb)
			cache.Brelse(hb)
			cache.Brelse(lb)
		}
		l.clearHeader()
	}
	return l
}

// BeginOp enters a transaction, sleeping while a commit is in progress or
// while admitting this operation could overflow the log, per spec §4.H.
// killed reports whether p's kill flag was observed while waiting. p may
// be nil only when no contention is possible (offline mkfs formatting).
func (l *Log) BeginOp(p *proc.Proc) (killed bool) {
	l.lk.Acquire()
	for {
		if l.committing || len(l.bufs)+1 > l.maxlog() {
			if k := p.Sleep(chanOfLog(l), &l.lk); k {
				l.lk.Release()
				return true
			}
			continue
		}
		l.outstanding++
		l.lk.Release()
		return false
	}
}

func (l *Log) wakeup() {
	if l.table != nil {
		l.table.Wakeup(chanOfLog(l))
	}
}

// LogWrite registers b for inclusion in the current transaction's commit,
// deduplicating by block number. A newly registered buffer is pinned (it
// keeps an extra cache reference until EndOp's commit has installed it),
// so the caller may Brelse it right away. Fatal if called while a commit
// is in progress or if the transaction already holds maxlog() distinct
// blocks, per spec §4.H.
func (l *Log) LogWrite(b *bio.Buf) {
	l.lk.Acquire()
	defer l.lk.Release()
	if l.committing {
		panic("fs.LogWrite: called during commit")
	}
	for _, existing := range l.bufs {
		if existing == b || existing.Blockno == b.Blockno {
			return
		}
	}
	if len(l.bufs) >= l.maxlog() {
		panic("fs.LogWrite: too many blocks in one transaction")
	}
	l.cache.Bread(b.Dev, b.Blockno) // pin: hits b itself and takes a reference
	l.bufs = append(l.bufs, b)
}

// EndOp leaves a transaction. The last outstanding operation commits: log
// blocks, header, install, clear header, wake waiters, per spec §4.H.
func (l *Log) EndOp(p *proc.Proc) {
	l.lk.Acquire()
	l.outstanding--
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		l.wakeup() // a slot just freed; wake anyone waiting to begin a new op
	}
	l.lk.Release()

	if doCommit {
		l.commit()
		l.lk.Acquire()
		l.committing = false
		for _, b := range l.bufs {
			l.cache.Brelse(b) // drop LogWrite's pin
		}
		l.bufs = l.bufs[:0]
		l.lk.Release()
		l.wakeup()
	}
}

func (l *Log) commit() {
	if len(l.bufs) == 0 {
		return
	}
	for i, b := range l.bufs {
		lb := l.cache.Bread(l.dev, l.start+1+i)
		lb.Data = b.Data
		l.cache.Bwrite(lb)
		l.cache.Brelse(lb)
	}
	l.writeHeader()
	for i, b := range l.bufs {
		lb := l.cache.Bread(l.dev, l.start+1+i)
		hb := l.cache.Bread(l.dev, b.Blockno)
		hb.Data = lb.Data
		l.cache.Bwrite(hb)
		l.cache.Brelse(hb)
		l.cache.Brelse(lb)
	}
	l.clearHeader()
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
