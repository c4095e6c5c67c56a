// Package slab implements a log-structured record store: an append-only
// sequence of numbered files ("slabs") under one
// directory, addressed by a single logical offset space shared across all
// slabs, with crash recovery by scanning backward for the last well-formed
// root record and prefix truncation once a generation of data is no longer
// reachable.
package slab

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/aggregatedb/abtree/log"
	"github.com/gofrs/flock"
	"github.com/google/btree"
	"github.com/multiformats/go-varint"
	rmetrics "github.com/rcrowley/go-metrics"
)

// DefaultGoalSlabSize is the approximate physical size at which the
// store rolls over to a new slab file.
const DefaultGoalSlabSize int64 = 10 * 1024 * 1024

// Options configures a Store.
type Options struct {
	// GoalSlabSize is the approximate size at which a slab is closed and
	// a new one opened. Zero selects DefaultGoalSlabSize.
	GoalSlabSize int64
}

type slabEntry struct {
	num   int
	start uint64
	path  string
	f     *os.File
	size  int64 // bytes appended so far (== physical file size)
}

// Store is one directory of append-only slab files plus the bookkeeping
// needed to translate a logical offset into a (file, local offset) pair.
type Store struct {
	mu   sync.Mutex
	dir  string
	lock *flock.Flock
	opts Options

	slabs   *btree.BTreeG[*slabEntry] // ordered by start
	byNum   map[int]*slabEntry
	current *slabEntry
	nextNum int

	rootOffset uint64
	haveRoot   bool

	log *log.Logger
	m   *storeMetrics
}

type storeMetrics struct {
	nodeWrites  rmetrics.Counter
	rootWrites  rmetrics.Counter
	reads       rmetrics.Counter
	slabsOpened rmetrics.Counter
	slabsDrop   rmetrics.Counter
}

func newStoreMetrics() *storeMetrics {
	return &storeMetrics{
		nodeWrites:  rmetrics.NewCounter(),
		rootWrites:  rmetrics.NewCounter(),
		reads:       rmetrics.NewCounter(),
		slabsOpened: rmetrics.NewCounter(),
		slabsDrop:   rmetrics.NewCounter(),
	}
}

var slabFileRE = regexp.MustCompile(`^data_(\d+)$`)

func slabLess(a, b *slabEntry) bool { return a.start < b.start }

// Open opens (or creates) a slab store rooted at dir. If dir is absent and
// create is false, Open fails with ErrDirMissing. On success, the store's
// root pointer (if any) is recovered by scanning backward from the
// highest-numbered slab for the last well-formed 'R' record.
func Open(dir string, create bool, opts Options) (*Store, error) {
	if opts.GoalSlabSize <= 0 {
		opts.GoalSlabSize = DefaultGoalSlabSize
	}
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("slab: %s is not a directory", dir)
	case os.IsNotExist(err):
		if !create {
			return nil, ErrDirMissing
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	fl := flock.New(filepath.Join(dir, "LOCK"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}

	s := &Store{
		dir:   dir,
		lock:  fl,
		opts:  opts,
		slabs: btree.NewG(8, slabLess),
		byNum: make(map[int]*slabEntry),
		log:   log.Root.With("slab"),
		m:     newStoreMetrics(),
	}
	if err := s.scanDir(); err != nil {
		fl.Unlock()
		return nil, err
	}
	if err := s.recoverRoot(); err != nil {
		fl.Unlock()
		return nil, err
	}
	return s, nil
}

// scanDir discovers every data_N file, reads its 'S' header to learn its
// start offset, and records its physical size, without scanning the full
// contents of any slab older than the most recent one.
func (s *Store) scanDir() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := slabFileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, n := range nums {
		path := filepath.Join(s.dir, fmt.Sprintf("data_%d", n))
		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return err
		}
		start, err := readSlabHeader(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("%s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		entry := &slabEntry{num: n, start: start, path: path, f: f, size: info.Size()}
		s.byNum[n] = entry
		s.slabs.ReplaceOrInsert(entry)
		if n >= s.nextNum {
			s.nextNum = n + 1
		}
	}
	if len(nums) > 0 {
		s.current = s.byNum[nums[len(nums)-1]]
	}
	return nil
}

func readSlabHeader(f *os.File) (uint64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	tag, payload, _, err := readRecord(f)
	if err != nil {
		return 0, err
	}
	if tag != TagSlabHeader {
		return 0, ErrInvalidHeader
	}
	start, err := decodeUint64(payload)
	if err != nil {
		return 0, ErrInvalidHeader
	}
	return start, nil
}

// recoverRoot walks slabs from highest-numbered backward, scanning each one
// forward for the last 'R' record, stopping at the first slab that has one.
// A record cut short inside a slab (ErrShortRead) or an unknown tag fails
// recovery with that error. If the well-formed records of a scanned slab
// end before its recorded size, the file is truncated to that length.
func (s *Store) recoverRoot() error {
	var nums []int
	for n := range s.byNum {
		nums = append(nums, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(nums)))
	for _, n := range nums {
		entry := s.byNum[n]
		lastRoot, lastLen, found, err := scanForLastRoot(entry)
		if err != nil {
			return err
		}
		if lastLen != entry.size {
			s.log.Warn("truncating torn tail record", "slab", entry.path, "from", entry.size, "to", lastLen)
			if err := entry.f.Truncate(lastLen); err != nil {
				return err
			}
			entry.size = lastLen
		}
		if found {
			s.rootOffset = lastRoot
			s.haveRoot = true
			return nil
		}
	}
	return nil
}

// scanForLastRoot scans entry's file forward from its header, returning the
// logical offset of the last well-formed 'R' record (if any) and the byte
// offset at which the stream of well-formed records ends. The scan stops
// without error only at a clean end of file; a record cut short (wrapped in
// ErrShortRead) or a bad tag is returned as an error.
func scanForLastRoot(entry *slabEntry) (lastRootOffset uint64, goodLen int64, found bool, err error) {
	if _, err = entry.f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, false, err
	}
	var pos int64
	for {
		tag, _, n, rerr := readRecord(entry.f)
		if rerr != nil {
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				return lastRootOffset, pos, found, nil
			}
			return lastRootOffset, pos, found, rerr
		}
		if tag == TagRoot {
			lastRootOffset = entry.start + uint64(pos)
			found = true
		}
		pos += n
	}
}

// ensureCurrentLocked makes sure s.current is a writable slab with room for
// at least one more record, opening a fresh data_N file (with its 'S'
// header) if there is none yet or the existing one has reached its goal
// size.
func (s *Store) ensureCurrentLocked() error {
	if s.current != nil && s.current.size < s.opts.GoalSlabSize {
		return nil
	}
	num := s.nextNum
	s.nextNum++
	path := filepath.Join(s.dir, fmt.Sprintf("data_%d", num))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	start := uint64(0)
	if s.current != nil {
		start = s.current.start + uint64(s.current.size)
	}
	n, err := writeRecord(f, TagSlabHeader, encodeUint64(start))
	if err != nil {
		f.Close()
		return err
	}
	entry := &slabEntry{num: num, start: start, path: path, f: f, size: n}
	s.byNum[num] = entry
	s.slabs.ReplaceOrInsert(entry)
	s.current = entry
	s.m.slabsOpened.Inc(1)
	s.log.Debug("opened slab", "num", num, "start", start)
	return nil
}

// WriteNode appends an opaque 'N' record and returns its logical offset.
func (s *Store) WriteNode(payload []byte) (uint64, error) {
	return s.writeRecordLocked(TagNode, payload, s.m.nodeWrites)
}

// WriteRoot appends an opaque 'R' record and remembers its logical offset
// as the store's current root pointer.
func (s *Store) WriteRoot(payload []byte) (uint64, error) {
	off, err := s.writeRecordLocked(TagRoot, payload, s.m.rootWrites)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.rootOffset = off
	s.haveRoot = true
	s.mu.Unlock()
	return off, nil
}

func (s *Store) writeRecordLocked(tag byte, payload []byte, counter rmetrics.Counter) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureCurrentLocked(); err != nil {
		return 0, err
	}
	if _, err := s.current.f.Seek(s.current.size, io.SeekStart); err != nil {
		return 0, err
	}
	off := s.current.start + uint64(s.current.size)
	n, err := writeRecord(s.current.f, tag, payload)
	if err != nil {
		return 0, err
	}
	s.current.size += n
	counter.Inc(1)
	return off, nil
}

// RootOffset returns the logical offset of the last written 'R' record, and
// whether any root has ever been written (an empty store has none).
func (s *Store) RootOffset() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootOffset, s.haveRoot
}

// ReadAt reads the record at logical offset off and validates that its tag
// matches expectTag.
func (s *Store) ReadAt(off uint64, expectTag byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.findSlabLocked(off)
	if entry == nil {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchOffset, off)
	}
	local := int64(off - entry.start)
	if _, err := entry.f.Seek(local, io.SeekStart); err != nil {
		return nil, err
	}
	tag, payload, _, err := readRecord(entry.f)
	if err != nil {
		return nil, err
	}
	if tag != expectTag {
		return nil, fmt.Errorf("%w: want 0x%x got 0x%x at %d", ErrTagMismatch, expectTag, tag, off)
	}
	s.m.reads.Inc(1)
	return payload, nil
}

// findSlabLocked returns the slab with the largest start <= off, or nil.
func (s *Store) findSlabLocked(off uint64) *slabEntry {
	var found *slabEntry
	s.slabs.DescendLessOrEqual(&slabEntry{start: off}, func(e *slabEntry) bool {
		found = e
		return false
	})
	return found
}

// ClearBefore removes every slab strictly older than the slab containing
// lo: every slab whose logical range ends at or before the start of lo's
// slab. The slab currently holding lo is never removed.
func (s *Store) ClearBefore(lo uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.findSlabLocked(lo)
	if target == nil {
		return nil
	}
	var drop []*slabEntry
	s.slabs.Ascend(func(e *slabEntry) bool {
		if e.start < target.start {
			drop = append(drop, e)
		}
		return true
	})
	for _, e := range drop {
		e.f.Close()
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		s.slabs.Delete(e)
		delete(s.byNum, e.num)
		s.m.slabsDrop.Inc(1)
	}
	if len(drop) > 0 {
		s.log.Debug("truncated slabs", "count", len(drop), "before", target.start)
	}
	return nil
}

// SlabCount returns the number of live slab files (used by tests and the
// compaction-liveness property: compaction must eventually shrink this).
func (s *Store) SlabCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slabs.Len()
}

// Close releases the directory lock and closes every open slab file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	s.slabs.Ascend(func(e *slabEntry) bool {
		if err := e.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	if err := s.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func encodeUint64(v uint64) []byte {
	return varint.ToUvarint(v)
}

func decodeUint64(buf []byte) (uint64, error) {
	return varint.ReadUvarint(bytes.NewReader(buf))
}
