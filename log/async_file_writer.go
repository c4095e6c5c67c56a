package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AsyncFileWriter decouples logging callers from file I/O: Write enqueues a
// line and returns once it is queued, a background goroutine drains the
// queue to disk, and the file is rotated either when it crosses maxSizeMB
// or when the wall clock crosses the next hour boundary that is a multiple
// of rotateDeltaHours. It is an io.Writer, so it can serve as a Logger's
// output.
type AsyncFileWriter struct {
	path           string
	maxSizeBytes   int64
	rotateDelta    uint
	queue          chan []byte
	done           chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	file           *os.File
	size           int64
	nextRotationAt time.Time
}

// NewAsyncFileWriter creates a writer for path, rotating when the file
// exceeds maxSizeMB megabytes or at the next hour boundary that is a
// multiple of rotateDeltaHours, whichever comes first. queueSize bounds the
// number of pending lines buffered in memory before Write blocks.
func NewAsyncFileWriter(path string, maxSizeMB int, rotateDeltaHours uint, queueSize int) *AsyncFileWriter {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &AsyncFileWriter{
		path:         path,
		maxSizeBytes: int64(maxSizeMB) * 1024 * 1024,
		rotateDelta:  rotateDeltaHours,
		queue:        make(chan []byte, queueSize),
		done:         make(chan struct{}),
	}
}

// Start opens (or creates) the backing file and launches the drain loop.
func (w *AsyncFileWriter) Start() error {
	if err := w.openLocked(); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Write enqueues b for asynchronous append. It does no disk I/O itself, but
// blocks while the queue is full until the drain loop makes room.
func (w *AsyncFileWriter) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case w.queue <- cp:
	case <-w.done:
		return 0, fmt.Errorf("async file writer stopped")
	}
	return len(b), nil
}

// Stop drains the queue and closes the file.
func (w *AsyncFileWriter) Stop() {
	close(w.done)
	w.wg.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

func (w *AsyncFileWriter) loop() {
	defer w.wg.Done()
	for {
		select {
		case b := <-w.queue:
			w.append(b)
		case <-w.done:
			for {
				select {
				case b := <-w.queue:
					w.append(b)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncFileWriter) append(b []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	if w.size+int64(len(b)) > w.maxSizeBytes || time.Now().After(w.nextRotationAt) {
		w.rotateLocked()
	}
	n, err := w.file.Write(b)
	if err == nil {
		w.size += int64(n)
	}
}

func (w *AsyncFileWriter) openLocked() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.size = info.Size()
	w.nextRotationAt = nextRotationTime(time.Now(), w.rotateDelta)
	return nil
}

func (w *AsyncFileWriter) rotateLocked() {
	if w.file != nil {
		w.file.Close()
	}
	ts := time.Now().Format("20060102T150405")
	dir, base := filepath.Split(w.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	rotated := filepath.Join(dir, fmt.Sprintf("%s.%s%s", stem, ts, ext))
	os.Rename(w.path, rotated)
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.file = nil
		return
	}
	w.file = f
	w.size = 0
	w.nextRotationAt = nextRotationTime(time.Now(), w.rotateDelta)
}

// nextRotationHour returns the smallest hour (0-23) strictly greater than
// now's hour that is a multiple of delta, wrapping to 0 if the day has no
// such hour left.
func nextRotationHour(now time.Time, delta uint) int {
	if delta == 0 {
		delta = 24
	}
	h := now.Hour()
	for cand := 0; cand < 24; cand += int(delta) {
		if cand > h {
			return cand
		}
	}
	return 0
}

func nextRotationTime(now time.Time, delta uint) time.Time {
	hour := nextRotationHour(now, delta)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
