package contentfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Options configures where a Writer puts its files and when it rotates
type Options struct {
	Dir     string
	Prefix  string
	Suffix  string
	MaxSize int64
}

// AppendResult describes where a record landed
type AppendResult struct {
	Path    string // file the record was written to
	Offset  int64  // offset of the record inside that file
	Size    int    // encoded record size
	Rotated bool   // a new file was opened for this record
}

// Writer appends records to <Dir>/<Prefix><index><Suffix>, opening the next
// index once a record would push the current file past MaxSize. A record is
// never split across files.
type Writer struct {
	mu    sync.Mutex
	opts  Options
	file  *os.File
	buf   *bufio.Writer
	path  string
	index int
	size  int64

	closed bool
	failed error // set when a rotation could not open the next file
}

// Open creates the directory if needed and opens the first unused index
func Open(opts Options) (*Writer, error) {
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("max file size must be greater than 0")
	}
	if err := os.MkdirAll(opts.Dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	index, err := NextIndex(opts.Dir, opts.Prefix, opts.Suffix)
	if err != nil {
		return nil, err
	}

	w := &Writer{opts: opts, index: index}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// Append encodes and writes one record, rotating first when required.
// The record is flushed to the file before Append returns.
func (w *Writer) Append(id uint64, body []byte) (AppendResult, error) {
	record := AppendRecord(make([]byte, 0, RecordSize(id, len(body))), id, body)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return AppendResult{}, ErrClosed
	}
	if w.failed != nil {
		return AppendResult{}, w.failed
	}

	rotated := false
	if w.size > 0 && w.size+int64(len(record)) > w.opts.MaxSize {
		if err := w.rotate(); err != nil {
			return AppendResult{}, err
		}
		rotated = true
	}

	offset := w.size
	n, err := w.buf.Write(record)
	w.size += int64(n)
	if err != nil {
		return AppendResult{}, fmt.Errorf("failed to write record %d: %w", id, err)
	}
	if err := w.buf.Flush(); err != nil {
		return AppendResult{}, fmt.Errorf("failed to flush record %d: %w", id, err)
	}

	return AppendResult{Path: w.path, Offset: offset, Size: len(record), Rotated: rotated}, nil
}

// Close terminates and closes the current file. It is safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeFile()
}

// Path returns the file currently being written
func (w *Writer) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Size returns the number of bytes in the current file
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Index returns the index of the current file
func (w *Writer) Index() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.index
}

func (w *Writer) fileName(index int) string {
	return filepath.Join(w.opts.Dir, w.opts.Prefix+strconv.Itoa(index)+w.opts.Suffix)
}

func (w *Writer) openFile() error {
	path := w.fileName(w.index)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to create content file %s: %w", path, err)
	}
	w.file = file
	w.buf = bufio.NewWriterSize(file, 64*1024)
	w.path = path
	w.size = 0
	return nil
}

func (w *Writer) closeFile() error {
	if w.file == nil {
		return nil
	}
	defer func() {
		w.file = nil
		w.buf = nil
	}()

	if err := w.buf.WriteByte(Terminator); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to write terminator to %s: %w", w.path, err)
	}
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to flush %s: %w", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", w.path, err)
	}
	return nil
}

func (w *Writer) rotate() error {
	if err := w.closeFile(); err != nil {
		w.failed = err
		return err
	}
	w.index++
	if err := w.openFile(); err != nil {
		w.failed = err
		return err
	}
	return nil
}

// NextIndex returns one past the highest index already present in dir for
// the given prefix and suffix, or 0 when there are none.
func NextIndex(dir, prefix, suffix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list content directory: %w", err)
	}
	next := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		digits := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
		index, err := strconv.Atoi(digits)
		if err != nil || index < 0 {
			continue
		}
		if index >= next {
			next = index + 1
		}
	}
	return next, nil
}

var _ io.Closer = (*Writer)(nil)
