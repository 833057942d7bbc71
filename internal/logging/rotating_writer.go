package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFileWriter appends to a log file and rolls it over once it would
// grow past maxSize bytes. Rolled files are kept as name.1.ext (newest)
// through name.<maxBackups>.ext; older ones are removed.
type RotatingFileWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64
	maxBackups int
	size       int64
}

// NewRotatingFileWriter opens filePath for appending. A maxSize of zero or
// less disables rotation.
func NewRotatingFileWriter(filePath string, maxSize int64, maxBackups int) (*RotatingFileWriter, error) {
	if maxBackups < 0 {
		maxBackups = 0
	}
	w := &RotatingFileWriter{
		filePath:   filePath,
		maxSize:    maxSize,
		maxBackups: maxBackups,
	}

	if err := w.openFile(); err != nil {
		return nil, err
	}
	info, err := w.file.Stat()
	if err != nil {
		_ = w.file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}
	w.size = info.Size()
	return w, nil
}

// Write implements io.Writer. A record larger than maxSize is written whole
// into a fresh file rather than split.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.maxSize > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file. Later writes fail with os.ErrClosed.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingFileWriter) openFile() error {
	file, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	w.file = file
	return nil
}

// rotate shifts the backups up by one and starts an empty log file
func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	if w.maxBackups == 0 {
		if err := os.Remove(w.filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove log file: %w", err)
		}
	} else {
		if err := os.Remove(w.backupName(w.maxBackups)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove oldest log backup: %w", err)
		}
		for i := w.maxBackups - 1; i > 0; i-- {
			if err := os.Rename(w.backupName(i), w.backupName(i+1)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to shift log backup: %w", err)
			}
		}
		if err := os.Rename(w.filePath, w.backupName(1)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to roll log file: %w", err)
		}
	}

	if err := w.openFile(); err != nil {
		return err
	}
	w.size = 0
	return nil
}

// backupName returns the path of the index-th backup, e.g. app.2.log
func (w *RotatingFileWriter) backupName(index int) string {
	ext := filepath.Ext(w.filePath)
	base := w.filePath[:len(w.filePath)-len(ext)]
	return fmt.Sprintf("%s.%d%s", base, index, ext)
}

var _ io.WriteCloser = (*RotatingFileWriter)(nil)
