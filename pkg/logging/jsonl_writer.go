package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/platformatic/traffic-interceptor/internal/errx"
)

// Event logs can carry labels and URL paths; keep them owner-readable.
const jsonlFileMode = 0600

// JSONLWriter appends structured events to a file, one JSON object per
// line. Writes go through a buffer that is flushed per event, so a
// crash loses at most the event being written. An optional size limit
// rotates the file by renaming it to "<path>.1" (replacing any previous
// rotation) and starting fresh.
//
// It implements Sink and is safe for concurrent use.
type JSONLWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	buf      *bufio.Writer
	size     int64
	maxBytes int64 // 0 disables rotation
}

// NewJSONLWriter opens (or creates) an append-only event log at path.
// The parent directory must already exist.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	return NewRotatingJSONLWriter(path, 0)
}

// NewRotatingJSONLWriter is NewJSONLWriter with a size cap: once an
// event would push the file past maxBytes, the current file is rotated
// out first. A maxBytes of 0 never rotates.
func NewRotatingJSONLWriter(path string, maxBytes int64) (*JSONLWriter, error) {
	w := &JSONLWriter{path: path, maxBytes: maxBytes}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *JSONLWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, jsonlFileMode)
	if err != nil {
		return errx.Wrap(ErrCreateLogFile, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errx.Wrap(ErrCreateLogFile, err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.size = info.Size()
	return nil
}

// Write appends one event as a single JSON line.
func (w *JSONLWriter) Write(event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(line)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	if _, err := w.buf.Write(line); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	if err := w.buf.Flush(); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	w.size += int64(len(line))
	return nil
}

// rotate moves the current file aside as "<path>.1" and reopens a fresh
// one. Called with the lock held.
func (w *JSONLWriter) rotate() error {
	if err := w.buf.Flush(); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	if err := w.file.Close(); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	if err := os.Rename(w.path, w.path+".1"); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return w.open()
}

// Close flushes, syncs and closes the underlying file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	_ = w.file.Sync()
	if err := w.file.Close(); err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}
