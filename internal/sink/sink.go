// Package sink provides the file-backed byte targets transfers write into.
package sink

import (
	"fmt"
	"os"
	"sync"

	"github.com/italolelis/secure_downloader/internal/scr"
)

const filePerm = 0o644

// Sink is a byte target with a single owner. Close releases it exactly once;
// later calls return the result of the first.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
	Path() string
	Written() int64
}

// File is a Sink over a file on disk.
type File struct {
	f       *os.File
	path    string
	written int64

	closeOnce sync.Once
	closeErr  error
}

// OpenAppend opens path for appending, creating it when missing. Existing
// content is never truncated.
func OpenAppend(path string) (*File, error) {
	return open(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
}

// Create opens path for writing, truncating any existing content.
func Create(path string) (*File, error) {
	return open(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
}

func open(path string, flag int) (*File, error) {
	f, err := os.OpenFile(path, flag, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return &File{f: f, path: path}, nil
}

func (s *File) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.written += int64(n)

	return n, err
}

func (s *File) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.f.Close()
	})

	return s.closeErr
}

// Path returns the file path backing the sink.
func (s *File) Path() string { return s.path }

// Written returns the number of bytes written through this sink.
func (s *File) Written() int64 { return s.written }

type decrypting struct {
	Sink
	w *scr.Writer

	closeOnce sync.Once
	closeErr  error
}

// Decrypting wraps s so that ciphertext written to the result lands in s as
// plaintext. offset is the ciphertext position of the first written byte.
// Closing the result checks the content tag and closes s.
func Decrypting(s Sink, ref *scr.Reference, offset int64) (Sink, error) {
	w, err := ref.NewWriter(s, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to create decrypting sink: %w", err)
	}

	return &decrypting{Sink: s, w: w}, nil
}

func (d *decrypting) Write(p []byte) (int, error) {
	return d.w.Write(p)
}

func (d *decrypting) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.w.Close()
	})

	return d.closeErr
}
