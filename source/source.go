// Package source provides the byte sources the demuxers read from.
//
// A MediaSource does no buffering of its own; readers wrap it in a bounded
// buffer sized for their access pattern.
package source

import (
	"bytes"
	"io"
	"os"

	"github.com/mattetti/mead/media"
)

type MediaSource interface {
	io.Reader
	// Seek fails with media.ErrUnsupported when Seekable is false.
	io.Seeker
	Seekable() bool
	// Len returns the total length in bytes if known.
	Len() (uint64, bool)
}

// File is a seekable source of known length backed by an *os.File.
type File struct {
	f    *os.File
	size uint64
}

// Open opens path for reading.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, media.IOError("open", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, media.IOError("stat", err)
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, media.Unsupported("open", "not a regular file: "+path)
	}
	return &File{f: f, size: uint64(fi.Size())}, nil
}

func (s *File) Read(p []byte) (int, error) { return s.f.Read(p) }

func (s *File) Seek(offset int64, whence int) (int64, error) { return s.f.Seek(offset, whence) }

func (s *File) Seekable() bool { return true }

func (s *File) Len() (uint64, bool) { return s.size, true }

func (s *File) Name() string { return s.f.Name() }

func (s *File) Close() error { return s.f.Close() }

// Bytes is an in-memory seekable source.
type Bytes struct {
	*bytes.Reader
}

func NewBytes(b []byte) *Bytes { return &Bytes{Reader: bytes.NewReader(b)} }

func (s *Bytes) Seekable() bool { return true }

func (s *Bytes) Len() (uint64, bool) { return uint64(s.Size()), true }

// Pipe is a forward-only source of unknown length, such as stdin.
type Pipe struct {
	r io.Reader
}

func NewPipe(r io.Reader) *Pipe { return &Pipe{r: r} }

func (s *Pipe) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *Pipe) Seek(int64, int) (int64, error) {
	return 0, media.Unsupported("seek", "source is not seekable")
}

func (s *Pipe) Seekable() bool { return false }

func (s *Pipe) Len() (uint64, bool) { return 0, false }
