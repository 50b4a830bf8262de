package ivf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/mattetti/mead/media"
)

// CountMode says how the header frame count is settled.
type CountMode int

const (
	// CountDeclared writes Header.FrameCount up front; Finalize fails if a
	// different number of packets was written.
	CountDeclared CountMode = iota
	// CountPatched writes a placeholder and rewrites the count field at
	// Finalize. The sink must be an io.WriteSeeker.
	CountPatched
)

type Option func(*Muxer)

// WithPatchedFrameCount selects CountPatched.
func WithPatchedFrameCount() Option {
	return func(m *Muxer) { m.mode = CountPatched }
}

// Muxer writes packets to an IVF stream in the order given. Nothing is
// buffered beyond the record being written, so every record that reached the
// sink before an error or an abandoned session is complete.
type Muxer struct {
	w      io.Writer
	header Header
	mode   CountMode
	count  uint32
	rec    [RecordHeaderSize]byte
	done   bool
}

// NewMuxer writes the file header to w.
func NewMuxer(w io.Writer, h Header, opts ...Option) (*Muxer, error) {
	m := &Muxer{w: w, header: h}
	for _, opt := range opts {
		opt(m)
	}
	if m.mode == CountPatched {
		if _, ok := w.(io.WriteSeeker); !ok {
			return nil, media.Unsupported("ivf muxer", "patched frame count needs a seekable sink")
		}
		m.header.FrameCount = 0
	}
	b, _ := m.header.MarshalBinary()
	if _, err := w.Write(b); err != nil {
		return nil, media.IOError("ivf header", err)
	}
	return m, nil
}

func (m *Muxer) Header() Header { return m.header }

// Count is the number of records written.
func (m *Muxer) Count() uint32 { return m.count }

// WritePacket writes one record. The payload is not retained.
func (m *Muxer) WritePacket(p *media.Packet) error {
	if m.done {
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: "ivf write"}
	}
	if p.PTS < 0 {
		return media.Unsupported("ivf write", fmt.Sprintf("negative timestamp %d", p.PTS))
	}
	if uint64(len(p.Payload)) > math.MaxUint32 {
		return &media.SizeLimitError{Op: "ivf write", Size: uint64(len(p.Payload)), Limit: math.MaxUint32}
	}
	if m.count == math.MaxUint32 {
		return &media.SizeLimitError{Op: "ivf frame count", Size: uint64(m.count) + 1, Limit: math.MaxUint32}
	}
	binary.LittleEndian.PutUint32(m.rec[0:], uint32(len(p.Payload)))
	binary.LittleEndian.PutUint64(m.rec[4:], uint64(p.PTS))
	if _, err := m.w.Write(m.rec[:]); err != nil {
		return media.IOError("ivf record header", err)
	}
	if _, err := m.w.Write(p.Payload); err != nil {
		return media.IOError("ivf record payload", err)
	}
	m.count++
	return nil
}

// Finalize settles the frame count and flushes the sink if it has a Flush
// method. The muxer cannot be used afterwards.
func (m *Muxer) Finalize() error {
	if m.done {
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: "ivf finalize"}
	}
	m.done = true
	switch m.mode {
	case CountDeclared:
		if m.count != m.header.FrameCount {
			return media.Malformed("ivf finalize", "header declares %d frames, wrote %d", m.header.FrameCount, m.count)
		}
	case CountPatched:
		if err := m.patchCount(); err != nil {
			return err
		}
		m.header.FrameCount = m.count
	}
	if f, ok := m.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return media.IOError("ivf flush", err)
		}
	}
	return nil
}

func (m *Muxer) patchCount() error {
	ws := m.w.(io.WriteSeeker)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], m.count)
	if wa, ok := ws.(io.WriterAt); ok {
		if _, err := wa.WriteAt(b[:], frameCountOffset); err != nil {
			return media.IOError("ivf patch count", err)
		}
		return nil
	}
	end, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return media.IOError("ivf patch count", err)
	}
	if _, err := ws.Seek(frameCountOffset, io.SeekStart); err != nil {
		return media.IOError("ivf patch count", err)
	}
	if _, err := ws.Write(b[:]); err != nil {
		return media.IOError("ivf patch count", err)
	}
	if _, err := ws.Seek(end, io.SeekStart); err != nil {
		return media.IOError("ivf patch count", err)
	}
	return nil
}
