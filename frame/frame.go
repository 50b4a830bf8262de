// Package frame implements planar pictures in aligned, shared buffers.
//
// A *Frame is a handle. Clone returns another handle to the same planes and
// bumps the share count; Release drops a handle. Plane data may only be
// written through Mutate, which fails with media.ErrFrameShared unless the
// caller holds the only handle.
package frame

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mattetti/mead/media"
)

var ErrReleased = errors.New("frame: handle already released")

// Plane is one component of a picture. Width is the row length in bytes.
type Plane struct {
	data   []byte
	stride int
	width  int
	height int
}

func newPlane(width, height int) *Plane {
	stride := alignUp(width)
	return &Plane{data: Alloc(stride * height), stride: stride, width: width, height: height}
}

// Data returns the whole buffer, stride*height bytes. Callers outside Mutate
// must treat it as read-only.
func (p *Plane) Data() []byte { return p.data }

func (p *Plane) Stride() int { return p.stride }
func (p *Plane) Width() int  { return p.width }
func (p *Plane) Height() int { return p.height }

// Row returns the width visible bytes of row y.
func (p *Plane) Row(y int) []byte {
	start := y * p.stride
	return p.data[start : start+p.width : start+p.width]
}

type buffer struct {
	mu     sync.Mutex
	refs   int
	format PixelFormat
	width  int
	height int
	pts    int64
	planes []*Plane
}

type Frame struct {
	buf      *buffer
	released atomic.Bool
}

// New allocates a zeroed frame with planes laid out for format.
func New(width, height int, format PixelFormat) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, media.Unsupported("new frame", fmt.Sprintf("dimensions %dx%d", width, height))
	}
	if format.PlaneCount() == 0 {
		return nil, media.Unsupported("new frame", fmt.Sprintf("pixel format %v", format))
	}
	b := &buffer{refs: 1, format: format, width: width, height: height}
	for i := 0; i < format.PlaneCount(); i++ {
		b.planes = append(b.planes, newPlane(format.PlaneSize(i, width, height)))
	}
	return &Frame{buf: b}, nil
}

func (f *Frame) Width() int          { return f.buf.width }
func (f *Frame) Height() int         { return f.buf.height }
func (f *Frame) Format() PixelFormat { return f.buf.format }
func (f *Frame) NumPlanes() int      { return len(f.buf.planes) }

func (f *Frame) PTS() int64 {
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()
	return f.buf.pts
}

// Plane returns plane i for reading.
func (f *Frame) Plane(i int) *Plane { return f.buf.planes[i] }

// Refs returns the number of live handles to the frame's planes.
func (f *Frame) Refs() int {
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()
	return f.buf.refs
}

// Clone returns a new handle sharing the same planes. No bytes are copied.
func (f *Frame) Clone() *Frame {
	if f.released.Load() {
		panic(ErrReleased)
	}
	f.buf.mu.Lock()
	f.buf.refs++
	f.buf.mu.Unlock()
	return &Frame{buf: f.buf}
}

// Release drops this handle. Releasing twice is a no-op.
func (f *Frame) Release() {
	if f == nil || f.released.Swap(true) {
		return
	}
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()
	f.buf.refs--
	if f.buf.refs == 0 {
		f.buf.planes = nil
	}
}

// Mutate runs fn with write access to the planes. It fails with
// media.ErrFrameShared if any other handle to the frame is alive. Clone on
// another goroutine blocks until fn returns.
func (f *Frame) Mutate(fn func(planes []*Plane) error) error {
	if f.released.Load() {
		return ErrReleased
	}
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()
	if f.buf.refs != 1 {
		return &media.Error{Kind: media.ErrFrameShared, Op: "mutate", Detail: fmt.Sprintf("%d handles", f.buf.refs)}
	}
	return fn(f.buf.planes)
}

// Resize reallocates every plane for a width x height picture under the same
// rule as Mutate. Contents are discarded.
func (f *Frame) Resize(width, height int) error {
	if f.released.Load() {
		return ErrReleased
	}
	if width <= 0 || height <= 0 {
		return media.Unsupported("resize frame", fmt.Sprintf("dimensions %dx%d", width, height))
	}
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()
	if f.buf.refs != 1 {
		return &media.Error{Kind: media.ErrFrameShared, Op: "resize", Detail: fmt.Sprintf("%d handles", f.buf.refs)}
	}
	for i := range f.buf.planes {
		f.buf.planes[i] = newPlane(f.buf.format.PlaneSize(i, width, height))
	}
	f.buf.width, f.buf.height = width, height
	return nil
}

// SetPTS sets the presentation timestamp under the same rule as Mutate.
func (f *Frame) SetPTS(pts int64) error {
	if f.released.Load() {
		return ErrReleased
	}
	f.buf.mu.Lock()
	defer f.buf.mu.Unlock()
	if f.buf.refs != 1 {
		return &media.Error{Kind: media.ErrFrameShared, Op: "set pts", Detail: fmt.Sprintf("%d handles", f.buf.refs)}
	}
	f.buf.pts = pts
	return nil
}

// CopyFrom fills the frame from tightly packed planar bytes, plane after
// plane, as produced by AppendPacked.
func (f *Frame) CopyFrom(packed []byte) error {
	if want := f.Format().FrameSize(f.Width(), f.Height()); len(packed) != want {
		return media.Malformed("copy frame", "packed size %d, want %d", len(packed), want)
	}
	return f.Mutate(func(planes []*Plane) error {
		for _, p := range planes {
			for y := 0; y < p.height; y++ {
				packed = packed[copy(p.Row(y), packed):]
			}
		}
		return nil
	})
}

// AppendPacked appends the visible bytes of every plane, without stride
// padding, to dst.
func (f *Frame) AppendPacked(dst []byte) []byte {
	for _, p := range f.buf.planes {
		for y := 0; y < p.height; y++ {
			dst = append(dst, p.Row(y)...)
		}
	}
	return dst
}
