package frame

import (
	"fmt"
	"strings"
)

type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	YUV420P
	YUV422P
	YUV444P
	RGB24
)

func (f PixelFormat) String() string {
	switch f {
	case YUV420P:
		return "yuv420p"
	case YUV422P:
		return "yuv422p"
	case YUV444P:
		return "yuv444p"
	case RGB24:
		return "rgb24"
	default:
		return "unknown"
	}
}

// ParsePixelFormat accepts the names returned by String.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for _, f := range []PixelFormat{YUV420P, YUV422P, YUV444P, RGB24} {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

func (f PixelFormat) PlaneCount() int {
	switch f {
	case YUV420P, YUV422P, YUV444P:
		return 3
	case RGB24:
		return 1
	default:
		return 0
	}
}

// subsampling returns the horizontal and vertical chroma shift.
func (f PixelFormat) subsampling() (x, y uint) {
	switch f {
	case YUV420P:
		return 1, 1
	case YUV422P:
		return 1, 0
	default:
		return 0, 0
	}
}

// PlaneSize returns the row length in bytes and the row count of plane i for a
// width x height picture. Subsampled dimensions round up.
func (f PixelFormat) PlaneSize(i, width, height int) (rowBytes, rows int) {
	if i < 0 || i >= f.PlaneCount() {
		return 0, 0
	}
	if f == RGB24 {
		return width * 3, height
	}
	if i == 0 {
		return width, height
	}
	sx, sy := f.subsampling()
	return (width + (1 << sx) - 1) >> sx, (height + (1 << sy) - 1) >> sy
}

// FrameSize is the number of bytes of a tightly packed picture.
func (f PixelFormat) FrameSize(width, height int) int {
	n := 0
	for i := 0; i < f.PlaneCount(); i++ {
		w, h := f.PlaneSize(i, width, height)
		n += w * h
	}
	return n
}

// PackedSize is FrameSize computed in 64 bits, for dimensions read from
// untrusted headers.
func (f PixelFormat) PackedSize(width, height int) uint64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	var n uint64
	for i := 0; i < f.PlaneCount(); i++ {
		w, h := f.PlaneSize(i, width, height)
		n += uint64(w) * uint64(h)
	}
	return n
}
