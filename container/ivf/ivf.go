// Package ivf reads and writes IVF files.
//
// Layout, all integers little-endian:
//
//	0  "DKIF"
//	4  version u16 (0)
//	6  header length u16 (32)
//	8  fourcc
//	12 width u16, height u16
//	16 timebase denominator u32, timebase numerator u32
//	24 frame count u32
//	28 unused u32
//
// followed by records of a 12-byte header (payload size u32, pts u64) and
// the payload.
package ivf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mattetti/mead/media"
)

const (
	Signature        = "DKIF"
	Version          = 0
	HeaderSize       = 32
	RecordHeaderSize = 12

	frameCountOffset = 24
)

var ErrBadSignature = errors.New("ivf: bad signature")

type Header struct {
	FourCC     [4]byte
	Width      uint16
	Height     uint16
	TimeBase   media.TimeBase
	FrameCount uint32
}

func (h Header) String() string {
	return fmt.Sprintf("%s %dx%d tb=%v frames=%d", h.FourCC[:], h.Width, h.Height, h.TimeBase, h.FrameCount)
}

// MarshalBinary returns the 32-byte file header.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	copy(b[0:4], Signature)
	binary.LittleEndian.PutUint16(b[4:], Version)
	binary.LittleEndian.PutUint16(b[6:], HeaderSize)
	copy(b[8:12], h.FourCC[:])
	binary.LittleEndian.PutUint16(b[12:], h.Width)
	binary.LittleEndian.PutUint16(b[14:], h.Height)
	binary.LittleEndian.PutUint32(b[16:], h.TimeBase.Den)
	binary.LittleEndian.PutUint32(b[20:], h.TimeBase.Num)
	binary.LittleEndian.PutUint32(b[frameCountOffset:], h.FrameCount)
	return b, nil
}

func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return media.Malformed("ivf header", "%d bytes", len(b))
	}
	if string(b[0:4]) != Signature {
		return &media.Error{Kind: media.ErrMalformedContainer, Op: "ivf header", Err: ErrBadSignature}
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != Version {
		return media.Unsupported("ivf header", fmt.Sprintf("version %d", v))
	}
	if n := binary.LittleEndian.Uint16(b[6:]); n < HeaderSize {
		return media.Malformed("ivf header", "header length %d", n)
	}
	copy(h.FourCC[:], b[8:12])
	h.Width = binary.LittleEndian.Uint16(b[12:])
	h.Height = binary.LittleEndian.Uint16(b[14:])
	h.TimeBase.Den = binary.LittleEndian.Uint32(b[16:])
	h.TimeBase.Num = binary.LittleEndian.Uint32(b[20:])
	h.FrameCount = binary.LittleEndian.Uint32(b[frameCountOffset:])
	return nil
}

// FourCC returns the IVF codec tag for c.
func FourCC(c media.Codec) ([4]byte, error) {
	var tag string
	switch c {
	case media.CodecAV1:
		tag = "AV01"
	case media.CodecVP8:
		tag = "VP80"
	case media.CodecVP9:
		tag = "VP90"
	case media.CodecH264:
		tag = "H264"
	case media.CodecH265:
		tag = "H265"
	default:
		return [4]byte{}, media.Unsupported("ivf fourcc", c.String())
	}
	var b [4]byte
	copy(b[:], tag)
	return b, nil
}

// CodecOf maps an IVF codec tag back to a codec.
func CodecOf(fourCC [4]byte) media.Codec {
	switch string(fourCC[:]) {
	case "AV01":
		return media.CodecAV1
	case "VP80":
		return media.CodecVP8
	case "VP90":
		return media.CodecVP9
	case "H264":
		return media.CodecH264
	case "H265":
		return media.CodecH265
	case "I420", "I422", "I444", "RV24":
		return media.CodecRawVideo
	default:
		return media.CodecUnknown
	}
}
