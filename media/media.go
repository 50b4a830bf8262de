// Package media holds the data model shared by the container, codec and
// pipeline packages.
package media

import (
	"fmt"
	"time"
)

// TimeBase is the duration of one timestamp tick in seconds, Num/Den.
type TimeBase struct {
	Num uint32
	Den uint32
}

func (tb TimeBase) String() string { return fmt.Sprintf("%d/%d", tb.Num, tb.Den) }

// Valid reports whether both terms are non-zero.
func (tb TimeBase) Valid() bool { return tb.Num != 0 && tb.Den != 0 }

// Duration converts ticks to a time.Duration.
func (tb TimeBase) Duration(ticks int64) time.Duration {
	if !tb.Valid() {
		return 0
	}
	sec := ticks * int64(tb.Num) / int64(tb.Den)
	rem := ticks * int64(tb.Num) % int64(tb.Den)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(tb.Den)
}

type Codec int

const (
	CodecUnknown Codec = iota
	CodecAV1
	CodecH264
	CodecH265
	CodecVP8
	CodecVP9
	CodecAAC
	CodecOpus
	CodecRawVideo
)

func (c Codec) String() string {
	switch c {
	case CodecAV1:
		return "av1"
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecVP8:
		return "vp8"
	case CodecVP9:
		return "vp9"
	case CodecAAC:
		return "aac"
	case CodecOpus:
		return "opus"
	case CodecRawVideo:
		return "rawvideo"
	default:
		return "unknown"
	}
}

type TrackKind int

const (
	KindOther TrackKind = iota
	KindVideo
	KindAudio
)

func (k TrackKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return "other"
	}
}

// Track describes one elementary stream. It is built once while the
// container header is parsed and never changes afterwards.
type Track struct {
	ID          uint32
	Kind        TrackKind
	Codec       Codec
	FourCC      string // sample entry type as stored in the container
	TimeBase    TimeBase
	SampleCount uint32
	Duration    uint64 // in TimeBase ticks
	Width       uint16
	Height      uint16
	Channels    uint16
	SampleRate  uint32

	// NALLengthSize is the AVC/HEVC length prefix size in bytes, 0 otherwise.
	NALLengthSize int
}

// Packet is one undecoded access unit. The payload is owned by whoever holds
// the packet; stages hand it on rather than copying it.
type Packet struct {
	TrackID  uint32
	PTS      int64
	DTS      int64
	Payload  []byte
	Keyframe bool
}

func (p *Packet) String() string {
	return fmt.Sprintf("track=%d pts=%d dts=%d size=%d key=%t", p.TrackID, p.PTS, p.DTS, len(p.Payload), p.Keyframe)
}
