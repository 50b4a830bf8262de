// Package codec drives encode and decode engines through a send/receive
// protocol.
//
// An engine may hold several inputs before it emits anything (encoder
// lookahead, decoder reordering). Encoder and Decoder keep a queue of input
// the engine has not accepted yet and a queue of output pulled from it, and
// expose them through SendFrame/ReceivePacket and SendPacket/ReceiveFrame.
// Sending nil ends the stream; Finish drains whatever the engine still holds.
package codec

import (
	"errors"
	"fmt"

	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/media"
)

// ErrAgain is returned by an engine's Push when it will not take more input
// until some output has been pulled.
var ErrAgain = errors.New("codec: drain output before pushing more input")

// EncodedUnit is one opaque access unit produced by an encoder engine.
type EncodedUnit struct {
	Payload  []byte
	PTS      int64
	DTS      int64
	Keyframe bool
}

// StreamInfo describes the bitstream an encoder engine produces.
type StreamInfo struct {
	Codec  media.Codec
	FourCC [4]byte
}

// EncoderEngine is the capability consumed from an encoder. Push takes
// ownership of the frame handle; nil marks the end of the stream. Pull returns
// nil when nothing is ready. Drained reports that the end of the stream was
// pushed and every unit has been pulled.
type EncoderEngine interface {
	Push(f *frame.Frame) error
	Pull() (*EncodedUnit, error)
	Drained() bool
	Info() StreamInfo
	Close() error
}

// DecoderEngine is the decoding counterpart of EncoderEngine.
type DecoderEngine interface {
	Push(p *media.Packet) error
	Pull() (*frame.Frame, error)
	Drained() bool
	Close() error
}

// Waiter is implemented by engines that keep working on their own after
// accepting input, such as engines with worker goroutines. When Pull comes
// back empty while the engine still holds work, the session calls Wait, which
// blocks until a Pull may return output. An error from Wait ends the session.
type Waiter interface {
	Wait() error
}

// MaxIdlePulls is how many empty pulls in a row a session accepts from an
// engine that still holds work and is not a Waiter.
const MaxIdlePulls = 1024

const (
	MaxLookahead    = 64
	DefaultBitDepth = 8
)

// EncoderParams configures an encoder engine.
type EncoderParams struct {
	Width    int
	Height   int
	Format   frame.PixelFormat
	TimeBase media.TimeBase
	// KeyframeInterval is the distance between forced keyframes. 0 leaves it
	// to the engine.
	KeyframeInterval int
	// Lookahead is the number of frames the engine may hold before emitting.
	Lookahead int
	BitDepth  int
}

// Validate checks p and fills in the bit depth when unset.
func (p *EncoderParams) Validate() error {
	if p.BitDepth == 0 {
		p.BitDepth = DefaultBitDepth
	}
	switch {
	case p.Width <= 0 || p.Height <= 0:
		return invalid("dimensions %dx%d", p.Width, p.Height)
	case p.Width > 0xFFFF || p.Height > 0xFFFF:
		return invalid("dimensions %dx%d exceed 65535", p.Width, p.Height)
	case p.Format.PlaneCount() == 0:
		return invalid("pixel format %v", p.Format)
	case p.BitDepth != 8 && p.BitDepth != 10:
		return invalid("bit depth %d", p.BitDepth)
	case p.Lookahead < 0 || p.Lookahead > MaxLookahead:
		return invalid("lookahead %d, want 0..%d", p.Lookahead, MaxLookahead)
	case p.KeyframeInterval < 0:
		return invalid("keyframe interval %d", p.KeyframeInterval)
	case !p.TimeBase.Valid():
		return invalid("time base %v", p.TimeBase)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return media.Unsupported("encoder params", fmt.Sprintf(format, args...))
}

// DecoderParams configures a decoder engine. Engines that need the picture
// geometry up front read it from here.
type DecoderParams struct {
	Width  int
	Height int
	Format frame.PixelFormat
	FourCC [4]byte
}
