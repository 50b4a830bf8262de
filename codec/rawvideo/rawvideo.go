// Package rawvideo is an engine pair that stores pictures uncompressed: each
// packet is the tightly packed planes of one frame.
//
// The encoder holds up to Lookahead frames before emitting, so it exercises
// the same buffering a real encoder does. Importing the package registers both
// engines under the name "rawvideo".
package rawvideo

import (
	"errors"
	"fmt"

	"github.com/mattetti/mead/codec"
	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/media"
)

const Name = "rawvideo"

var errClosed = errors.New("rawvideo: engine closed")

func init() {
	codec.RegisterEncoder(Name, func(p codec.EncoderParams) (codec.EncoderEngine, error) { return NewEncoder(p) })
	codec.RegisterDecoder(Name, func(p codec.DecoderParams) (codec.DecoderEngine, error) { return NewDecoder(p) },
		"I420", "I422", "I444", "RV24")
}

// FourCC returns the raw picture tag for a pixel format.
func FourCC(f frame.PixelFormat) ([4]byte, error) {
	var tag string
	switch f {
	case frame.YUV420P:
		tag = "I420"
	case frame.YUV422P:
		tag = "I422"
	case frame.YUV444P:
		tag = "I444"
	case frame.RGB24:
		tag = "RV24"
	default:
		return [4]byte{}, media.Unsupported("rawvideo fourcc", f.String())
	}
	var b [4]byte
	copy(b[:], tag)
	return b, nil
}

// FormatOf maps a raw picture tag back to its pixel format.
func FormatOf(fourcc [4]byte) frame.PixelFormat {
	switch string(fourcc[:]) {
	case "I420":
		return frame.YUV420P
	case "I422":
		return frame.YUV422P
	case "I444":
		return frame.YUV444P
	case "RV24":
		return frame.RGB24
	}
	return frame.FormatUnknown
}

type Encoder struct {
	params    codec.EncoderParams
	info      codec.StreamInfo
	frameSize int
	queue     []*frame.Frame
	out       []*codec.EncodedUnit
	n         int
	eos       bool
	closed    bool
}

func NewEncoder(p codec.EncoderParams) (*Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.BitDepth != 8 {
		return nil, media.Unsupported("rawvideo encoder", fmt.Sprintf("bit depth %d", p.BitDepth))
	}
	tag, err := FourCC(p.Format)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		params:    p,
		info:      codec.StreamInfo{Codec: media.CodecRawVideo, FourCC: tag},
		frameSize: p.Format.FrameSize(p.Width, p.Height),
	}, nil
}

func (e *Encoder) Info() codec.StreamInfo { return e.info }

// Push queues f. It returns codec.ErrAgain while an encoded unit is waiting
// to be pulled.
func (e *Encoder) Push(f *frame.Frame) error {
	switch {
	case e.closed:
		return errClosed
	case e.eos:
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: "rawvideo push"}
	case f == nil:
		e.eos = true
		return nil
	case len(e.out) > 0:
		return codec.ErrAgain
	}
	if f.Width() != e.params.Width || f.Height() != e.params.Height || f.Format() != e.params.Format {
		return media.Unsupported("rawvideo push", fmt.Sprintf("frame %dx%d %v, configured for %dx%d %v",
			f.Width(), f.Height(), f.Format(), e.params.Width, e.params.Height, e.params.Format))
	}
	e.queue = append(e.queue, f)
	if len(e.queue) > e.params.Lookahead {
		e.encodeOldest()
	}
	return nil
}

func (e *Encoder) encodeOldest() {
	f := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]

	key := e.params.KeyframeInterval <= 1 || e.n%e.params.KeyframeInterval == 0
	pts := f.PTS()
	e.out = append(e.out, &codec.EncodedUnit{
		Payload:  f.AppendPacked(make([]byte, 0, e.frameSize)),
		PTS:      pts,
		DTS:      pts,
		Keyframe: key,
	})
	f.Release()
	e.n++
}

// Pull returns the oldest encoded unit. After the end of the stream it encodes
// the held frames one per call.
func (e *Encoder) Pull() (*codec.EncodedUnit, error) {
	if e.closed {
		return nil, errClosed
	}
	if len(e.out) == 0 && e.eos && len(e.queue) > 0 {
		e.encodeOldest()
	}
	if len(e.out) == 0 {
		return nil, nil
	}
	u := e.out[0]
	e.out[0] = nil
	e.out = e.out[1:]
	return u, nil
}

func (e *Encoder) Drained() bool {
	return e.eos && len(e.queue) == 0 && len(e.out) == 0
}

// Held is the number of frames waiting in the lookahead window.
func (e *Encoder) Held() int { return len(e.queue) }

func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	for _, f := range e.queue {
		f.Release()
	}
	e.queue = nil
	e.out = nil
	return nil
}

type Decoder struct {
	width  int
	height int
	format frame.PixelFormat
	out    []*frame.Frame
	eos    bool
	closed bool
}

// NewDecoder needs the picture size. The pixel format comes from p.Format or,
// when unset, from p.FourCC.
func NewDecoder(p codec.DecoderParams) (*Decoder, error) {
	format := p.Format
	if format == frame.FormatUnknown {
		format = FormatOf(p.FourCC)
	}
	if format == frame.FormatUnknown {
		return nil, media.Unsupported("rawvideo decoder", fmt.Sprintf("fourcc %q", p.FourCC[:]))
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, media.Unsupported("rawvideo decoder", fmt.Sprintf("dimensions %dx%d", p.Width, p.Height))
	}
	return &Decoder{width: p.Width, height: p.Height, format: format}, nil
}

func (d *Decoder) Push(p *media.Packet) error {
	switch {
	case d.closed:
		return errClosed
	case d.eos:
		return &media.Error{Kind: media.ErrAlreadyFinished, Op: "rawvideo push"}
	case p == nil:
		d.eos = true
		return nil
	case len(d.out) > 0:
		return codec.ErrAgain
	}
	if want := d.format.PackedSize(d.width, d.height); uint64(len(p.Payload)) != want {
		return media.Malformed("rawvideo push", "payload of %d bytes, picture needs %d", len(p.Payload), want)
	}
	f, err := frame.New(d.width, d.height, d.format)
	if err != nil {
		return err
	}
	if err := f.CopyFrom(p.Payload); err != nil {
		f.Release()
		return err
	}
	if err := f.SetPTS(p.PTS); err != nil {
		f.Release()
		return err
	}
	d.out = append(d.out, f)
	return nil
}

func (d *Decoder) Pull() (*frame.Frame, error) {
	if d.closed {
		return nil, errClosed
	}
	if len(d.out) == 0 {
		return nil, nil
	}
	f := d.out[0]
	d.out[0] = nil
	d.out = d.out[1:]
	return f, nil
}

func (d *Decoder) Drained() bool { return d.eos && len(d.out) == 0 }

func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	for _, f := range d.out {
		f.Release()
	}
	d.out = nil
	return nil
}
