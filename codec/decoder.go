package codec

import (
	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/media"
)

// Decoder adapts a DecoderEngine to the send/receive protocol.
type Decoder struct {
	s session[*media.Packet, *frame.Frame]
}

func WrapDecoder(d DecoderEngine) *Decoder {
	return &Decoder{
		s: session[*media.Packet, *frame.Frame]{
			op:     "decode",
			engine: d,
			drop:   (*frame.Frame).Release,
		},
	}
}

func (d *Decoder) State() State { return d.s.state }

// SendPacket queues p. A nil packet ends the stream.
func (d *Decoder) SendPacket(p *media.Packet) error { return d.s.send(p) }

// ReceiveFrame returns the next decoded frame, or nil when none is ready. The
// caller owns the returned handle.
func (d *Decoder) ReceiveFrame() (*frame.Frame, error) { return d.s.receive() }

// Finish ends the stream and returns the remaining frames.
func (d *Decoder) Finish() ([]*frame.Frame, error) { return d.s.finish() }

func (d *Decoder) Close() error { return d.s.close() }

func (d *Decoder) Counts() (sent, received int) { return d.s.sent, d.s.received }
