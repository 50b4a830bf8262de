package codec

import (
	"github.com/mattetti/mead/frame"
	"github.com/mattetti/mead/media"
)

// Encoder adapts an EncoderEngine to the send/receive protocol. It is not
// safe for concurrent use; one goroutine drives a session.
type Encoder struct {
	s    session[*frame.Frame, *EncodedUnit]
	info StreamInfo
}

// WrapEncoder returns an Encoder driving e.
func WrapEncoder(e EncoderEngine) *Encoder {
	return &Encoder{
		s: session[*frame.Frame, *EncodedUnit]{
			op:      "encode",
			engine:  e,
			discard: (*frame.Frame).Release,
		},
		info: e.Info(),
	}
}

func (e *Encoder) Info() StreamInfo { return e.info }

func (e *Encoder) State() State { return e.s.state }

// SendFrame queues f for the engine and takes ownership of the handle; Clone
// it first to keep using the frame. A nil frame ends the stream. Any call
// after the end of the stream fails with media.ErrAlreadyFinished and leaves
// the frame with the caller.
func (e *Encoder) SendFrame(f *frame.Frame) error {
	return e.s.send(f)
}

// ReceivePacket returns the next packet in the engine's output order, or nil
// when nothing is ready yet. Once the engine is drained it keeps returning
// nil.
func (e *Encoder) ReceivePacket() (*media.Packet, error) {
	u, err := e.s.receive()
	if err != nil || u == nil {
		return nil, err
	}
	return unitPacket(u), nil
}

// Finish ends the stream and returns every packet the engine still holds.
func (e *Encoder) Finish() ([]*media.Packet, error) {
	units, err := e.s.finish()
	pkts := make([]*media.Packet, len(units))
	for i, u := range units {
		pkts[i] = unitPacket(u)
	}
	return pkts, err
}

// Close releases queued frames and the engine.
func (e *Encoder) Close() error { return e.s.close() }

// Counts returns how many frames were sent and packets received.
func (e *Encoder) Counts() (sent, received int) { return e.s.sent, e.s.received }

func unitPacket(u *EncodedUnit) *media.Packet {
	return &media.Packet{PTS: u.PTS, DTS: u.DTS, Payload: u.Payload, Keyframe: u.Keyframe}
}
